package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

const (
	attrOwner = "owner_id"
	attrSort  = "sort_key"

	dynamoPingTimeout = 30 * time.Second
)

var _ Store = (*DynamoStore)(nil)

// DynamoConfig — настройки бэкенда DynamoDB.
type DynamoConfig struct {
	Region          string `mapstructure:"Region"`
	Endpoint        string `mapstructure:"Endpoint"`
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	Table           string `mapstructure:"Table"`
}

// DynamoStore — бэкенд Store поверх DynamoDB: единая таблица с ключом
// (owner_id, sort_key), условные записи и TransactWriteItems.
type DynamoStore struct {
	client *dynamodb.Client
	table  string
}

// NewDynamoStore создает клиента DynamoDB и проверяет доступность таблицы.
func NewDynamoStore(conf *DynamoConfig) (*DynamoStore, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if conf.Table == "" {
		return nil, fmt.Errorf("table name is required")
	}

	opts := dynamodb.Options{
		Region:           conf.Region,
		RetryMode:        aws.RetryModeAdaptive,
		RetryMaxAttempts: 3,
	}
	if conf.AccessKeyID != "" && conf.SecretAccessKey != "" {
		opts.Credentials = aws.NewCredentialsCache(credentials.NewStaticCredentialsProvider(
			conf.AccessKeyID,
			conf.SecretAccessKey,
			"",
		))
	}
	if conf.Endpoint != "" {
		opts.BaseEndpoint = aws.String(conf.Endpoint)
	}

	client := dynamodb.New(opts)

	// Проверяем доступность таблицы перед стартом.
	ctx, cancel := context.WithTimeout(context.Background(), dynamoPingTimeout)
	defer cancel()

	_, err := client.DescribeTable(ctx, &dynamodb.DescribeTableInput{
		TableName: aws.String(conf.Table),
	})
	if err != nil {
		return nil, fmt.Errorf("unable to access table %s: %w", conf.Table, err)
	}

	return &DynamoStore{client: client, table: conf.Table}, nil
}

func keyAttributes(key Key) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrOwner: &types.AttributeValueMemberS{Value: key.Owner},
		attrSort:  &types.AttributeValueMemberS{Value: key.Sort},
	}
}

func (s *DynamoStore) Get(ctx context.Context, key Key) (Attrs, error) {
	res, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(s.table),
		Key:            keyAttributes(key),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get item: %w", err)
	}
	if res.Item == nil {
		return nil, ErrNotFound
	}

	var attrs map[string]any
	if err := attributevalue.UnmarshalMap(res.Item, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode item attrs: %w", err)
	}
	delete(attrs, attrOwner)
	delete(attrs, attrSort)
	return Attrs(attrs), nil
}

func (s *DynamoStore) Query(ctx context.Context, owner, sortPrefix string) ([]Record, error) {
	var records []Record
	var startKey map[string]types.AttributeValue

	for {
		res, err := s.client.Query(ctx, &dynamodb.QueryInput{
			TableName:              aws.String(s.table),
			KeyConditionExpression: aws.String("#o = :o AND begins_with(#s, :p)"),
			ExpressionAttributeNames: map[string]string{
				"#o": attrOwner,
				"#s": attrSort,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":o": &types.AttributeValueMemberS{Value: owner},
				":p": &types.AttributeValueMemberS{Value: sortPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to query items: %w", err)
		}

		for _, item := range res.Items {
			var attrs map[string]any
			if err := attributevalue.UnmarshalMap(item, &attrs); err != nil {
				return nil, fmt.Errorf("failed to decode item attrs: %w", err)
			}
			sortKey, _ := attrs[attrSort].(string)
			delete(attrs, attrOwner)
			delete(attrs, attrSort)
			records = append(records, Record{
				Key:   Key{Owner: owner, Sort: sortKey},
				Attrs: Attrs(attrs),
			})
		}

		if res.LastEvaluatedKey == nil {
			break
		}
		startKey = res.LastEvaluatedKey
	}
	return records, nil
}

func (s *DynamoStore) Scan(ctx context.Context, sortPrefix string) ([]Record, error) {
	var records []Record
	var startKey map[string]types.AttributeValue

	for {
		res, err := s.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:        aws.String(s.table),
			FilterExpression: aws.String("begins_with(#s, :p)"),
			ExpressionAttributeNames: map[string]string{
				"#s": attrSort,
			},
			ExpressionAttributeValues: map[string]types.AttributeValue{
				":p": &types.AttributeValueMemberS{Value: sortPrefix},
			},
			ExclusiveStartKey: startKey,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to scan items: %w", err)
		}

		for _, item := range res.Items {
			var attrs map[string]any
			if err := attributevalue.UnmarshalMap(item, &attrs); err != nil {
				return nil, fmt.Errorf("failed to decode item attrs: %w", err)
			}
			owner, _ := attrs[attrOwner].(string)
			sortKey, _ := attrs[attrSort].(string)
			delete(attrs, attrOwner)
			delete(attrs, attrSort)
			records = append(records, Record{
				Key:   Key{Owner: owner, Sort: sortKey},
				Attrs: Attrs(attrs),
			})
		}

		if res.LastEvaluatedKey == nil {
			break
		}
		startKey = res.LastEvaluatedKey
	}
	return records, nil
}

func (s *DynamoStore) Apply(ctx context.Context, op Op) error {
	var err error
	switch {
	case op.Insert != nil:
		err = s.applyInsert(ctx, op.Insert)
	case op.Update != nil:
		err = s.applyUpdateOp(ctx, op.Update)
	case op.Delete != nil:
		err = s.applyDelete(ctx, op.Delete)
	}

	var condFailed *types.ConditionalCheckFailedException
	if errors.As(err, &condFailed) {
		return ErrConditionFailed
	}
	return err
}

func (s *DynamoStore) applyInsert(ctx context.Context, op *InsertOp) error {
	item, cond, err := s.buildPut(op)
	if err != nil {
		return err
	}
	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(s.table),
		Item:                item,
		ConditionExpression: cond,
	})
	if err != nil {
		return fmt.Errorf("failed to put item: %w", err)
	}
	return nil
}

func (s *DynamoStore) applyUpdateOp(ctx context.Context, op *UpdateOp) error {
	expr, err := buildUpdateExpression(op)
	if err != nil {
		return err
	}
	_, err = s.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName:                 aws.String(s.table),
		Key:                       keyAttributes(op.Key),
		UpdateExpression:          aws.String(expr.update),
		ConditionExpression:       aws.String(expr.condition),
		ExpressionAttributeNames:  expr.names,
		ExpressionAttributeValues: expr.values,
	})
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

func (s *DynamoStore) applyDelete(ctx context.Context, op *DeleteOp) error {
	input := &dynamodb.DeleteItemInput{
		TableName: aws.String(s.table),
		Key:       keyAttributes(op.Key),
	}
	if op.MustExist {
		input.ConditionExpression = aws.String("attribute_exists(sort_key)")
	}
	_, err := s.client.DeleteItem(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return nil
}

func (s *DynamoStore) Transact(ctx context.Context, ops ...Op) error {
	items := make([]types.TransactWriteItem, 0, len(ops))

	for _, op := range ops {
		switch {
		case op.Insert != nil:
			item, cond, err := s.buildPut(op.Insert)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{
				Put: &types.Put{
					TableName:           aws.String(s.table),
					Item:                item,
					ConditionExpression: cond,
				},
			})
		case op.Update != nil:
			expr, err := buildUpdateExpression(op.Update)
			if err != nil {
				return err
			}
			items = append(items, types.TransactWriteItem{
				Update: &types.Update{
					TableName:                 aws.String(s.table),
					Key:                       keyAttributes(op.Update.Key),
					UpdateExpression:          aws.String(expr.update),
					ConditionExpression:       aws.String(expr.condition),
					ExpressionAttributeNames:  expr.names,
					ExpressionAttributeValues: expr.values,
				},
			})
		case op.Delete != nil:
			del := &types.Delete{
				TableName: aws.String(s.table),
				Key:       keyAttributes(op.Delete.Key),
			}
			if op.Delete.MustExist {
				del.ConditionExpression = aws.String("attribute_exists(sort_key)")
			}
			items = append(items, types.TransactWriteItem{Delete: del})
		}
	}

	_, err := s.client.TransactWriteItems(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: items,
	})
	if err != nil {
		var canceled *types.TransactionCanceledException
		if errors.As(err, &canceled) {
			return ErrTransactionCanceled
		}
		return fmt.Errorf("failed to execute transaction: %w", err)
	}
	return nil
}

func (s *DynamoStore) buildPut(op *InsertOp) (map[string]types.AttributeValue, *string, error) {
	item, err := attributevalue.MarshalMap(map[string]any(op.Attrs))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode item attrs: %w", err)
	}
	item[attrOwner] = &types.AttributeValueMemberS{Value: op.Key.Owner}
	item[attrSort] = &types.AttributeValueMemberS{Value: op.Key.Sort}

	var cond *string
	if op.IfAbsent {
		cond = aws.String("attribute_not_exists(sort_key)")
	}
	return item, cond, nil
}

type updateExpression struct {
	update    string
	condition string
	names     map[string]string
	values    map[string]types.AttributeValue
}

// buildUpdateExpression собирает UpdateExpression и ConditionExpression
// из типизированной операции: SET/ADD из Set/Add, предусловия из Equals/AtLeast.
func buildUpdateExpression(op *UpdateOp) (*updateExpression, error) {
	expr := &updateExpression{
		names:  map[string]string{"#sk": attrSort},
		values: map[string]types.AttributeValue{},
	}
	conds := []string{"attribute_exists(#sk)"}
	n := 0

	name := func(attr string) string {
		alias := fmt.Sprintf("#n%d", n)
		n++
		expr.names[alias] = attr
		return alias
	}

	var setParts []string
	for attr, value := range op.Set {
		av, err := attributevalue.Marshal(value)
		if err != nil {
			return nil, fmt.Errorf("failed to encode attr %s: %w", attr, err)
		}
		alias := name(attr)
		placeholder := fmt.Sprintf(":s%d", len(setParts))
		expr.values[placeholder] = av
		setParts = append(setParts, fmt.Sprintf("%s = %s", alias, placeholder))
	}

	var addParts []string
	for attr, delta := range op.Add {
		alias := name(attr)
		placeholder := fmt.Sprintf(":a%d", len(addParts))
		expr.values[placeholder] = &types.AttributeValueMemberN{Value: strconv.FormatInt(delta, 10)}
		addParts = append(addParts, fmt.Sprintf("%s %s", alias, placeholder))
	}

	for attr, want := range op.Equals {
		alias := name(attr)
		placeholder := fmt.Sprintf(":e%d", len(expr.values))
		expr.values[placeholder] = &types.AttributeValueMemberN{Value: strconv.FormatInt(want, 10)}
		conds = append(conds, fmt.Sprintf("%s = %s", alias, placeholder))
	}
	for attr, min := range op.AtLeast {
		alias := name(attr)
		placeholder := fmt.Sprintf(":l%d", len(expr.values))
		expr.values[placeholder] = &types.AttributeValueMemberN{Value: strconv.FormatInt(min, 10)}
		conds = append(conds, fmt.Sprintf("%s >= %s", alias, placeholder))
	}

	var parts []string
	if len(setParts) > 0 {
		parts = append(parts, "SET "+strings.Join(setParts, ", "))
	}
	if len(addParts) > 0 {
		parts = append(parts, "ADD "+strings.Join(addParts, ", "))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("update operation has no changes")
	}

	expr.update = strings.Join(parts, " ")
	expr.condition = strings.Join(conds, " AND ")
	return expr, nil
}
