package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"
	"github.com/spf13/viper"
)

var _ Queue = (*SQSQueue)(nil)

// Config — настройки очереди SQS.
type Config struct {
	AccessKeyID     string `mapstructure:"AccessKeyID"`
	SecretAccessKey string `mapstructure:"SecretAccessKey"`
	Region          string `mapstructure:"Region"`
	Endpoint        string `mapstructure:"Endpoint"`
	QueueURL        string `mapstructure:"QueueURL"`
}

func NewConfig(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)

	v.BindEnv("AccessKeyID", "SQS_ACCESS_KEY_ID")
	v.BindEnv("SecretAccessKey", "SQS_SECRET_ACCESS_KEY")
	v.BindEnv("Region", "SQS_REGION")
	v.BindEnv("Endpoint", "SQS_ENDPOINT")
	v.BindEnv("QueueURL", "SQS_QUEUE_URL")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("Warning: using only environment variables: %v\n", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("cannot unmarshal config: %w", err)
	}

	if cfg.QueueURL == "" {
		return nil, fmt.Errorf("QueueURL is required")
	}
	if cfg.Region == "" {
		cfg.Region = "ap-southeast-2"
	}

	return &cfg, nil
}

// SQSQueue — реализация Queue поверх AWS SQS.
type SQSQueue struct {
	client   *sqs.Client
	queueURL string
}

// NewSQSQueue создает клиента SQS.
func NewSQSQueue(conf *Config) (*SQSQueue, error) {
	if conf == nil {
		return nil, fmt.Errorf("configuration is required")
	}
	if conf.QueueURL == "" {
		return nil, fmt.Errorf("queue URL is required")
	}

	opts := sqs.Options{
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

	return &SQSQueue{
		client:   sqs.New(opts),
		queueURL: conf.QueueURL,
	}, nil
}

func (q *SQSQueue) Enqueue(ctx context.Context, task DeleteTask) error {
	body, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to encode delete task: %w", err)
	}

	_, err = q.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(q.queueURL),
		MessageBody: aws.String(string(body)),
	})
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	return nil
}

func (q *SQSQueue) EnqueueBatch(ctx context.Context, tasks []DeleteTask) error {
	for start := 0; start < len(tasks); start += batchChunkSize {
		end := start + batchChunkSize
		if end > len(tasks) {
			end = len(tasks)
		}

		entries := make([]types.SendMessageBatchRequestEntry, 0, end-start)
		for i, task := range tasks[start:end] {
			body, err := json.Marshal(task)
			if err != nil {
				return fmt.Errorf("failed to encode delete task: %w", err)
			}
			entries = append(entries, types.SendMessageBatchRequestEntry{
				Id:          aws.String(fmt.Sprintf("%d", start+i)),
				MessageBody: aws.String(string(body)),
			})
		}

		_, err := q.client.SendMessageBatch(ctx, &sqs.SendMessageBatchInput{
			QueueUrl: aws.String(q.queueURL),
			Entries:  entries,
		})
		if err != nil {
			return fmt.Errorf("failed to send message batch: %w", err)
		}
	}
	return nil
}

func (q *SQSQueue) Receive(ctx context.Context, max int32, wait time.Duration) ([]Message, error) {
	res, err := q.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(q.queueURL),
		MaxNumberOfMessages: max,
		WaitTimeSeconds:     int32(wait / time.Second),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to receive messages: %w", err)
	}

	messages := make([]Message, 0, len(res.Messages))
	for _, m := range res.Messages {
		var task DeleteTask
		if m.Body == nil || json.Unmarshal([]byte(*m.Body), &task) != nil {
			// Нечитаемое сообщение подтверждаем сразу, чтобы не зациклиться.
			if m.ReceiptHandle != nil {
				_ = q.Delete(ctx, *m.ReceiptHandle)
			}
			continue
		}
		handle := ""
		if m.ReceiptHandle != nil {
			handle = *m.ReceiptHandle
		}
		messages = append(messages, Message{Handle: handle, Task: task})
	}
	return messages, nil
}

func (q *SQSQueue) Delete(ctx context.Context, handle string) error {
	_, err := q.client.DeleteMessage(ctx, &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(q.queueURL),
		ReceiptHandle: aws.String(handle),
	})
	if err != nil {
		return fmt.Errorf("failed to delete message: %w", err)
	}
	return nil
}
