package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/jmoiron/sqlx"
)

var _ Store = (*PostgresStore)(nil)

// PostgresStore — бэкенд Store поверх PostgreSQL: единая таблица
// ledger_items с jsonb-атрибутами. Предусловия проверяются внутри
// SQL-транзакции под блокировкой строки (SELECT ... FOR UPDATE), поэтому
// семантика совпадает с условными записями DynamoDB.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore создает бэкенд поверх готового подключения.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Get(ctx context.Context, key Key) (Attrs, error) {
	var raw []byte
	err := s.db.GetContext(ctx, &raw,
		`SELECT attrs FROM ledger_items WHERE owner_id = $1 AND sort_key = $2`,
		key.Owner, key.Sort)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get item: %w", err)
	}

	var attrs Attrs
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return nil, fmt.Errorf("failed to decode item attrs: %w", err)
	}
	return attrs, nil
}

func (s *PostgresStore) Query(ctx context.Context, owner, sortPrefix string) ([]Record, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT sort_key, attrs FROM ledger_items
         WHERE owner_id = $1 AND sort_key LIKE $2 || '%'
         ORDER BY sort_key`,
		owner, sortPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to query items: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var sortKey string
		var raw []byte
		if err := rows.Scan(&sortKey, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		var attrs Attrs
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, fmt.Errorf("failed to decode item attrs: %w", err)
		}
		records = append(records, Record{
			Key:   Key{Owner: owner, Sort: sortKey},
			Attrs: attrs,
		})
	}
	return records, rows.Err()
}

func (s *PostgresStore) Scan(ctx context.Context, sortPrefix string) ([]Record, error) {
	rows, err := s.db.QueryxContext(ctx,
		`SELECT owner_id, sort_key, attrs FROM ledger_items
         WHERE sort_key LIKE $1 || '%'
         ORDER BY owner_id, sort_key`,
		sortPrefix)
	if err != nil {
		return nil, fmt.Errorf("failed to scan items: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		var owner, sortKey string
		var raw []byte
		if err := rows.Scan(&owner, &sortKey, &raw); err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		var attrs Attrs
		if err := json.Unmarshal(raw, &attrs); err != nil {
			return nil, fmt.Errorf("failed to decode item attrs: %w", err)
		}
		records = append(records, Record{
			Key:   Key{Owner: owner, Sort: sortKey},
			Attrs: attrs,
		})
	}
	return records, rows.Err()
}

func (s *PostgresStore) Apply(ctx context.Context, op Op) error {
	if err := s.Transact(ctx, op); err != nil {
		if err == ErrTransactionCanceled {
			return ErrConditionFailed
		}
		return err
	}
	return nil
}

func (s *PostgresStore) Transact(ctx context.Context, ops ...Op) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	for _, op := range ops {
		var opErr error
		switch {
		case op.Insert != nil:
			opErr = s.execInsert(ctx, tx, op.Insert)
		case op.Update != nil:
			opErr = s.execUpdate(ctx, tx, op.Update)
		case op.Delete != nil:
			opErr = s.execDelete(ctx, tx, op.Delete)
		}
		if opErr != nil {
			return opErr
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (s *PostgresStore) execInsert(ctx context.Context, tx *sqlx.Tx, op *InsertOp) error {
	raw, err := json.Marshal(op.Attrs)
	if err != nil {
		return fmt.Errorf("failed to encode item attrs: %w", err)
	}

	if op.IfAbsent {
		res, err := tx.ExecContext(ctx,
			`INSERT INTO ledger_items (owner_id, sort_key, attrs)
             VALUES ($1, $2, $3)
             ON CONFLICT (owner_id, sort_key) DO NOTHING`,
			op.Key.Owner, op.Key.Sort, raw)
		if err != nil {
			return fmt.Errorf("failed to insert item: %w", err)
		}
		rows, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 0 {
			return ErrTransactionCanceled
		}
		return nil
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO ledger_items (owner_id, sort_key, attrs)
         VALUES ($1, $2, $3)
         ON CONFLICT (owner_id, sort_key)
         DO UPDATE SET attrs = EXCLUDED.attrs, updated_at = CURRENT_TIMESTAMP`,
		op.Key.Owner, op.Key.Sort, raw)
	if err != nil {
		return fmt.Errorf("failed to upsert item: %w", err)
	}
	return nil
}

func (s *PostgresStore) execUpdate(ctx context.Context, tx *sqlx.Tx, op *UpdateOp) error {
	var raw []byte
	err := tx.GetContext(ctx, &raw,
		`SELECT attrs FROM ledger_items
         WHERE owner_id = $1 AND sort_key = $2
         FOR UPDATE`,
		op.Key.Owner, op.Key.Sort)
	if err != nil {
		if err == sql.ErrNoRows {
			return ErrTransactionCanceled
		}
		return fmt.Errorf("failed to lock item: %w", err)
	}

	var attrs Attrs
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return fmt.Errorf("failed to decode item attrs: %w", err)
	}

	if !checkGuards(attrs, op) {
		return ErrTransactionCanceled
	}

	updated, err := json.Marshal(applyUpdate(attrs, op))
	if err != nil {
		return fmt.Errorf("failed to encode item attrs: %w", err)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE ledger_items
         SET attrs = $3, updated_at = CURRENT_TIMESTAMP
         WHERE owner_id = $1 AND sort_key = $2`,
		op.Key.Owner, op.Key.Sort, updated)
	if err != nil {
		return fmt.Errorf("failed to update item: %w", err)
	}
	return nil
}

func (s *PostgresStore) execDelete(ctx context.Context, tx *sqlx.Tx, op *DeleteOp) error {
	res, err := tx.ExecContext(ctx,
		`DELETE FROM ledger_items WHERE owner_id = $1 AND sort_key = $2`,
		op.Key.Owner, op.Key.Sort)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}
	if rows == 0 && op.MustExist {
		return ErrTransactionCanceled
	}
	return nil
}
