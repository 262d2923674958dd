package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/songzhibin97/complaint-engine/types"
)

// Schema creates the tables used by PostgresStore. Filterable columns are
// kept next to the full JSON document.
const Schema = `
CREATE TABLE IF NOT EXISTS customers (
	id         TEXT PRIMARY KEY,
	email      TEXT,
	data       JSONB NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE UNIQUE INDEX IF NOT EXISTS customers_email_idx ON customers (lower(email)) WHERE email <> '';

CREATE TABLE IF NOT EXISTS complaints (
	id             TEXT PRIMARY KEY,
	customer_id    TEXT,
	status         TEXT NOT NULL,
	priority_score INTEGER NOT NULL,
	priority_level TEXT,
	channel        TEXT NOT NULL,
	received_at    TIMESTAMPTZ NOT NULL,
	data           JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS complaints_order_idx ON complaints (priority_score DESC, received_at DESC);
CREATE INDEX IF NOT EXISTS complaints_customer_idx ON complaints (customer_id, received_at DESC);

CREATE TABLE IF NOT EXISTS audit_logs (
	seq          BIGSERIAL PRIMARY KEY,
	id           TEXT NOT NULL,
	complaint_id TEXT NOT NULL,
	data         JSONB NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_logs_complaint_idx ON audit_logs (complaint_id, seq);
`

// PostgresStore is a pgx-backed Store.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects with dsn, pings and applies Schema.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, Schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) SaveCustomer(ctx context.Context, c types.Customer) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal customer %s: %w", c.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO customers (id, email, data, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT (id) DO UPDATE SET email = EXCLUDED.email, data = EXCLUDED.data, updated_at = now()`,
		c.ID, strings.ToLower(c.Email), data)
	if err != nil {
		return fmt.Errorf("save customer %s: %w", c.ID, err)
	}
	return nil
}

func (s *PostgresStore) CreateCustomer(ctx context.Context, c types.Customer) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal customer %s: %w", c.ID, err)
	}
	tag, err := s.pool.Exec(ctx, `
		INSERT INTO customers (id, email, data, updated_at) VALUES ($1, $2, $3, now())
		ON CONFLICT DO NOTHING`,
		c.ID, strings.ToLower(c.Email), data)
	if err != nil {
		return fmt.Errorf("create customer %s: %w", c.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: id=%s email=%s", ErrCustomerExists, c.ID, c.Email)
	}
	return nil
}

// IncrementComplaintCount updates the JSON document in place, so concurrent
// increments serialise on the row lock.
func (s *PostgresStore) IncrementComplaintCount(ctx context.Context, id string, at time.Time) (types.Customer, error) {
	return queryJSON[types.Customer](ctx, s.pool, ErrCustomerNotFound, `
		UPDATE customers SET
			data = jsonb_set(
				jsonb_set(data, '{total_complaints}', to_jsonb(COALESCE((data->>'total_complaints')::int, 0) + 1)),
				'{updated_at}', to_jsonb($2::text)),
			updated_at = now()
		WHERE id = $1
		RETURNING data`,
		id, at.UTC().Format(time.RFC3339Nano))
}

func (s *PostgresStore) GetCustomer(ctx context.Context, id string) (types.Customer, error) {
	return queryJSON[types.Customer](ctx, s.pool, ErrCustomerNotFound,
		`SELECT data FROM customers WHERE id = $1`, id)
}

func (s *PostgresStore) FindCustomerByEmail(ctx context.Context, email string) (types.Customer, error) {
	return queryJSON[types.Customer](ctx, s.pool, ErrCustomerNotFound,
		`SELECT data FROM customers WHERE lower(email) = lower($1)`, email)
}

func (s *PostgresStore) SaveComplaint(ctx context.Context, r types.ComplaintRecord) error {
	data, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("marshal complaint %s: %w", r.ID, err)
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO complaints (id, customer_id, status, priority_score, priority_level, channel, received_at, data)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			customer_id = EXCLUDED.customer_id, status = EXCLUDED.status,
			priority_score = EXCLUDED.priority_score, priority_level = EXCLUDED.priority_level,
			channel = EXCLUDED.channel, received_at = EXCLUDED.received_at, data = EXCLUDED.data`,
		r.ID, r.CustomerID, string(r.Status), r.PriorityScore, string(r.PriorityLevel), string(r.Channel), r.ReceivedAt, data)
	if err != nil {
		return fmt.Errorf("save complaint %s: %w", r.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetComplaint(ctx context.Context, id string) (types.ComplaintRecord, error) {
	return queryJSON[types.ComplaintRecord](ctx, s.pool, ErrComplaintNotFound,
		`SELECT data FROM complaints WHERE id = $1`, id)
}

func (s *PostgresStore) ListComplaints(ctx context.Context, f ComplaintFilter) ([]types.ComplaintRecord, error) {
	f = f.Normalize()
	var (
		where []string
		args  []interface{}
	)
	add := func(column, value string) {
		if value == "" {
			return
		}
		args = append(args, value)
		where = append(where, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	add("status", string(f.Status))
	add("priority_level", string(f.PriorityLevel))
	add("channel", string(f.Channel))
	add("customer_id", f.CustomerID)

	query := "SELECT data FROM complaints"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(" ORDER BY priority_score DESC, received_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))

	return queryAllJSON[types.ComplaintRecord](ctx, s.pool, query, args...)
}

func (s *PostgresStore) RecentComplaints(ctx context.Context, customerID string, limit int) ([]types.ComplaintRecord, error) {
	if limit <= 0 {
		limit = MaxLimit
	}
	return queryAllJSON[types.ComplaintRecord](ctx, s.pool,
		`SELECT data FROM complaints WHERE customer_id = $1 ORDER BY received_at DESC LIMIT $2`, customerID, limit)
}

func (s *PostgresStore) AppendAudit(ctx context.Context, complaintID string, entries []types.AuditEntry) error {
	if len(entries) == 0 {
		return nil
	}
	batch := &pgx.Batch{}
	for _, e := range entries {
		data, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("marshal audit entry %s: %w", e.ID, err)
		}
		batch.Queue(`INSERT INTO audit_logs (id, complaint_id, data) VALUES ($1, $2, $3)`, e.ID, complaintID, data)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin audit append: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("append audit of %s: %w", complaintID, err)
	}
	return tx.Commit(ctx)
}

func (s *PostgresStore) GetAudit(ctx context.Context, complaintID string) ([]types.AuditEntry, error) {
	return queryAllJSON[types.AuditEntry](ctx, s.pool,
		`SELECT data FROM audit_logs WHERE complaint_id = $1 ORDER BY seq`, complaintID)
}

// Truncate empties every table.
func (s *PostgresStore) Truncate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `TRUNCATE customers, complaints, audit_logs`)
	return err
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func queryJSON[T any](ctx context.Context, pool *pgxpool.Pool, errNotFound error, query string, args ...interface{}) (T, error) {
	var (
		zero T
		data []byte
	)
	err := pool.QueryRow(ctx, query, args...).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return zero, fmt.Errorf("%w: %v", errNotFound, args)
	} else if err != nil {
		return zero, fmt.Errorf("query: %w", err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("unmarshal row: %w", err)
	}
	return result, nil
}

func queryAllJSON[T any](ctx context.Context, pool *pgxpool.Pool, query string, args ...interface{}) ([]T, error) {
	rows, err := pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	defer rows.Close()

	out := []T{}
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		var item T
		if err := json.Unmarshal(data, &item); err != nil {
			return nil, fmt.Errorf("unmarshal row: %w", err)
		}
		out = append(out, item)
	}
	return out, rows.Err()
}
