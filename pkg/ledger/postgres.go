package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cloaklabs/cloakpay/pkg/keys"
)

// Schema for the postgres store. Applied by Migrate.
const schema = `
CREATE TABLE IF NOT EXISTS invoices (
	id UUID PRIMARY KEY,
	sender TEXT NOT NULL,
	recipient TEXT NOT NULL,
	amount BIGINT NOT NULL CHECK (amount > 0),
	status TEXT NOT NULL DEFAULT 'unpaid',
	signature TEXT NOT NULL DEFAULT '',
	memo TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	paid_at TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_invoices_sender ON invoices (sender, created_at DESC);

CREATE TABLE IF NOT EXISTS batches (
	id UUID PRIMARY KEY,
	tag TEXT NOT NULL DEFAULT '',
	sender TEXT NOT NULL,
	total BIGINT NOT NULL,
	status TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS batch_recipients (
	batch_id UUID NOT NULL REFERENCES batches (id),
	recipient TEXT NOT NULL,
	amount BIGINT NOT NULL,
	status TEXT NOT NULL,
	signature TEXT NOT NULL DEFAULT '',
	classification TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_batch_recipients_batch ON batch_recipients (batch_id);
`

// PostgresStore persists invoices and batches in postgres via pgx.
type PostgresStore struct {
	db *pgxpool.Pool
}

// NewPostgresStore wraps an existing pool.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// Connect opens a pool and applies the schema.
func Connect(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	store := &PostgresStore{db: db}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return store, nil
}

// Migrate applies the schema.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// Close releases the pool.
func (s *PostgresStore) Close() {
	s.db.Close()
}

func (s *PostgresStore) RecordPayment(ctx context.Context, invoice *Invoice, signature string) error {
	now := time.Now().UTC()
	_, err := s.db.Exec(ctx, `
		INSERT INTO invoices (id, sender, recipient, amount, status, signature, memo, created_at, paid_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET status = $5, signature = $6, paid_at = $9`,
		invoice.ID, string(invoice.Sender), string(invoice.Recipient), int64(invoice.Amount),
		StatusPaid, signature, invoice.Memo, invoice.CreatedAt, now)
	if err != nil {
		return fmt.Errorf("failed to record payment: %w", err)
	}
	return nil
}

func (s *PostgresStore) RecordBatch(ctx context.Context, batch *BatchRecord, recipients []RecipientRecord) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin batch record: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO batches (id, tag, sender, total, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		batch.ID, batch.Tag, string(batch.Sender), int64(batch.Total), batch.Status, batch.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}

	for _, r := range recipients {
		_, err = tx.Exec(ctx, `
			INSERT INTO batch_recipients (batch_id, recipient, amount, status, signature, classification)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			r.BatchID, string(r.Recipient), int64(r.Amount), r.Status, r.Signature, r.Classification)
		if err != nil {
			return fmt.Errorf("failed to record batch recipient: %w", err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Invoice(ctx context.Context, id uuid.UUID) (*Invoice, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, sender, recipient, amount, status, signature, memo, created_at, COALESCE(paid_at, 'epoch'::timestamptz)
		FROM invoices WHERE id = $1`, id)

	invoice, err := scanInvoice(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice %s not found", id)
		}
		return nil, fmt.Errorf("failed to load invoice: %w", err)
	}
	return invoice, nil
}

func (s *PostgresStore) ListInvoices(ctx context.Context, sender keys.Identity) ([]*Invoice, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, sender, recipient, amount, status, signature, memo, created_at, COALESCE(paid_at, 'epoch'::timestamptz)
		FROM invoices WHERE sender = $1 ORDER BY created_at DESC`, string(sender))
	if err != nil {
		return nil, fmt.Errorf("failed to list invoices: %w", err)
	}
	defer rows.Close()

	var result []*Invoice
	for rows.Next() {
		invoice, err := scanInvoice(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan invoice: %w", err)
		}
		result = append(result, invoice)
	}
	return result, rows.Err()
}

func scanInvoice(row pgx.Row) (*Invoice, error) {
	var (
		invoice           Invoice
		sender, recipient string
		amount            int64
	)
	err := row.Scan(&invoice.ID, &sender, &recipient, &amount, &invoice.Status,
		&invoice.Signature, &invoice.Memo, &invoice.CreatedAt, &invoice.PaidAt)
	if err != nil {
		return nil, err
	}
	invoice.Sender = keys.Identity(sender)
	invoice.Recipient = keys.Identity(recipient)
	invoice.Amount = uint64(amount)
	return &invoice, nil
}
