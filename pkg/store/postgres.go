package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bridgeline-hq/bridgeline-settler/pkg/models"
)

// PostgresStore persists intents in a PostgreSQL table. Conditional updates
// run inside a transaction with SELECT ... FOR UPDATE so the status check
// and the write are one atomic unit against concurrent writers.
type PostgresStore struct {
	pool *pgxpool.Pool
}

var _ Repository = (*PostgresStore)(nil)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS payment_intents (
    id TEXT PRIMARY KEY,
    amount TEXT NOT NULL,
    merchant_recipient TEXT NOT NULL,
    payer_chain TEXT NOT NULL,
    target_chain TEXT NOT NULL,
    status TEXT NOT NULL,
    source_proof TEXT NOT NULL DEFAULT '',
    source_tx_ref TEXT NOT NULL DEFAULT '',
    payer_wallet TEXT NOT NULL DEFAULT '',
    target_tx_ref TEXT NOT NULL DEFAULT '',
    target_proof TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL,
    expires_at TIMESTAMPTZ NOT NULL,
    source_settled_at TIMESTAMPTZ,
    target_settled_at TIMESTAMPTZ,
    completed_at TIMESTAMPTZ,
    last_attempt_tx_ref TEXT NOT NULL DEFAULT '',
    last_attempt_at TIMESTAMPTZ,
    attempt_count INT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS payment_intents_status_idx ON payment_intents (status);
`

const intentColumns = `id, amount, merchant_recipient, payer_chain, target_chain, status,
source_proof, source_tx_ref, payer_wallet, target_tx_ref, target_proof,
created_at, updated_at, expires_at, source_settled_at, target_settled_at, completed_at,
last_attempt_tx_ref, last_attempt_at, attempt_count`

// NewPostgresStore connects using the DSN and ensures the table exists.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	if dsn == "" {
		return nil, errors.New("postgres dsn is empty")
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, createTableSQL); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func (p *PostgresStore) Close() {
	if p.pool != nil {
		p.pool.Close()
	}
}

// Ping reports database connectivity, used by the health server
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *PostgresStore) Create(ctx context.Context, intent *models.PaymentIntent) error {
	tag, err := p.pool.Exec(ctx, `
INSERT INTO payment_intents (`+intentColumns+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
ON CONFLICT (id) DO NOTHING
`, intentArgs(intent)...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAlreadyExists
	}
	return nil
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (*models.PaymentIntent, error) {
	row := p.pool.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1`, id)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return intent, nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.Status) ([]*models.PaymentIntent, error) {
	rows, err := p.pool.Query(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE status = $1 ORDER BY created_at`, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var intents []*models.PaymentIntent
	for rows.Next() {
		intent, err := scanIntent(rows)
		if err != nil {
			return nil, err
		}
		intents = append(intents, intent)
	}
	return intents, rows.Err()
}

func (p *PostgresStore) ConditionalUpdate(ctx context.Context, id string, expected models.Status, mutate func(*models.PaymentIntent)) (*models.PaymentIntent, error) {
	tx, err := p.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	row := tx.QueryRow(ctx, `SELECT `+intentColumns+` FROM payment_intents WHERE id = $1 FOR UPDATE`, id)
	intent, err := scanIntent(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if intent.Status != expected {
		return nil, ErrConflict
	}

	mutate(intent)
	intent.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx, `
UPDATE payment_intents SET
    status = $2,
    source_proof = $3,
    source_tx_ref = $4,
    payer_wallet = $5,
    target_tx_ref = $6,
    target_proof = $7,
    updated_at = $8,
    source_settled_at = $9,
    target_settled_at = $10,
    completed_at = $11,
    last_attempt_tx_ref = $12,
    last_attempt_at = $13,
    attempt_count = $14
WHERE id = $1
`, intent.ID, string(intent.Status),
		intent.SourceProof, intent.SourceTxRef, intent.PayerWallet,
		intent.TargetTxRef, intent.TargetProof,
		intent.UpdatedAt, intent.SourceSettledAt, intent.TargetSettledAt, intent.CompletedAt,
		intent.LastAttemptTxRef, intent.LastAttemptAt, intent.AttemptCount)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return intent.Clone(), nil
}

func intentArgs(intent *models.PaymentIntent) []any {
	return []any{
		intent.ID, intent.Amount, intent.MerchantRecipient,
		intent.PayerChain, intent.TargetChain, string(intent.Status),
		intent.SourceProof, intent.SourceTxRef, intent.PayerWallet,
		intent.TargetTxRef, intent.TargetProof,
		intent.CreatedAt, intent.UpdatedAt, intent.ExpiresAt,
		intent.SourceSettledAt, intent.TargetSettledAt, intent.CompletedAt,
		intent.LastAttemptTxRef, intent.LastAttemptAt, intent.AttemptCount,
	}
}

func scanIntent(row pgx.Row) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	var status string
	err := row.Scan(
		&intent.ID, &intent.Amount, &intent.MerchantRecipient,
		&intent.PayerChain, &intent.TargetChain, &status,
		&intent.SourceProof, &intent.SourceTxRef, &intent.PayerWallet,
		&intent.TargetTxRef, &intent.TargetProof,
		&intent.CreatedAt, &intent.UpdatedAt, &intent.ExpiresAt,
		&intent.SourceSettledAt, &intent.TargetSettledAt, &intent.CompletedAt,
		&intent.LastAttemptTxRef, &intent.LastAttemptAt, &intent.AttemptCount,
	)
	if err != nil {
		return nil, err
	}
	intent.Status = models.Status(status)
	return &intent, nil
}
