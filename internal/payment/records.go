package payment

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/yuxuanzhouo3/mvp-28-sub000/internal/policy"
)

// Status is the lifecycle state of a payment record.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusRefunded  Status = "refunded"
)

// ErrInvalidTransition is returned for status changes outside the
// pending -> completed|failed, completed -> refunded state machine.
var ErrInvalidTransition = errors.New("invalid payment status transition")

// ErrRecordNotFound is returned when a payment record does not exist.
var ErrRecordNotFound = errors.New("payment record not found")

// ValidTransition reports whether a record may move from one status to
// another. Refunding a non-completed payment is rejected here.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusCompleted || to == StatusFailed
	case StatusCompleted:
		return to == StatusRefunded
	default:
		return false
	}
}

// Record is one tracked payment attempt. OriginalAmount/Currency keep
// the caller's values when settlement normalization rewrote them.
type Record struct {
	ID               string          `json:"id"`
	UserID           string          `json:"user_id"`
	Amount           decimal.Decimal `json:"amount"`
	Currency         string          `json:"currency"`
	OriginalAmount   decimal.Decimal `json:"original_amount"`
	OriginalCurrency string          `json:"original_currency"`
	Status           Status          `json:"status"`
	Method           policy.Method   `json:"payment_method,omitempty"`
	ExternalID       string          `json:"external_id,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RecordRepository persists payment records. Implementations enforce
// the status state machine on every update.
type RecordRepository interface {
	Save(ctx context.Context, record *Record) error
	FindByID(ctx context.Context, id string) (*Record, error)
	FindByExternalID(ctx context.Context, externalID string) (*Record, error)
	FindByUser(ctx context.Context, userID string) ([]Record, error)
	UpdateStatus(ctx context.Context, id string, status Status) error
	AttachExternalID(ctx context.Context, id, externalID string) error
}

// PostgresRecordRepository stores payment records in the relational
// backend.
type PostgresRecordRepository struct {
	conn *sql.DB
}

// NewPostgresRecordRepository wraps an open connection pool.
func NewPostgresRecordRepository(conn *sql.DB) *PostgresRecordRepository {
	return &PostgresRecordRepository{conn: conn}
}

func (r *PostgresRecordRepository) Save(ctx context.Context, record *Record) error {
	now := time.Now()
	record.CreatedAt = now
	record.UpdatedAt = now
	if record.Status == "" {
		record.Status = StatusPending
	}

	query := `
		INSERT INTO payment_records (
			id, user_id, amount, currency, original_amount, original_currency,
			status, payment_method, external_id, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err := r.conn.ExecContext(ctx, query,
		record.ID, record.UserID,
		record.Amount.String(), record.Currency,
		record.OriginalAmount.String(), record.OriginalCurrency,
		string(record.Status), string(record.Method),
		sql.NullString{String: record.ExternalID, Valid: record.ExternalID != ""},
		record.CreatedAt, record.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save payment record: %w", err)
	}
	return nil
}

func (r *PostgresRecordRepository) FindByID(ctx context.Context, id string) (*Record, error) {
	query := `
		SELECT id, user_id, amount, currency, original_amount, original_currency,
		       status, payment_method, external_id, created_at, updated_at
		FROM payment_records WHERE id = $1`

	record, err := scanRecord(r.conn.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load payment record: %w", err)
	}
	return record, nil
}

func (r *PostgresRecordRepository) FindByExternalID(ctx context.Context, externalID string) (*Record, error) {
	query := `
		SELECT id, user_id, amount, currency, original_amount, original_currency,
		       status, payment_method, external_id, created_at, updated_at
		FROM payment_records WHERE external_id = $1`

	record, err := scanRecord(r.conn.QueryRowContext(ctx, query, externalID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to load payment record: %w", err)
	}
	return record, nil
}

func (r *PostgresRecordRepository) FindByUser(ctx context.Context, userID string) ([]Record, error) {
	query := `
		SELECT id, user_id, amount, currency, original_amount, original_currency,
		       status, payment_method, external_id, created_at, updated_at
		FROM payment_records WHERE user_id = $1
		ORDER BY created_at DESC`

	rows, err := r.conn.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list payment records: %w", err)
	}
	defer rows.Close()

	var records []Record
	for rows.Next() {
		record, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan payment record: %w", err)
		}
		records = append(records, *record)
	}
	return records, rows.Err()
}

// UpdateStatus transitions a record, enforcing the state machine
// inside a transaction so concurrent updates cannot skip states.
func (r *PostgresRecordRepository) UpdateStatus(ctx context.Context, id string, status Status) error {
	tx, err := r.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var current string
	err = tx.QueryRowContext(ctx, `SELECT status FROM payment_records WHERE id = $1 FOR UPDATE`, id).Scan(&current)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrRecordNotFound
		}
		return fmt.Errorf("failed to load payment record: %w", err)
	}

	if !ValidTransition(Status(current), status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current, status)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE payment_records SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update payment record: %w", err)
	}
	return tx.Commit()
}

func (r *PostgresRecordRepository) AttachExternalID(ctx context.Context, id, externalID string) error {
	result, err := r.conn.ExecContext(ctx,
		`UPDATE payment_records SET external_id = $1, updated_at = $2 WHERE id = $3`,
		externalID, time.Now(), id,
	)
	if err != nil {
		return fmt.Errorf("failed to attach external id: %w", err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return ErrRecordNotFound
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row rowScanner) (*Record, error) {
	var record Record
	var amount, originalAmount, status, method string
	var externalID sql.NullString

	err := row.Scan(
		&record.ID, &record.UserID,
		&amount, &record.Currency,
		&originalAmount, &record.OriginalCurrency,
		&status, &method, &externalID,
		&record.CreatedAt, &record.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, fmt.Errorf("malformed amount %q: %w", amount, err)
	}
	record.OriginalAmount, err = decimal.NewFromString(originalAmount)
	if err != nil {
		return nil, fmt.Errorf("malformed original amount %q: %w", originalAmount, err)
	}
	record.Status = Status(status)
	record.Method = policy.Method(method)
	if externalID.Valid {
		record.ExternalID = externalID.String
	}
	return &record, nil
}
