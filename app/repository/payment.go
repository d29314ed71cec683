package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/novacart/ms-go-payments/app/entity"
)

var (
	ErrPaymentNotFound      = errors.New("payment not found")
	ErrPaymentAlreadyExists = errors.New("payment already exists")

	// ErrStatusConflict means the compare-and-set transition matched no row:
	// another delivery already moved the payment. Callers treat this as a
	// duplicate, not a failure.
	ErrStatusConflict = errors.New("payment status changed concurrently")
)

// TransitionUpdate carries the fields written together with a status change.
// The whole update is one statement, so a cancelled request either applies
// all of it or none of it.
type TransitionUpdate struct {
	ProviderTransactionID *string
	FailureReason         *string
	Metadata              map[string]string
	UpdatedAt             time.Time
}

type PaymentRepository struct {
	db DBTX
}

func NewPaymentRepository(db DBTX) *PaymentRepository {
	return &PaymentRepository{db: db}
}

const paymentColumns = `id, order_id, user_id, method, amount_cents, currency, status,
	provider_transaction_id, checkout_ref, failure_reason, metadata_json, created_at, updated_at`

func (r *PaymentRepository) Create(ctx context.Context, payment *entity.Payment) error {
	metadataJSON, err := serializeMetadata(payment.Metadata)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO payments (` + paymentColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err = r.db.ExecContext(ctx, query,
		payment.ID,
		payment.OrderID,
		payment.UserID,
		payment.Method,
		payment.AmountCents,
		payment.Currency,
		string(payment.Status),
		nullableStringValue(payment.ProviderTransactionID),
		payment.CheckoutRef,
		nullableStringValue(payment.FailureReason),
		metadataJSON,
		payment.CreatedAt,
		payment.UpdatedAt,
	)
	if err != nil {
		if isDuplicateEntryError(err) {
			return ErrPaymentAlreadyExists
		}
		return err
	}

	return nil
}

func (r *PaymentRepository) FindByID(ctx context.Context, id string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, id), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByProviderTransactionID(ctx context.Context, method, providerTransactionID string) (*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE method = ? AND provider_transaction_id = ?
		LIMIT 1
	`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, method, providerTransactionID), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

func (r *PaymentRepository) FindByCheckoutRef(ctx context.Context, checkoutRef string) (*entity.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE checkout_ref = ? LIMIT 1`

	payment := &entity.Payment{}
	if err := scanPayment(r.db.QueryRowContext(ctx, query, checkoutRef), payment); err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	return payment, nil
}

// SetProviderTransactionID attaches the gateway's transaction id and any
// non-sensitive initiation metadata without touching the status.
func (r *PaymentRepository) SetProviderTransactionID(ctx context.Context, id, providerTransactionID string, metadata map[string]string, updatedAt time.Time) error {
	metadataJSON, err := serializeMetadata(metadata)
	if err != nil {
		return err
	}

	query := `
		UPDATE payments
		SET provider_transaction_id = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?
	`

	result, err := r.db.ExecContext(ctx, query, providerTransactionID, metadataJSON, updatedAt, id)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrPaymentNotFound
	}

	return nil
}

// TransitionStatus applies a compare-and-set status change: the row only
// moves when it is still in the expected `from` status. Zero rows affected
// on an existing payment means another delivery won the transition.
func (r *PaymentRepository) TransitionStatus(ctx context.Context, id string, from, to entity.PaymentStatus, update TransitionUpdate) error {
	metadataJSON, err := serializeMetadata(update.Metadata)
	if err != nil {
		return err
	}
	updatedAt := update.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := `
		UPDATE payments
		SET status = ?,
			provider_transaction_id = COALESCE(?, provider_transaction_id),
			failure_reason = ?,
			metadata_json = ?,
			updated_at = ?
		WHERE id = ? AND status = ?
	`

	result, err := r.db.ExecContext(ctx, query,
		string(to),
		nullableStringValue(update.ProviderTransactionID),
		nullableStringValue(update.FailureReason),
		metadataJSON,
		updatedAt,
		id,
		string(from),
	)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		existing, findErr := r.FindByID(ctx, id)
		if findErr != nil {
			return findErr
		}
		if existing == nil {
			return ErrPaymentNotFound
		}
		return ErrStatusConflict
	}

	return nil
}

// ListStalePending returns pending payments that have a provider transaction
// id and have not been touched since `before`, for the reconcile job.
func (r *PaymentRepository) ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error) {
	query := `
		SELECT ` + paymentColumns + `
		FROM payments
		WHERE status = ?
		  AND provider_transaction_id IS NOT NULL
		  AND updated_at <= ?
		ORDER BY updated_at ASC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, string(entity.PaymentStatusPending), before, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	payments := make([]*entity.Payment, 0)
	for rows.Next() {
		item := &entity.Payment{}
		if err := scanPayment(rows, item); err != nil {
			return nil, err
		}
		payments = append(payments, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return payments, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPayment(scan rowScanner, payment *entity.Payment) error {
	var status string
	var providerTransactionID sql.NullString
	var failureReason sql.NullString
	var metadataJSON string

	err := scan.Scan(
		&payment.ID,
		&payment.OrderID,
		&payment.UserID,
		&payment.Method,
		&payment.AmountCents,
		&payment.Currency,
		&status,
		&providerTransactionID,
		&payment.CheckoutRef,
		&failureReason,
		&metadataJSON,
		&payment.CreatedAt,
		&payment.UpdatedAt,
	)
	if err != nil {
		return err
	}

	payment.Status = entity.PaymentStatus(status)
	payment.ProviderTransactionID = stringPtrFromNull(providerTransactionID)
	payment.FailureReason = stringPtrFromNull(failureReason)

	metadata, err := parseMetadata(metadataJSON)
	if err != nil {
		return err
	}
	payment.Metadata = metadata

	return nil
}
