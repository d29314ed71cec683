package entity

import "time"

type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
)

// CanTransition reports whether a payment may move between two statuses.
// The lifecycle only moves forward: pending resolves to completed or failed,
// and only completed payments may be refunded.
func CanTransition(from, to PaymentStatus) bool {
	switch from {
	case PaymentStatusPending:
		return to == PaymentStatusCompleted || to == PaymentStatusFailed
	case PaymentStatusCompleted:
		return to == PaymentStatusRefunded
	default:
		return false
	}
}

// Terminal reports whether no further transition is defined out of a status.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentStatusFailed || s == PaymentStatusRefunded
}

func ValidPaymentStatus(s PaymentStatus) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusRefunded:
		return true
	default:
		return false
	}
}

type Payment struct {
	ID string

	OrderID string
	UserID  string

	Method string

	AmountCents int64
	Currency    string

	Status PaymentStatus

	// ProviderTransactionID is assigned by the gateway and is the idempotency
	// key for callback processing. CheckoutRef is our own correlation id,
	// minted at creation, for providers that only echo it back later.
	ProviderTransactionID *string
	CheckoutRef           string

	FailureReason *string

	// Metadata holds non-sensitive provider fields only (receipt number,
	// transaction date). Raw payloads and subscriber identifiers never land here.
	Metadata map[string]string

	CreatedAt time.Time
	UpdatedAt time.Time
}
