package provider

import "context"

// PaymentOutcome is a gateway's view of a transaction. Pending means the
// provider has not reached a terminal state yet (e.g. an STK push waiting for
// the subscriber to act).
type PaymentOutcome string

const (
	OutcomePending   PaymentOutcome = "pending"
	OutcomeCompleted PaymentOutcome = "completed"
	OutcomeFailed    PaymentOutcome = "failed"
)

type InitiateInput struct {
	PaymentID   string
	OrderID     string
	CheckoutRef string
	AmountCents int64
	Currency    string
	CallbackURL string

	// PaymentData carries provider-specific initiation fields (subscriber
	// phone number, card token reference). It is handed to the gateway and
	// never persisted.
	PaymentData map[string]string
}

type InitiateOutput struct {
	ProviderTransactionID *string
	CheckoutURL           *string

	// Metadata holds non-sensitive provider fields safe to persist.
	Metadata map[string]string
}

type VerifyOutput struct {
	Outcome  PaymentOutcome
	Reason   string
	Metadata map[string]string
}

type RefundOutput struct {
	ProviderRefundID *string
	Metadata         map[string]string
}

// CallbackEvent is the minimal slice of a provider callback the orchestrator
// needs: transaction identity and outcome. Parsers must not retain the raw
// payload.
type CallbackEvent struct {
	ProviderTransactionID string
	CheckoutRef           string
	Outcome               PaymentOutcome
	Reason                string
	Metadata              map[string]string
}

// Gateway is the uniform capability set a payment provider exposes to the
// orchestrator. Calls are synchronous and bounded by the gateway's own HTTP
// timeout; a provider that resolves out-of-band returns OutcomePending and
// delivers the terminal state through its callback.
type Gateway interface {
	Method() string
	Initiate(ctx context.Context, input *InitiateInput) (*InitiateOutput, error)
	Verify(ctx context.Context, providerTransactionID string) (*VerifyOutput, error)
	Refund(ctx context.Context, providerTransactionID string, amountCents int64) (*RefundOutput, error)

	// ParseCallback extracts the transaction identity and outcome from a raw
	// callback payload. Authentication happens before this is called.
	ParseCallback(payload []byte) (*CallbackEvent, error)

	// SignatureHeader names the HTTP header carrying the callback signature,
	// or "" for providers without a signing capability.
	SignatureHeader() string
}
