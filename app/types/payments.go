package types

import (
	"errors"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/novacart/ms-go-payments/app/provider"
)

type InitiatePaymentRequest struct {
	OrderID     string            `json:"order_id"`
	Method      string            `json:"method"`
	AmountCents int64             `json:"amount_cents"`
	Currency    string            `json:"currency"`
	PaymentData map[string]string `json:"payment_data"`
}

func NewInitiatePaymentRequestFromContext(ctx echo.Context) (*InitiatePaymentRequest, error) {
	var body InitiatePaymentRequest
	if err := ctx.Bind(&body); err != nil {
		return nil, err
	}

	body.OrderID = strings.TrimSpace(body.OrderID)
	body.Method = provider.NormalizeMethod(body.Method)
	body.Currency = strings.ToUpper(strings.TrimSpace(body.Currency))
	if body.PaymentData == nil {
		body.PaymentData = map[string]string{}
	}

	return &body, nil
}

func (r *InitiatePaymentRequest) Validate() error {
	if r.OrderID == "" {
		return errors.New("order_id is required")
	}
	if r.Method == "" {
		return errors.New("method is required")
	}
	if r.AmountCents <= 0 {
		return errors.New("amount_cents must be > 0")
	}
	if len(r.Currency) != 3 {
		return errors.New("currency must be 3 letters")
	}
	return nil
}

type PaymentIDRequest struct {
	ID string
}

func NewPaymentIDRequestFromContext(ctx echo.Context) (*PaymentIDRequest, error) {
	id := strings.TrimSpace(ctx.Param("id"))
	if id == "" {
		return nil, errors.New("payment id is required")
	}
	return &PaymentIDRequest{ID: id}, nil
}

type PaymentResponse struct {
	ID                    string            `json:"id"`
	OrderID               string            `json:"order_id"`
	UserID                string            `json:"user_id"`
	Method                string            `json:"method"`
	AmountCents           int64             `json:"amount_cents"`
	Currency              string            `json:"currency"`
	Status                string            `json:"status"`
	ProviderTransactionID string            `json:"provider_transaction_id,omitempty"`
	CheckoutURL           string            `json:"checkout_url,omitempty"`
	FailureReason         string            `json:"failure_reason,omitempty"`
	Metadata              map[string]string `json:"metadata"`
	CreatedAt             string            `json:"created_at"`
	UpdatedAt             string            `json:"updated_at"`
}

type PaymentEnvelopeResponse struct {
	Payment *PaymentResponse `json:"payment"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type HealthResponse struct {
	Status string `json:"status"`
}

// CallbackAck is the provider-facing acknowledgement body. Providers read a
// non-zero resultCode (or a non-2xx status) as "retry", so internal
// processing failures never surface here.
type CallbackAck struct {
	ResultCode int    `json:"resultCode"`
	ResultDesc string `json:"resultDesc"`
}

func AckAccepted() *CallbackAck {
	return &CallbackAck{ResultCode: 0, ResultDesc: "Accepted"}
}
