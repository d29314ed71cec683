package mapper

import (
	"time"

	"github.com/novacart/ms-go-payments/app/entity"
	"github.com/novacart/ms-go-payments/app/types"
)

func PaymentToResponse(payment *entity.Payment) *types.PaymentResponse {
	if payment == nil {
		return nil
	}

	return &types.PaymentResponse{
		ID:                    payment.ID,
		OrderID:               payment.OrderID,
		UserID:                payment.UserID,
		Method:                payment.Method,
		AmountCents:           payment.AmountCents,
		Currency:              payment.Currency,
		Status:                string(payment.Status),
		ProviderTransactionID: stringValue(payment.ProviderTransactionID),
		CheckoutURL:           payment.Metadata["checkoutUrl"],
		FailureReason:         stringValue(payment.FailureReason),
		Metadata:              cloneMetadata(payment.Metadata),
		CreatedAt:             payment.CreatedAt.UTC().Format(time.RFC3339),
		UpdatedAt:             payment.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}

func cloneMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
