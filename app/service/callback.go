package service

import (
	"context"
	"fmt"
	"net/http"

	"github.com/novacart/ms-go-payments/app/entity"
	"github.com/novacart/ms-go-payments/app/provider"
	"github.com/novacart/ms-go-payments/app/types"
)

// ProcessCallback authenticates and applies a provider callback. The only
// error it returns is ErrCallbackDenied for failed authentication; every
// authenticated delivery is acknowledged positively regardless of what
// happens downstream, so providers never retry against internal faults.
func (s *Orchestrator) ProcessCallback(ctx context.Context, method string, r *http.Request, payload []byte) (*types.CallbackAck, error) {
	method = provider.NormalizeMethod(method)

	gateway, err := s.registry.Resolve(method)
	if err != nil {
		return nil, err
	}

	decision := s.authenticator.Authenticate(r, payload, s.webhookSecrets[method], gateway.SignatureHeader(), "X-Provider-Signature")
	if !decision.Allowed {
		s.trail.Record(entity.AuditEvent{
			Action:  "callback",
			Outcome: entity.AuditOutcomeDenied,
			Detail: map[string]string{
				"reason":    decision.Reason,
				"method":    method,
				"remote_ip": s.authenticator.ClientIP(r),
			},
		})
		return nil, fmt.Errorf("%w: %s", ErrCallbackDenied, decision.Reason)
	}

	event, err := gateway.ParseCallback(payload)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Warn("Callback payload could not be parsed")
		s.trail.Record(entity.AuditEvent{
			Action:  "callback",
			Outcome: entity.AuditOutcomeFailure,
			Detail:  map[string]string{"reason": "parse_error", "method": method},
		})
		return types.AckAccepted(), nil
	}

	payment, err := s.locateCallbackPayment(ctx, method, event)
	if err != nil {
		s.logger.WithError(err).WithField("method", method).Error("Payment lookup for callback failed")
		s.trail.Record(entity.AuditEvent{
			Action:  "callback",
			Outcome: entity.AuditOutcomeFailure,
			Detail:  map[string]string{"reason": "lookup_error", "method": method},
		})
		return types.AckAccepted(), nil
	}
	if payment == nil {
		s.logger.WithField("method", method).
			WithField("provider_transaction_id", event.ProviderTransactionID).
			Warn("Callback references unknown payment")
		s.trail.Record(entity.AuditEvent{
			Action:  "callback",
			Outcome: entity.AuditOutcomeFailure,
			Detail:  map[string]string{"reason": "payment_not_found", "method": method},
		})
		return types.AckAccepted(), nil
	}

	if seen := s.seenBefore(ctx, method, event); seen {
		s.trail.Record(entity.AuditEvent{
			Action:    "callback",
			Outcome:   entity.AuditOutcomeSuccess,
			SubjectID: payment.ID,
			Duplicate: true,
			Detail:    map[string]string{"method": method},
		})
		return types.AckAccepted(), nil
	}

	var providerTransactionID *string
	if event.ProviderTransactionID != "" && payment.ProviderTransactionID == nil {
		txnID := event.ProviderTransactionID
		providerTransactionID = &txnID
	}

	if _, err := s.applyOutcome(ctx, payment, "callback", nil, event.Outcome, event.Reason, event.Metadata, providerTransactionID); err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Applying callback outcome failed")
	}

	return types.AckAccepted(), nil
}

// locateCallbackPayment resolves the payment a callback refers to, first by
// the provider transaction id and then by our checkout reference for
// providers that echo it back before a transaction id exists.
func (s *Orchestrator) locateCallbackPayment(ctx context.Context, method string, event *provider.CallbackEvent) (*entity.Payment, error) {
	if event.ProviderTransactionID != "" {
		payment, err := s.paymentRepo.FindByProviderTransactionID(ctx, method, event.ProviderTransactionID)
		if err != nil {
			return nil, err
		}
		if payment != nil {
			return payment, nil
		}
	}

	if event.CheckoutRef != "" {
		return s.paymentRepo.FindByCheckoutRef(ctx, event.CheckoutRef)
	}

	return nil, nil
}

// seenBefore consults the deduper when the event carries a terminal outcome.
// Deduper errors are treated as "not seen": the compare-and-set transition
// still guarantees at most one effective delivery.
func (s *Orchestrator) seenBefore(ctx context.Context, method string, event *provider.CallbackEvent) bool {
	if s.deduper == nil || event.ProviderTransactionID == "" {
		return false
	}
	if event.Outcome != provider.OutcomeCompleted && event.Outcome != provider.OutcomeFailed {
		return false
	}

	key := method + ":" + event.ProviderTransactionID + ":" + string(event.Outcome)
	seen, err := s.deduper.Seen(ctx, key)
	if err != nil {
		s.logger.WithError(err).Warn("Callback dedup check failed, continuing without it")
		return false
	}
	return seen
}
