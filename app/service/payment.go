package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/novacart/ms-go-payments/app/auth"
	"github.com/novacart/ms-go-payments/app/dedup"
	"github.com/novacart/ms-go-payments/app/entity"
	"github.com/novacart/ms-go-payments/app/factory"
	"github.com/novacart/ms-go-payments/app/provider"
	"github.com/novacart/ms-go-payments/app/repository"
	"github.com/novacart/ms-go-payments/app/types"
	"github.com/novacart/ms-go-payments/app/webhook"
	"github.com/novacart/ms-go-payments/config"
	"github.com/sirupsen/logrus"
)

const defaultBatchSize = int32(100)

type paymentRepository interface {
	Create(ctx context.Context, payment *entity.Payment) error
	FindByID(ctx context.Context, id string) (*entity.Payment, error)
	FindByProviderTransactionID(ctx context.Context, method, providerTransactionID string) (*entity.Payment, error)
	FindByCheckoutRef(ctx context.Context, checkoutRef string) (*entity.Payment, error)
	SetProviderTransactionID(ctx context.Context, id, providerTransactionID string, metadata map[string]string, updatedAt time.Time) error
	TransitionStatus(ctx context.Context, id string, from, to entity.PaymentStatus, update repository.TransitionUpdate) error
	ListStalePending(ctx context.Context, before time.Time, limit int32) ([]*entity.Payment, error)
}

type auditTrail interface {
	Record(event entity.AuditEvent)
}

// Orchestrator owns the payment lifecycle. It is the only component that
// mutates a Payment, and every mutation goes through the repository's
// compare-and-set transition.
type Orchestrator struct {
	paymentRepo    paymentRepository
	registry       *provider.Registry
	authenticator  *webhook.Authenticator
	trail          auditTrail
	deduper        dedup.Deduper
	webhookSecrets map[string][]byte
	paymentsCfg    config.PaymentsConfig
	logger         logrus.FieldLogger
}

func NewOrchestrator(
	paymentRepo paymentRepository,
	registry *provider.Registry,
	authenticator *webhook.Authenticator,
	trail auditTrail,
	deduper dedup.Deduper,
	paymentsCfg config.PaymentsConfig,
) *Orchestrator {
	secrets := make(map[string][]byte, len(paymentsCfg.WebhookSecrets))
	for method, secret := range paymentsCfg.WebhookSecrets {
		if s := strings.TrimSpace(secret); s != "" {
			secrets[provider.NormalizeMethod(method)] = []byte(s)
		}
	}

	return &Orchestrator{
		paymentRepo:    paymentRepo,
		registry:       registry,
		authenticator:  authenticator,
		trail:          trail,
		deduper:        deduper,
		webhookSecrets: secrets,
		paymentsCfg:    paymentsCfg,
		logger:         factory.NewModuleLogger("payment-orchestrator"),
	}
}

// Registry exposes the method registry for request validation.
func (s *Orchestrator) Registry() *provider.Registry {
	return s.registry
}

// Initiate creates a pending payment bound to the order and actor, then asks
// the gateway to start the flow. The payment is persisted before the gateway
// call so a gateway failure leaves a pending, verifiable record behind.
func (s *Orchestrator) Initiate(ctx context.Context, req *types.InitiatePaymentRequest, actor auth.Actor) (*entity.Payment, error) {
	gateway, err := s.registry.Resolve(req.Method)
	if err != nil {
		s.trail.Record(entity.AuditEvent{
			ActorID: &actor.ID,
			Action:  "initiate",
			Outcome: entity.AuditOutcomeFailure,
			Detail:  map[string]string{"reason": "unsupported_method", "method": req.Method},
		})
		return nil, err
	}

	now := time.Now().UTC()
	payment := &entity.Payment{
		ID:          uuid.NewString(),
		OrderID:     req.OrderID,
		UserID:      actor.ID,
		Method:      provider.NormalizeMethod(req.Method),
		AmountCents: req.AmountCents,
		Currency:    req.Currency,
		Status:      entity.PaymentStatusPending,
		CheckoutRef: uuid.NewString(),
		Metadata:    map[string]string{},
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	if err := s.paymentRepo.Create(ctx, payment); err != nil {
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "initiate",
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "persistence_error"},
		})
		return nil, err
	}

	output, err := gateway.Initiate(ctx, &provider.InitiateInput{
		PaymentID:   payment.ID,
		OrderID:     payment.OrderID,
		CheckoutRef: payment.CheckoutRef,
		AmountCents: payment.AmountCents,
		Currency:    payment.Currency,
		CallbackURL: s.callbackURL(payment.Method),
		PaymentData: req.PaymentData,
	})
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Gateway initiate failed")
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "initiate",
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "gateway_error", "method": payment.Method},
		})
		return payment, fmt.Errorf("%w: %v", ErrGatewayFailed, err)
	}

	for key, value := range output.Metadata {
		payment.Metadata[key] = value
	}
	if output.CheckoutURL != nil {
		payment.Metadata["checkoutUrl"] = *output.CheckoutURL
	}
	if output.ProviderTransactionID != nil {
		payment.ProviderTransactionID = output.ProviderTransactionID
		payment.UpdatedAt = time.Now().UTC()
		if err := s.paymentRepo.SetProviderTransactionID(ctx, payment.ID, *output.ProviderTransactionID, payment.Metadata, payment.UpdatedAt); err != nil {
			s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Storing provider transaction id failed")
		}
	}

	s.trail.Record(entity.AuditEvent{
		ActorID:   &actor.ID,
		Action:    "initiate",
		Outcome:   entity.AuditOutcomeSuccess,
		SubjectID: payment.ID,
		Detail:    map[string]string{"method": payment.Method, "order_id": payment.OrderID},
	})

	return payment, nil
}

// Get loads a payment for its owner or an admin.
func (s *Orchestrator) Get(ctx context.Context, paymentID string, actor auth.Actor) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.UserID != actor.ID && !actor.Admin() {
		return nil, ErrForbidden
	}
	return payment, nil
}

// Verify asks the gateway for the current state and applies the same
// idempotent transition rule as callback processing. The ownership check runs
// before any gateway call.
func (s *Orchestrator) Verify(ctx context.Context, paymentID string, actor auth.Actor) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.UserID != actor.ID && !actor.Admin() {
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "verify",
			Outcome:   entity.AuditOutcomeDenied,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "not_owner"},
		})
		return nil, ErrForbidden
	}

	if payment.ProviderTransactionID == nil {
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "verify",
			Outcome:   entity.AuditOutcomeSuccess,
			SubjectID: payment.ID,
			Detail:    map[string]string{"state": "no_provider_reference"},
		})
		return payment, nil
	}

	gateway, err := s.registry.Resolve(payment.Method)
	if err != nil {
		return nil, err
	}

	output, err := gateway.Verify(ctx, *payment.ProviderTransactionID)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Gateway verify failed")
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "verify",
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "gateway_error"},
		})
		return payment, fmt.Errorf("%w: %v", ErrGatewayFailed, err)
	}

	return s.applyOutcome(ctx, payment, "verify", &actor.ID, output.Outcome, output.Reason, output.Metadata, nil)
}

// Refund moves a completed payment to refunded through the gateway's refund
// capability.
func (s *Orchestrator) Refund(ctx context.Context, paymentID string, actor auth.Actor) (*entity.Payment, error) {
	payment, err := s.paymentRepo.FindByID(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, ErrPaymentNotFound
	}
	if payment.UserID != actor.ID && !actor.Admin() {
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "refund",
			Outcome:   entity.AuditOutcomeDenied,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "not_owner"},
		})
		return nil, ErrForbidden
	}
	if payment.Status != entity.PaymentStatusCompleted {
		return nil, fmt.Errorf("%w: only completed payments can be refunded", ErrInvalidStatus)
	}
	if payment.ProviderTransactionID == nil {
		return nil, fmt.Errorf("%w: payment has no provider transaction", ErrInvalidStatus)
	}

	gateway, err := s.registry.Resolve(payment.Method)
	if err != nil {
		return nil, err
	}

	output, err := gateway.Refund(ctx, *payment.ProviderTransactionID, payment.AmountCents)
	if err != nil {
		s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Gateway refund failed")
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "refund",
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "gateway_error"},
		})
		return payment, fmt.Errorf("%w: %v", ErrGatewayFailed, err)
	}

	metadata := cloneMetadata(payment.Metadata)
	for key, value := range output.Metadata {
		metadata[key] = value
	}
	if output.ProviderRefundID != nil {
		metadata["providerRefundId"] = *output.ProviderRefundID
	}

	now := time.Now().UTC()
	err = s.paymentRepo.TransitionStatus(ctx, payment.ID, entity.PaymentStatusCompleted, entity.PaymentStatusRefunded, repository.TransitionUpdate{
		Metadata:  metadata,
		UpdatedAt: now,
	})
	if err == repository.ErrStatusConflict {
		refreshed, findErr := s.paymentRepo.FindByID(ctx, payment.ID)
		if findErr == nil && refreshed != nil {
			payment = refreshed
		}
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "refund",
			Outcome:   entity.AuditOutcomeSuccess,
			SubjectID: payment.ID,
			Duplicate: true,
		})
		return payment, nil
	}
	if err != nil {
		s.trail.Record(entity.AuditEvent{
			ActorID:   &actor.ID,
			Action:    "refund",
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "persistence_error"},
		})
		return payment, err
	}

	payment.Status = entity.PaymentStatusRefunded
	payment.Metadata = metadata
	payment.UpdatedAt = now

	s.trail.Record(entity.AuditEvent{
		ActorID:   &actor.ID,
		Action:    "refund",
		Outcome:   entity.AuditOutcomeSuccess,
		SubjectID: payment.ID,
		Detail:    map[string]string{"method": payment.Method},
	})

	return payment, nil
}

// applyOutcome translates a gateway outcome into at most one status
// transition. Duplicate deliveries and lost compare-and-set races both land
// on the duplicate path: no mutation, an audit event tagged duplicate, and
// the current payment returned.
func (s *Orchestrator) applyOutcome(
	ctx context.Context,
	payment *entity.Payment,
	action string,
	actorID *string,
	outcome provider.PaymentOutcome,
	reason string,
	metadata map[string]string,
	providerTransactionID *string,
) (*entity.Payment, error) {
	var target entity.PaymentStatus
	switch outcome {
	case provider.OutcomeCompleted:
		target = entity.PaymentStatusCompleted
	case provider.OutcomeFailed:
		target = entity.PaymentStatusFailed
	default:
		s.trail.Record(entity.AuditEvent{
			ActorID:   actorID,
			Action:    action,
			Outcome:   entity.AuditOutcomeSuccess,
			SubjectID: payment.ID,
			Detail:    map[string]string{"state": "still_pending"},
		})
		return payment, nil
	}

	if payment.Status == target {
		s.trail.Record(entity.AuditEvent{
			ActorID:   actorID,
			Action:    action,
			Outcome:   entity.AuditOutcomeSuccess,
			SubjectID: payment.ID,
			Duplicate: true,
		})
		return payment, nil
	}

	if !entity.CanTransition(payment.Status, target) {
		s.trail.Record(entity.AuditEvent{
			ActorID:   actorID,
			Action:    action,
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail: map[string]string{
				"reason": "invalid_transition",
				"from":   string(payment.Status),
				"to":     string(target),
			},
		})
		return payment, nil
	}

	merged := cloneMetadata(payment.Metadata)
	for key, value := range metadata {
		merged[key] = value
	}

	update := repository.TransitionUpdate{
		ProviderTransactionID: providerTransactionID,
		Metadata:              merged,
		UpdatedAt:             time.Now().UTC(),
	}
	if target == entity.PaymentStatusFailed && strings.TrimSpace(reason) != "" {
		trimmed := strings.TrimSpace(reason)
		update.FailureReason = &trimmed
	}

	err := s.paymentRepo.TransitionStatus(ctx, payment.ID, payment.Status, target, update)
	if err == repository.ErrStatusConflict {
		refreshed, findErr := s.paymentRepo.FindByID(ctx, payment.ID)
		if findErr == nil && refreshed != nil {
			payment = refreshed
		}
		s.trail.Record(entity.AuditEvent{
			ActorID:   actorID,
			Action:    action,
			Outcome:   entity.AuditOutcomeSuccess,
			SubjectID: payment.ID,
			Duplicate: true,
		})
		return payment, nil
	}
	if err != nil {
		s.trail.Record(entity.AuditEvent{
			ActorID:   actorID,
			Action:    action,
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "persistence_error"},
		})
		return payment, err
	}

	payment.Status = target
	payment.Metadata = merged
	payment.FailureReason = update.FailureReason
	if providerTransactionID != nil {
		payment.ProviderTransactionID = providerTransactionID
	}
	payment.UpdatedAt = update.UpdatedAt

	s.trail.Record(entity.AuditEvent{
		ActorID:   actorID,
		Action:    action,
		Outcome:   entity.AuditOutcomeSuccess,
		SubjectID: payment.ID,
		Detail:    map[string]string{"to": string(target)},
	})

	return payment, nil
}

func (s *Orchestrator) callbackURL(method string) string {
	base := strings.TrimRight(strings.TrimSpace(s.paymentsCfg.CallbackBaseURL), "/")
	if base == "" {
		return ""
	}
	return base + "/webhooks/" + method
}

func (s *Orchestrator) batchSize() int32 {
	if s.paymentsCfg.JobBatchSize > 0 {
		return s.paymentsCfg.JobBatchSize
	}
	return defaultBatchSize
}

func cloneMetadata(src map[string]string) map[string]string {
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
