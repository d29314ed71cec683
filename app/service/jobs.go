package service

import (
	"context"
	"fmt"
	"time"

	"github.com/novacart/ms-go-payments/app/entity"
)

// RunReconcileBatch verifies one batch of stale pending payments against
// their gateways. A payment is stale when it has a provider transaction id
// and has not been touched for the configured window, which usually means a
// callback was lost.
func (s *Orchestrator) RunReconcileBatch(ctx context.Context) error {
	staleAfter := s.paymentsCfg.ReconcileStaleAfter
	if staleAfter <= 0 {
		staleAfter = 15 * time.Minute
	}
	before := time.Now().UTC().Add(-staleAfter)

	payments, err := s.paymentRepo.ListStalePending(ctx, before, s.batchSize())
	if err != nil {
		return fmt.Errorf("listing stale pending payments: %w", err)
	}
	if len(payments) == 0 {
		return nil
	}

	s.logger.WithField("count", len(payments)).Info("Reconciling stale pending payments")

	var firstErr error
	for _, payment := range payments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := s.reconcileOne(ctx, payment); err != nil {
			s.logger.WithError(err).WithField("payment_id", payment.ID).Error("Reconcile failed for payment")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

func (s *Orchestrator) reconcileOne(ctx context.Context, payment *entity.Payment) error {
	gateway, err := s.registry.Resolve(payment.Method)
	if err != nil {
		return err
	}

	output, err := gateway.Verify(ctx, *payment.ProviderTransactionID)
	if err != nil {
		s.trail.Record(entity.AuditEvent{
			Action:    "reconcile",
			Outcome:   entity.AuditOutcomeFailure,
			SubjectID: payment.ID,
			Detail:    map[string]string{"reason": "gateway_error"},
		})
		return err
	}

	_, err = s.applyOutcome(ctx, payment, "reconcile", nil, output.Outcome, output.Reason, output.Metadata, nil)
	return err
}
