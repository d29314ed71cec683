package service

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/novacart/ms-go-payments/app/entity"
	"github.com/novacart/ms-go-payments/app/provider"
	"github.com/novacart/ms-go-payments/app/webhook"
	"github.com/novacart/ms-go-payments/config"
)

func signPayload(secret string, payload []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return hex.EncodeToString(mac.Sum(nil))
}

func newCallbackOrchestrator(repo *fakePaymentRepo, trail *fakeTrail, authenticator *webhook.Authenticator, secrets map[string]string, gateways ...provider.Gateway) *Orchestrator {
	return NewOrchestrator(
		repo,
		provider.NewRegistry(gateways...),
		authenticator,
		trail,
		nil,
		config.PaymentsConfig{WebhookSecrets: secrets},
	)
}

func pendingPayment(txnID string) *entity.Payment {
	return &entity.Payment{
		ID:                    "p1",
		UserID:                "user-1",
		Method:                "mpesa",
		Status:                entity.PaymentStatusPending,
		ProviderTransactionID: &txnID,
		Metadata:              map[string]string{},
	}
}

func TestProcessCallbackCompletesPayment(t *testing.T) {
	repo := newFakePaymentRepo()
	repo.payments["p1"] = pendingPayment("txn-1")
	trail := &fakeTrail{}
	gateway := &fakeGateway{
		method:        "mpesa",
		callbackEvent: &provider.CallbackEvent{ProviderTransactionID: "txn-1", Outcome: provider.OutcomeCompleted},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	secret := "webhook-secret"
	s := newCallbackOrchestrator(repo, trail, authenticator, map[string]string{"mpesa": secret}, gateway)

	payload := []byte(`{"Body":{"stkCallback":{"ResultCode":0}}}`)
	r := httptest.NewRequest("POST", "/webhooks/mpesa", strings.NewReader(string(payload)))
	r.RemoteAddr = "196.201.214.200:44321"
	r.Header.Set("X-Test-Signature", signPayload(secret, payload))

	ack, err := s.ProcessCallback(context.Background(), "mpesa", r, payload)
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ack.ResultCode != 0 {
		t.Fatalf("expected positive ack, got %+v", ack)
	}

	stored, _ := repo.FindByID(context.Background(), "p1")
	if stored.Status != entity.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}
}

func TestProcessCallbackDeniedIPDoesNotTouchPayment(t *testing.T) {
	repo := newFakePaymentRepo()
	repo.payments["p1"] = pendingPayment("txn-1")
	trail := &fakeTrail{}
	gateway := &fakeGateway{
		method:        "mpesa",
		callbackEvent: &provider.CallbackEvent{ProviderTransactionID: "txn-1", Outcome: provider.OutcomeCompleted},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, trail, authenticator, nil, gateway)

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "203.0.113.9:1234"

	_, err := s.ProcessCallback(context.Background(), "mpesa", r, []byte(`{}`))
	if !errors.Is(err, ErrCallbackDenied) {
		t.Fatalf("expected ErrCallbackDenied, got %v", err)
	}

	stored, _ := repo.FindByID(context.Background(), "p1")
	if stored.Status != entity.PaymentStatusPending {
		t.Fatalf("expected payment untouched, got %s", stored.Status)
	}
	if last := trail.last(); last.Outcome != entity.AuditOutcomeDenied {
		t.Fatalf("expected denied audit, got %+v", last)
	}
}

func TestProcessCallbackInvalidSignatureDenied(t *testing.T) {
	repo := newFakePaymentRepo()
	repo.payments["p1"] = pendingPayment("txn-1")
	gateway := &fakeGateway{
		method:        "mpesa",
		callbackEvent: &provider.CallbackEvent{ProviderTransactionID: "txn-1", Outcome: provider.OutcomeCompleted},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, &fakeTrail{}, authenticator, map[string]string{"mpesa": "webhook-secret"}, gateway)

	payload := []byte(`{}`)
	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "196.201.214.200:44321"
	r.Header.Set("X-Test-Signature", "deadbeef")

	if _, err := s.ProcessCallback(context.Background(), "mpesa", r, payload); !errors.Is(err, ErrCallbackDenied) {
		t.Fatalf("expected ErrCallbackDenied, got %v", err)
	}
}

func TestProcessCallbackIsIdempotent(t *testing.T) {
	repo := newFakePaymentRepo()
	repo.payments["p1"] = pendingPayment("txn-1")
	trail := &fakeTrail{}
	gateway := &fakeGateway{
		method:        "mpesa",
		callbackEvent: &provider.CallbackEvent{ProviderTransactionID: "txn-1", Outcome: provider.OutcomeCompleted},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, trail, authenticator, nil, gateway)

	for i := 0; i < 2; i++ {
		r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
		r.RemoteAddr = "196.201.214.200:44321"
		ack, err := s.ProcessCallback(context.Background(), "mpesa", r, []byte(`{}`))
		if err != nil {
			t.Fatalf("delivery %d: expected no error, got %v", i+1, err)
		}
		if ack.ResultCode != 0 {
			t.Fatalf("delivery %d: expected positive ack", i+1)
		}
	}

	stored, _ := repo.FindByID(context.Background(), "p1")
	if stored.Status != entity.PaymentStatusCompleted {
		t.Fatalf("expected completed, got %s", stored.Status)
	}

	if last := trail.last(); !last.Duplicate {
		t.Fatalf("expected duplicate audit for the second delivery, got %+v", last)
	}
}

func TestProcessCallbackUnknownPaymentStillAcks(t *testing.T) {
	repo := newFakePaymentRepo()
	trail := &fakeTrail{}
	gateway := &fakeGateway{
		method:        "mpesa",
		callbackEvent: &provider.CallbackEvent{ProviderTransactionID: "txn-unknown", Outcome: provider.OutcomeCompleted},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, trail, authenticator, nil, gateway)

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "196.201.214.200:44321"

	ack, err := s.ProcessCallback(context.Background(), "mpesa", r, []byte(`{}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ack.ResultCode != 0 {
		t.Fatal("expected positive ack for an unknown payment")
	}
	if last := trail.last(); last.Outcome != entity.AuditOutcomeFailure || last.Detail["reason"] != "payment_not_found" {
		t.Fatalf("expected payment_not_found audit, got %+v", last)
	}
}

func TestProcessCallbackParseErrorStillAcks(t *testing.T) {
	repo := newFakePaymentRepo()
	trail := &fakeTrail{}
	gateway := &fakeGateway{method: "mpesa", callbackErr: errors.New("malformed payload")}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, trail, authenticator, nil, gateway)

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "196.201.214.200:44321"

	ack, err := s.ProcessCallback(context.Background(), "mpesa", r, []byte(`not-json`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ack.ResultCode != 0 {
		t.Fatal("expected positive ack for a parse failure")
	}
}

func TestProcessCallbackFailedOutcomeRecordsReason(t *testing.T) {
	repo := newFakePaymentRepo()
	repo.payments["p1"] = pendingPayment("txn-1")
	gateway := &fakeGateway{
		method: "mpesa",
		callbackEvent: &provider.CallbackEvent{
			ProviderTransactionID: "txn-1",
			Outcome:               provider.OutcomeFailed,
			Reason:                "insufficient funds",
		},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, &fakeTrail{}, authenticator, nil, gateway)

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "196.201.214.200:44321"

	if _, err := s.ProcessCallback(context.Background(), "mpesa", r, []byte(`{}`)); err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	stored, _ := repo.FindByID(context.Background(), "p1")
	if stored.Status != entity.PaymentStatusFailed {
		t.Fatalf("expected failed, got %s", stored.Status)
	}
	if stored.FailureReason == nil || *stored.FailureReason != "insufficient funds" {
		t.Fatal("expected failure reason recorded")
	}
}

func TestProcessCallbackRefundedPaymentRejectsCompletion(t *testing.T) {
	repo := newFakePaymentRepo()
	payment := pendingPayment("txn-1")
	payment.Status = entity.PaymentStatusRefunded
	repo.payments["p1"] = payment
	trail := &fakeTrail{}
	gateway := &fakeGateway{
		method:        "mpesa",
		callbackEvent: &provider.CallbackEvent{ProviderTransactionID: "txn-1", Outcome: provider.OutcomeCompleted},
	}
	authenticator := webhook.NewAuthenticator(webhook.Config{Allowlist: []string{"196.201.214.200"}})
	s := newCallbackOrchestrator(repo, trail, authenticator, nil, gateway)

	r := httptest.NewRequest("POST", "/webhooks/mpesa", nil)
	r.RemoteAddr = "196.201.214.200:44321"

	ack, err := s.ProcessCallback(context.Background(), "mpesa", r, []byte(`{}`))
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if ack.ResultCode != 0 {
		t.Fatal("expected positive ack")
	}

	stored, _ := repo.FindByID(context.Background(), "p1")
	if stored.Status != entity.PaymentStatusRefunded {
		t.Fatalf("expected refunded unchanged, got %s", stored.Status)
	}
	if last := trail.last(); last.Detail["reason"] != "invalid_transition" {
		t.Fatalf("expected invalid_transition audit, got %+v", last)
	}
}
