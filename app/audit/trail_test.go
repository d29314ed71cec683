package audit

import (
	"sync"
	"testing"
	"time"

	"github.com/novacart/ms-go-payments/app/entity"
)

type captureSink struct {
	mu     sync.Mutex
	events []entity.AuditEvent
}

func (s *captureSink) Append(event entity.AuditEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) all() []entity.AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]entity.AuditEvent(nil), s.events...)
}

type blockingSink struct {
	release chan struct{}
}

func (s *blockingSink) Append(_ entity.AuditEvent) error {
	<-s.release
	return nil
}

func TestRecordRedactsSensitiveKeys(t *testing.T) {
	sink := &captureSink{}
	trail := NewTrail(sink, Config{})

	trail.Record(entity.AuditEvent{
		Action:  "callback",
		Outcome: entity.AuditOutcomeSuccess,
		Detail: map[string]string{
			"phoneNumber":   "254700000000",
			"MpesaReceipt":  "QK12XYZ",
			"api_key":       "sk_live_abc",
			"TransactionId": "txn-1",
			"order_id":      "order-1",
		},
	})
	trail.Close()

	events := sink.all()
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}

	detail := events[0].Detail
	for _, key := range []string{"phoneNumber", "MpesaReceipt", "api_key", "TransactionId"} {
		if detail[key] != Redacted {
			t.Fatalf("expected %s redacted, got %q", key, detail[key])
		}
	}
	if detail["order_id"] != "order-1" {
		t.Fatalf("expected order_id preserved, got %q", detail["order_id"])
	}
}

func TestRecordSetsTimestamp(t *testing.T) {
	sink := &captureSink{}
	trail := NewTrail(sink, Config{})

	trail.Record(entity.AuditEvent{Action: "initiate", Outcome: entity.AuditOutcomeSuccess})
	trail.Close()

	events := sink.all()
	if len(events) != 1 || events[0].Timestamp.IsZero() {
		t.Fatal("expected a timestamp on the recorded event")
	}
}

func TestCloseFlushesBufferedEvents(t *testing.T) {
	sink := &captureSink{}
	trail := NewTrail(sink, Config{BufferSize: 64})

	for i := 0; i < 50; i++ {
		trail.Record(entity.AuditEvent{Action: "callback", Outcome: entity.AuditOutcomeSuccess})
	}
	trail.Close()

	if got := len(sink.all()); got != 50 {
		t.Fatalf("expected 50 events after close, got %d", got)
	}
}

func TestRecordDropsWhenBufferStaysFull(t *testing.T) {
	sink := &blockingSink{release: make(chan struct{})}
	trail := NewTrail(sink, Config{BufferSize: 1, EnqueueTimeout: 10 * time.Millisecond})

	// First event is taken by the drain goroutine and blocks in the sink,
	// the second fills the buffer, the third must be dropped.
	for i := 0; i < 3; i++ {
		trail.Record(entity.AuditEvent{Action: "callback", Outcome: entity.AuditOutcomeSuccess})
	}

	if trail.Dropped() == 0 {
		t.Fatal("expected at least one dropped event")
	}
	close(sink.release)
	trail.Close()
}

func TestRecordCustomRedactKeys(t *testing.T) {
	sink := &captureSink{}
	trail := NewTrail(sink, Config{RedactKeys: []string{"ssn"}})

	trail.Record(entity.AuditEvent{
		Action: "initiate",
		Detail: map[string]string{"customer_ssn": "123-45-6789", "phoneNumber": "254700000000"},
	})
	trail.Close()

	detail := sink.all()[0].Detail
	if detail["customer_ssn"] != Redacted {
		t.Fatal("expected configured key redacted")
	}
	if detail["phoneNumber"] == Redacted {
		t.Fatal("expected defaults replaced by configured keys")
	}
}
