package audit

import (
	"strings"
	"sync"
	"time"

	"github.com/novacart/ms-go-payments/app/entity"
	"github.com/novacart/ms-go-payments/app/factory"
	"github.com/sirupsen/logrus"
)

const Redacted = "[REDACTED]"

// DefaultRedactKeys are normalized fragments; any detail key whose normalized
// form contains one of them is redacted. Covers password/token/secret/apiKey,
// phone numbers, receipt numbers, and transaction-id-like fields.
var DefaultRedactKeys = []string{
	"password",
	"token",
	"secret",
	"apikey",
	"phone",
	"msisdn",
	"receipt",
	"transaction",
}

// Sink is the storage medium behind the trail: a structured log, a database
// table, or both. Append is called from a single writer goroutine.
type Sink interface {
	Append(event entity.AuditEvent) error
}

// LogSink writes audit events as structured log lines.
type LogSink struct {
	logger logrus.FieldLogger
}

func NewLogSink() *LogSink {
	return &LogSink{logger: factory.NewModuleLogger("audit")}
}

func (s *LogSink) Append(event entity.AuditEvent) error {
	entry := s.logger.WithFields(logrus.Fields{
		"action":     event.Action,
		"outcome":    event.Outcome,
		"subject_id": event.SubjectID,
		"duplicate":  event.Duplicate,
		"detail":     event.Detail,
	})
	if event.ActorID != nil {
		entry = entry.WithField("actor_id", *event.ActorID)
	}
	entry.Info("audit_event")
	return nil
}

// FanoutSink appends to every sink, keeping the first error.
type FanoutSink struct {
	sinks []Sink
}

func NewFanoutSink(sinks ...Sink) *FanoutSink {
	return &FanoutSink{sinks: sinks}
}

func (s *FanoutSink) Append(event entity.AuditEvent) error {
	var firstErr error
	for _, sink := range s.sinks {
		if err := sink.Append(event); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

type Config struct {
	RedactKeys     []string
	BufferSize     int
	EnqueueTimeout time.Duration
}

// Trail is an append-only, redacting recorder. Record redacts and enqueues;
// a single goroutine drains to the sink so callers are never blocked beyond
// the enqueue timeout.
type Trail struct {
	sink           Sink
	redactKeys     []string
	events         chan entity.AuditEvent
	enqueueTimeout time.Duration
	logger         logrus.FieldLogger

	mu      sync.Mutex
	dropped int64
	done    chan struct{}
	closed  bool
}

func NewTrail(sink Sink, cfg Config) *Trail {
	redactKeys := cfg.RedactKeys
	if len(redactKeys) == 0 {
		redactKeys = DefaultRedactKeys
	}
	normalized := make([]string, 0, len(redactKeys))
	for _, key := range redactKeys {
		if k := normalizeKey(key); k != "" {
			normalized = append(normalized, k)
		}
	}

	bufferSize := cfg.BufferSize
	if bufferSize <= 0 {
		bufferSize = 256
	}
	enqueueTimeout := cfg.EnqueueTimeout
	if enqueueTimeout <= 0 {
		enqueueTimeout = 100 * time.Millisecond
	}

	t := &Trail{
		sink:           sink,
		redactKeys:     normalized,
		events:         make(chan entity.AuditEvent, bufferSize),
		enqueueTimeout: enqueueTimeout,
		logger:         factory.NewModuleLogger("audit-trail"),
		done:           make(chan struct{}),
	}
	go t.drain()
	return t
}

// Record redacts the event detail and enqueues it. Redaction happens here,
// not at call sites, so callers cannot forget it. When the buffer stays full
// past the enqueue timeout the event is dropped and counted; recording must
// never stall request handling.
func (t *Trail) Record(event entity.AuditEvent) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	event.Detail = t.redact(event.Detail)

	timer := time.NewTimer(t.enqueueTimeout)
	defer timer.Stop()

	select {
	case t.events <- event:
	case <-timer.C:
		t.mu.Lock()
		t.dropped++
		dropped := t.dropped
		t.mu.Unlock()
		t.logger.WithFields(logrus.Fields{
			"action":        event.Action,
			"dropped_total": dropped,
		}).Warn("Audit buffer full, event dropped")
	}
}

// Dropped returns how many events were discarded because the buffer was full.
func (t *Trail) Dropped() int64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.dropped
}

// Close flushes buffered events and stops the writer goroutine.
func (t *Trail) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	t.mu.Unlock()

	close(t.events)
	<-t.done
}

func (t *Trail) drain() {
	defer close(t.done)
	for event := range t.events {
		if err := t.sink.Append(event); err != nil {
			t.logger.WithError(err).WithField("action", event.Action).Error("Audit sink append failed")
		}
	}
}

func (t *Trail) redact(detail map[string]string) map[string]string {
	if len(detail) == 0 {
		return map[string]string{}
	}
	out := make(map[string]string, len(detail))
	for key, value := range detail {
		if t.sensitiveKey(key) {
			out[key] = Redacted
			continue
		}
		out[key] = value
	}
	return out
}

func (t *Trail) sensitiveKey(key string) bool {
	normalized := normalizeKey(key)
	for _, fragment := range t.redactKeys {
		if strings.Contains(normalized, fragment) {
			return true
		}
	}
	return false
}

func normalizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(key)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}
