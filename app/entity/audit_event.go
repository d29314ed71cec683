package entity

import "time"

const (
	AuditOutcomeSuccess = "success"
	AuditOutcomeFailure = "failure"
	AuditOutcomeDenied  = "denied"
)

// AuditEvent is an append-only record of a security-relevant operation.
// ActorID is nil for unauthenticated webhook sources. Detail is redacted by
// the audit trail before it reaches any sink.
type AuditEvent struct {
	Timestamp time.Time
	ActorID   *string
	Action    string
	Outcome   string
	SubjectID string
	Duplicate bool
	Detail    map[string]string
}
