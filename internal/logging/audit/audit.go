package audit

import (
	"github.com/rs/zerolog"
)

// Result values recorded in audit events.
const (
	ResultApplied  = "applied"
	ResultRejected = "rejected"
	ResultAllowed  = "allowed"
	ResultDenied   = "denied"
)

// Logger provides structured audit logging for AAA mutations and access
// decisions. All events carry an event_type field for filtering.
type Logger struct {
	logger zerolog.Logger
}

// NewLogger creates a new audit logger from a zerolog.Logger.
func NewLogger(logger zerolog.Logger) *Logger {
	return &Logger{logger: logger}
}

// Nop returns an audit logger that discards every event.
func Nop() *Logger {
	return &Logger{logger: zerolog.Nop()}
}

func levelFor(result string) zerolog.Level {
	if result == ResultRejected || result == ResultDenied {
		return zerolog.WarnLevel
	}
	return zerolog.InfoLevel
}

// LogReplication logs a mutation received from a cluster peer.
// peer: remote address of the connection (may be empty)
// op: replication operation ("write", "update", "delete")
// entity: entity kind (e.g., "user", "domain")
// entityID: identifier of the entity
// result: "applied" or "rejected"
// details: additional context (e.g., why it was rejected)
func (l *Logger) LogReplication(peer, op, entity, entityID, result, details string) {
	event := l.logger.WithLevel(levelFor(result)).
		Str("event_type", "replication").
		Str("op", op).
		Str("entity", entity).
		Str("entity_id", entityID).
		Str("result", result)

	if peer != "" {
		event = event.Str("peer", peer)
	}
	if details != "" {
		event = event.Str("details", details)
	}

	event.Msg("Replication event")
}

// LogPublish logs a local mutation fanned out to the cluster.
// delivered and failed count peers; any failure logs at warn.
func (l *Logger) LogPublish(op, entity, entityID string, delivered, failed int) {
	level := zerolog.InfoLevel
	if failed > 0 {
		level = zerolog.WarnLevel
	}

	l.logger.WithLevel(level).
		Str("event_type", "publish").
		Str("op", op).
		Str("entity", entity).
		Str("entity_id", entityID).
		Int("delivered", delivered).
		Int("failed", failed).
		Msg("Publish event")
}

// LogAuthz logs an authorization decision.
// userID: the user performing the operation
// verb: operation verb (e.g., "get", "create", "delete")
// resource: resource type (e.g., "users", "grants")
// domain: domain the check was scoped to (may be empty)
// result: "allowed" or "denied"
// reason: why access was denied (empty for allowed)
func (l *Logger) LogAuthz(userID, verb, resource, domain, result, reason string) {
	event := l.logger.WithLevel(levelFor(result)).
		Str("event_type", "authz").
		Str("user_id", userID).
		Str("verb", verb).
		Str("resource", resource).
		Str("result", result)

	if domain != "" {
		event = event.Str("domain", domain)
	}
	if reason != "" {
		event = event.Str("reason", reason)
	}

	event.Msg("Authorization event")
}
