// Package audit standardizes audit logging for credential lifecycle
// mutations. Events go to the structured log and, when an emitter is
// configured, to a durable sink.
package audit

import (
	"context"
	"log/slog"
	"time"

	id "issuant/pkg/domain"
	"issuant/pkg/requestcontext"
)

// Event captures one lifecycle mutation. Keep it transport-agnostic so sinks
// can fan out.
type Event struct {
	Timestamp    time.Time
	ActorID      id.IdentityID
	ActorBpn     string
	CredentialID string
	Action       string
	Reason       string
	RequestID    string
}

type AuditEvent string

const (
	EventCredentialRequested AuditEvent = "credential_requested"
	EventCredentialApproved  AuditEvent = "credential_approved"
	EventCredentialDeclined  AuditEvent = "credential_declined"
	EventCredentialRevoked   AuditEvent = "credential_revoked"
	EventCredentialDeleted   AuditEvent = "credential_deleted"
	EventDocumentStored      AuditEvent = "document_stored"
)

// Emitter persists audit events. Satisfied by the outbox publisher.
type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

// Logger provides structured audit logging with optional event emission.
type Logger struct {
	textLogger *slog.Logger
	emitter    Emitter
}

// NewLogger creates an audit logger. emitter may be nil.
func NewLogger(textLogger *slog.Logger, emitter Emitter) *Logger {
	return &Logger{textLogger: textLogger, emitter: emitter}
}

// Log logs an audit event to text and optionally emits it. The request_id is
// taken from the context when present.
func (l *Logger) Log(ctx context.Context, event AuditEvent, ev Event, attributes ...any) {
	if l == nil {
		return
	}
	ev.Action = string(event)
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}
	ev.RequestID = requestcontext.RequestID(ctx)

	l.logToText(ctx, ev, attributes)
	l.emitToAudit(ctx, ev)
}

func (l *Logger) logToText(ctx context.Context, ev Event, attributes []any) {
	if l.textLogger == nil {
		return
	}
	args := append(attributes,
		"event", ev.Action,
		"credential_id", ev.CredentialID,
		"actor_bpn", ev.ActorBpn,
		"log_type", "audit",
	)
	if ev.RequestID != "" {
		args = append(args, "request_id", ev.RequestID)
	}
	l.textLogger.InfoContext(ctx, ev.Action, args...)
}

func (l *Logger) emitToAudit(ctx context.Context, ev Event) {
	if l.emitter == nil {
		return
	}
	if err := l.emitter.Emit(ctx, ev); err != nil && l.textLogger != nil {
		// audit emission must not fail the business operation
		l.textLogger.WarnContext(ctx, "audit emit failed", "error", err, "event", ev.Action)
	}
}
