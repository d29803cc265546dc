package nextstep

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// AuditEvent is a structured audit record emitted by the engine for every
// authentication attempt, blocking transition, and lifecycle change.
type AuditEvent struct {
	Timestamp    time.Time         `json:"timestamp"`
	EventType    string            `json:"event_type"`
	OperationID  string            `json:"operation_id,omitempty"`
	UserID       string            `json:"user_id,omitempty"`
	CredentialID string            `json:"credential_id,omitempty"`
	OtpID        string            `json:"otp_id,omitempty"`
	AuthMethod   AuthMethod        `json:"auth_method,omitempty"`
	Success      bool              `json:"success"`
	Error        string            `json:"error,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// AuditSink receives audit events from the engine's dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

// NoOpSink discards all events.
type NoOpSink struct{}

// Emit implements AuditSink.
func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink is a buffered channel-based AuditSink for in-process consumers.
type ChannelSink struct {
	events chan AuditEvent
}

// NewChannelSink creates a ChannelSink with the given buffer capacity.
func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

// Emit implements AuditSink.
func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

// Events exposes the receive side of the sink.
func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink writes JSON-encoded events, one per line, to an io.Writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

// NewJSONWriterSink creates a JSONWriterSink writing to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

// Emit implements AuditSink.
func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

const (
	auditEventOperationCreated    = "operation_created"
	auditEventOperationUpdated    = "operation_updated"
	auditEventOperationDone       = "operation_done"
	auditEventOperationFailed     = "operation_failed"
	auditEventOperationCanceled   = "operation_canceled"
	auditEventCredentialAuth      = "credential_authentication"
	auditEventOtpAuth             = "otp_authentication"
	auditEventCombinedAuth        = "combined_authentication"
	auditEventCredentialCreated   = "credential_created"
	auditEventCredentialUpdated   = "credential_updated"
	auditEventCredentialRemoved   = "credential_removed"
	auditEventCredentialBlocked   = "credential_blocked"
	auditEventCredentialUnblocked = "credential_unblocked"
	auditEventOtpCreated          = "otp_created"
	auditEventOtpRemoved          = "otp_removed"
	auditEventCountersReset       = "counters_reset"
	auditEventUserCreated         = "user_created"
	auditEventUserUpdated         = "user_updated"
	auditEventUserBlocked         = "user_blocked"
	auditEventUserUnblocked       = "user_unblocked"
	auditEventUserRemoved         = "user_removed"
)
