// Package ws implements the realtime session channel: it decodes client
// envelopes, drives the persist-then-fanout pipeline, and serves resume
// replay.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/hub"
	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
	"github.com/jackcarlos19/csr-call-assistant/pkg/redact"
	"github.com/jackcarlos19/csr-call-assistant/pkg/store"
)

// SessionStore looks up sessions for connection admission.
type SessionStore interface {
	GetSession(ctx context.Context, id uuid.UUID) (*models.Session, error)
}

// EventStore persists and replays session events.
type EventStore interface {
	AppendEvent(ctx context.Context, sessionID, eventID uuid.UUID, eventType string, payload map[string]any) (int64, bool, error)
	EventsAfter(ctx context.Context, sessionID uuid.UUID, cursor int64) ([]models.Event, error)
}

// RuleEvaluator evaluates transcript text against the active rules.
type RuleEvaluator interface {
	Evaluate(ctx context.Context, sessionID uuid.UUID, tenantID *string, text string) ([]models.EventEnvelope, error)
}

// GuidanceScheduler arms the debounced guidance generation.
type GuidanceScheduler interface {
	Schedule(sessionID uuid.UUID)
}

// Pipeline handles one WebSocket connection end to end.
type Pipeline struct {
	sessions SessionStore
	events   EventStore
	rules    RuleEvaluator
	guidance GuidanceScheduler
	hub      *hub.Hub
	redactor *redact.Redactor
	logger   *slog.Logger
}

// NewPipeline wires the connection pipeline.
func NewPipeline(sessions SessionStore, events EventStore, rules RuleEvaluator, guidance GuidanceScheduler, h *hub.Hub, redactor *redact.Redactor, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		sessions: sessions,
		events:   events,
		rules:    rules,
		guidance: guidance,
		hub:      h,
		redactor: redactor,
		logger:   logger,
	}
}

// wsConn adapts *websocket.Conn to the hub's write interface.
type wsConn struct {
	conn *websocket.Conn
}

func (c wsConn) Write(ctx context.Context, data []byte) error {
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// HandleConnection runs the read loop for an upgraded connection. Blocks
// until the connection closes. Connections to unknown or completed sessions
// are closed with policy violation.
func (p *Pipeline) HandleConnection(ctx context.Context, sessionID uuid.UUID, conn *websocket.Conn) {
	session, err := p.sessions.GetSession(ctx, sessionID)
	if err != nil || !session.Active() {
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			p.logger.Error("Failed to look up session for WebSocket",
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()))
		}
		_ = conn.Close(websocket.StatusPolicyViolation, "Session not found or inactive")
		return
	}

	sub := p.hub.Register(ctx, sessionID, wsConn{conn: conn})
	defer p.hub.Unregister(sub)

	p.logger.Info("WebSocket connected", slog.String("session_id", sessionID.String()))
	defer p.logger.Info("WebSocket disconnected", slog.String("session_id", sessionID.String()))

	for {
		_, data, err := conn.Read(sub.Context())
		if err != nil {
			return
		}

		var envelope models.EventEnvelope
		if err := json.Unmarshal(data, &envelope); err != nil {
			p.logger.Warn("Invalid event envelope",
				slog.String("session_id", sessionID.String()),
				slog.String("error", err.Error()))
			continue
		}

		switch {
		case envelope.Type == models.EventTypePong:
			p.hub.Touch(sub)

		case envelope.Type == models.EventTypeResync:
			// Accepted for forward compatibility; clients recover via resume.

		case envelope.Type == models.EventTypeResume:
			if !p.handleResume(ctx, sub, sessionID, envelope.Payload) {
				return
			}

		case models.IsTranscriptType(envelope.Type):
			if !p.handleTranscript(ctx, sub, session, envelope) {
				return
			}

		case models.IsKnownEventType(envelope.Type):
			p.logger.Warn("Event type not accepted from clients",
				slog.String("session_id", sessionID.String()),
				slog.String("type", envelope.Type))

		default:
			p.logger.Warn("Unknown event type",
				slog.String("session_id", sessionID.String()),
				slog.String("type", envelope.Type))
		}
	}
}

// handleTranscript runs the primary path: redact, persist, fan out, evaluate
// rules, arm guidance, ack. Returns false when the connection should close.
func (p *Pipeline) handleTranscript(ctx context.Context, sub *hub.Subscriber, session *models.Session, envelope models.EventEnvelope) bool {
	sessionID := session.ID
	redacted := p.redactor.Payload(envelope.Payload)
	if redacted == nil {
		redacted = map[string]any{}
	}

	seq, fresh, err := p.events.AppendEvent(ctx, sessionID, envelope.EventID, envelope.Type, redacted)
	if err != nil {
		if errors.Is(err, store.ErrSessionCompleted) || errors.Is(err, store.ErrNotFound) {
			p.logger.Warn("Dropping event for inactive session",
				slog.String("session_id", sessionID.String()),
				slog.String("event_id", envelope.EventID.String()))
			return true
		}
		p.logger.Error("Failed to persist event",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		return false
	}

	// Duplicate deliveries are acked with their original sequence but not
	// re-broadcast and not re-evaluated.
	if fresh {
		outbound := envelope
		outbound.SessionID = sessionID
		outbound.SchemaVersion = models.SchemaVersion
		outbound.Payload = redacted
		outbound.ServerSeq = &seq
		p.hub.Broadcast(sessionID, outbound)

		p.evaluateRules(ctx, session, envelope)
	}

	p.guidance.Schedule(sessionID)

	ack := models.EventEnvelope{
		EventID:       envelope.EventID,
		SessionID:     sessionID,
		Type:          models.EventTypeAck,
		TsCreated:     envelope.TsCreated,
		SchemaVersion: models.SchemaVersion,
		Payload:       map[string]any{"acknowledged": true},
		ClientSeq:     envelope.ClientSeq,
		ServerSeq:     &seq,
	}
	if err := p.hub.Send(sub, ack); err != nil {
		return false
	}
	return true
}

// evaluateRules matches the raw transcript text against the active rules
// and persists and fans out each triggered event. Rule failures never block
// the transcript path.
func (p *Pipeline) evaluateRules(ctx context.Context, session *models.Session, envelope models.EventEnvelope) {
	text, _ := envelope.Payload["text"].(string)
	if text == "" {
		return
	}

	ruleEvents, err := p.rules.Evaluate(ctx, session.ID, session.TenantID, text)
	if err != nil {
		p.logger.Error("Rule evaluation failed",
			slog.String("session_id", session.ID.String()),
			slog.String("error", err.Error()))
		return
	}

	for _, ruleEvent := range ruleEvents {
		seq, _, err := p.events.AppendEvent(ctx, session.ID, ruleEvent.EventID, ruleEvent.Type, ruleEvent.Payload)
		if err != nil {
			p.logger.Error("Failed to persist rule event",
				slog.String("session_id", session.ID.String()),
				slog.String("type", ruleEvent.Type),
				slog.String("error", err.Error()))
			continue
		}
		ruleEvent.ServerSeq = &seq
		p.hub.Broadcast(session.ID, ruleEvent)
	}
}

// handleResume replays every stored event after the client's cursor to this
// subscriber only. Returns false when the connection should close.
func (p *Pipeline) handleResume(ctx context.Context, sub *hub.Subscriber, sessionID uuid.UUID, payload map[string]any) bool {
	cursor, ok := resumeCursor(payload)
	if !ok {
		p.logger.Warn("Resume request missing valid last_server_seq",
			slog.String("session_id", sessionID.String()))
		return true
	}

	missed, err := p.events.EventsAfter(ctx, sessionID, cursor)
	if err != nil {
		p.logger.Error("Failed to load events for resume",
			slog.String("session_id", sessionID.String()),
			slog.String("error", err.Error()))
		return true
	}

	for _, event := range missed {
		seq := event.ServerSeq
		replay := models.EventEnvelope{
			EventID:       event.EventID,
			SessionID:     sessionID,
			Type:          event.Type,
			TsCreated:     event.CreatedAt,
			SchemaVersion: models.SchemaVersion,
			Payload:       event.Payload,
			ServerSeq:     &seq,
		}
		if err := p.hub.Send(sub, replay); err != nil {
			return false
		}
	}
	return true
}

// resumeCursor extracts an integral last_server_seq from a resume payload.
func resumeCursor(payload map[string]any) (int64, bool) {
	raw, ok := payload["last_server_seq"]
	if !ok {
		return 0, false
	}
	f, ok := raw.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int64(f), true
}
