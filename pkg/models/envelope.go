package models

import (
	"time"

	"github.com/google/uuid"
)

// SchemaVersion is the wire schema version carried by every envelope.
const SchemaVersion = "1.0"

// Event types accepted from clients.
const (
	EventTypeTranscriptSegment = "client.transcript_segment"
	EventTypeTranscriptFinal   = "client.transcript_final"
	EventTypeResume            = "client.resume"
)

// Event types emitted by the server.
const (
	EventTypeAck                    = "server.ack"
	EventTypeRuleAlert              = "server.rule_alert"
	EventTypeRequiredQuestionStatus = "server.required_question_status"
	EventTypeGuidanceUpdate         = "server.guidance_update"
)

// System event types.
const (
	EventTypePing   = "system.ping"
	EventTypePong   = "system.pong"
	EventTypeResync = "system.resync"
)

var knownEventTypes = map[string]bool{
	EventTypeTranscriptSegment:      true,
	EventTypeTranscriptFinal:        true,
	EventTypeResume:                 true,
	EventTypeAck:                    true,
	EventTypeRuleAlert:              true,
	EventTypeRequiredQuestionStatus: true,
	EventTypeGuidanceUpdate:         true,
	EventTypePing:                   true,
	EventTypePong:                   true,
	EventTypeResync:                 true,
}

// IsKnownEventType reports whether t is part of the closed event-type set.
func IsKnownEventType(t string) bool {
	return knownEventTypes[t]
}

// IsTranscriptType reports whether t is one of the transcript event types,
// whose payloads are PII-redacted before storage.
func IsTranscriptType(t string) bool {
	return t == EventTypeTranscriptSegment || t == EventTypeTranscriptFinal
}

// EventEnvelope is the JSON frame carried by every client/server message on
// the streaming channel.
type EventEnvelope struct {
	EventID       uuid.UUID      `json:"event_id"`
	SessionID     uuid.UUID      `json:"session_id"`
	Type          string         `json:"type"`
	TsCreated     time.Time      `json:"ts_created"`
	SchemaVersion string         `json:"schema_version"`
	Payload       map[string]any `json:"payload"`
	ClientSeq     *int64         `json:"client_seq"`
	ServerSeq     *int64         `json:"server_seq"`
}

// NewServerEnvelope builds an envelope for a server-minted event.
func NewServerEnvelope(sessionID uuid.UUID, eventType string, payload map[string]any) EventEnvelope {
	if payload == nil {
		payload = map[string]any{}
	}
	return EventEnvelope{
		EventID:       uuid.New(),
		SessionID:     sessionID,
		Type:          eventType,
		TsCreated:     time.Now().UTC(),
		SchemaVersion: SchemaVersion,
		Payload:       payload,
	}
}
