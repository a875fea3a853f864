package models

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestIsKnownEventType(t *testing.T) {
	for _, eventType := range []string{
		EventTypeTranscriptSegment,
		EventTypeTranscriptFinal,
		EventTypeResume,
		EventTypeAck,
		EventTypeRuleAlert,
		EventTypeRequiredQuestionStatus,
		EventTypeGuidanceUpdate,
		EventTypePing,
		EventTypePong,
		EventTypeResync,
	} {
		assert.True(t, IsKnownEventType(eventType), eventType)
	}

	assert.False(t, IsKnownEventType("client.telemetry"))
	assert.False(t, IsKnownEventType(""))
}

func TestIsTranscriptType(t *testing.T) {
	assert.True(t, IsTranscriptType(EventTypeTranscriptSegment))
	assert.True(t, IsTranscriptType(EventTypeTranscriptFinal))
	assert.False(t, IsTranscriptType(EventTypeResume))
	assert.False(t, IsTranscriptType(EventTypeGuidanceUpdate))
}

func TestNewServerEnvelope(t *testing.T) {
	sessionID := uuid.New()
	env := NewServerEnvelope(sessionID, EventTypeGuidanceUpdate, nil)

	assert.Equal(t, sessionID, env.SessionID)

	assert.Equal(t, EventTypeGuidanceUpdate, env.Type)
	assert.Equal(t, SchemaVersion, env.SchemaVersion)
	assert.NotNil(t, env.Payload)
	assert.NotZero(t, env.EventID)
	assert.False(t, env.TsCreated.IsZero())
}
