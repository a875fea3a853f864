package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackcarlos19/csr-call-assistant/pkg/hub"
	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
	"github.com/jackcarlos19/csr-call-assistant/pkg/redact"
	"github.com/jackcarlos19/csr-call-assistant/pkg/store"
)

type memorySessionStore struct {
	mu       sync.Mutex
	sessions map[uuid.UUID]*models.Session
}

func (m *memorySessionStore) GetSession(_ context.Context, id uuid.UUID) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	session, ok := m.sessions[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := *session
	return &copied, nil
}

type storedEvent struct {
	eventID uuid.UUID
	seq     int64
	typ     string
	payload map[string]any
}

type memoryEventStore struct {
	mu        sync.Mutex
	bySession map[uuid.UUID][]storedEvent
	appendErr error
}

func (m *memoryEventStore) AppendEvent(_ context.Context, sessionID, eventID uuid.UUID, eventType string, payload map[string]any) (int64, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendErr != nil {
		return 0, false, m.appendErr
	}
	if m.bySession == nil {
		m.bySession = make(map[uuid.UUID][]storedEvent)
	}
	for _, e := range m.bySession[sessionID] {
		if e.eventID == eventID {
			return e.seq, false, nil
		}
	}
	seq := int64(len(m.bySession[sessionID]) + 1)
	m.bySession[sessionID] = append(m.bySession[sessionID], storedEvent{
		eventID: eventID, seq: seq, typ: eventType, payload: payload,
	})
	return seq, true, nil
}

func (m *memoryEventStore) EventsAfter(_ context.Context, sessionID uuid.UUID, cursor int64) ([]models.Event, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Event
	for _, e := range m.bySession[sessionID] {
		if e.seq > cursor {
			out = append(out, models.Event{
				SessionID: sessionID,
				EventID:   e.eventID,
				ServerSeq: e.seq,
				Type:      e.typ,
				Payload:   e.payload,
				CreatedAt: time.Now().UTC(),
			})
		}
	}
	return out, nil
}

func (m *memoryEventStore) stored(sessionID uuid.UUID) []storedEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]storedEvent(nil), m.bySession[sessionID]...)
}

type fakeRules struct {
	mu     sync.Mutex
	events []models.EventEnvelope
	texts  []string
}

func (f *fakeRules) Evaluate(_ context.Context, sessionID uuid.UUID, _ *string, text string) ([]models.EventEnvelope, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
	out := make([]models.EventEnvelope, len(f.events))
	for i, e := range f.events {
		e.SessionID = sessionID
		e.EventID = uuid.New()
		out[i] = e
	}
	return out, nil
}

func (f *fakeRules) seenTexts() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.texts...)
}

type fakeGuidance struct {
	mu        sync.Mutex
	scheduled []uuid.UUID
}

func (f *fakeGuidance) Schedule(sessionID uuid.UUID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scheduled = append(f.scheduled, sessionID)
}

func (f *fakeGuidance) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.scheduled)
}

type fixture struct {
	sessions  *memorySessionStore
	events    *memoryEventStore
	rules     *fakeRules
	guidance  *fakeGuidance
	hub       *hub.Hub
	server    *httptest.Server
	sessionID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	sessionID := uuid.New()
	f := &fixture{
		sessions: &memorySessionStore{sessions: map[uuid.UUID]*models.Session{
			sessionID: {ID: sessionID, Status: models.SessionStatusActive},
		}},
		events:    &memoryEventStore{},
		rules:     &fakeRules{},
		guidance:  &fakeGuidance{},
		sessionID: sessionID,
	}
	logger := slog.New(slog.DiscardHandler)
	f.hub = hub.New(5*time.Second, logger, hub.WithHeartbeatInterval(time.Hour))
	t.Cleanup(f.hub.Close)

	pipeline := NewPipeline(f.sessions, f.events, f.rules, f.guidance, f.hub, redact.New(redact.ModeBasic), logger)
	f.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(strings.TrimPrefix(r.URL.Path, "/ws/session/"))
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		conn, err := websocket.Accept(w, r, nil)
		if err != nil {
			return
		}
		pipeline.HandleConnection(r.Context(), id, conn)
	}))
	t.Cleanup(f.server.Close)
	return f
}

func (f *fixture) dial(t *testing.T, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session/" + sessionID.String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func sendEnvelope(t *testing.T, conn *websocket.Conn, envelope models.EventEnvelope) {
	t.Helper()
	data, err := json.Marshal(envelope)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, data))
}

func readEnvelope(t *testing.T, conn *websocket.Conn) models.EventEnvelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, data, err := conn.Read(ctx)
	require.NoError(t, err)
	var envelope models.EventEnvelope
	require.NoError(t, json.Unmarshal(data, &envelope))
	return envelope
}

// readUntil reads frames until one of the given type arrives.
func readUntil(t *testing.T, conn *websocket.Conn, eventType string) models.EventEnvelope {
	t.Helper()
	for range 20 {
		envelope := readEnvelope(t, conn)
		if envelope.Type == eventType {
			return envelope
		}
	}
	t.Fatalf("never received %s", eventType)
	return models.EventEnvelope{}
}

func clientSegment(sessionID uuid.UUID, clientSeq int64, text string) models.EventEnvelope {
	return models.EventEnvelope{
		EventID:       uuid.New(),
		SessionID:     sessionID,
		Type:          models.EventTypeTranscriptSegment,
		TsCreated:     time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
		Payload:       map[string]any{"speaker": "customer", "text": text},
		ClientSeq:     &clientSeq,
	}
}

func TestTranscript_PersistBroadcastAck(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)
	observer := f.dial(t, f.sessionID)

	require.Eventually(t, func() bool { return f.hub.SubscriberCount(f.sessionID) == 2 }, time.Second, 5*time.Millisecond)

	segment := clientSegment(f.sessionID, 1, "my heater is broken")
	sendEnvelope(t, sender, segment)

	// The sender subscribes to the session too, so it sees the broadcast
	// before its ack.
	broadcast := readUntil(t, sender, models.EventTypeTranscriptSegment)
	require.NotNil(t, broadcast.ServerSeq)
	assert.Equal(t, int64(1), *broadcast.ServerSeq)
	assert.Equal(t, segment.EventID, broadcast.EventID)

	ack := readUntil(t, sender, models.EventTypeAck)
	assert.Equal(t, segment.EventID, ack.EventID)
	assert.Equal(t, map[string]any{"acknowledged": true}, ack.Payload)
	require.NotNil(t, ack.ClientSeq)
	assert.Equal(t, int64(1), *ack.ClientSeq)
	require.NotNil(t, ack.ServerSeq)
	assert.Equal(t, int64(1), *ack.ServerSeq)

	observed := readUntil(t, observer, models.EventTypeTranscriptSegment)
	assert.Equal(t, segment.EventID, observed.EventID)

	stored := f.events.stored(f.sessionID)
	require.Len(t, stored, 1)
	assert.Equal(t, models.EventTypeTranscriptSegment, stored[0].typ)
	assert.Equal(t, 1, f.guidance.count())
}

func TestTranscript_PIIRedactedBeforeStorageAndFanout(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "email me at jane@example.com or 555-123-4567"))

	broadcast := readUntil(t, sender, models.EventTypeTranscriptSegment)
	assert.Equal(t, "email me at [EMAIL] or [PHONE]", broadcast.Payload["text"])

	readUntil(t, sender, models.EventTypeAck)
	stored := f.events.stored(f.sessionID)
	require.Len(t, stored, 1)
	assert.Equal(t, "email me at [EMAIL] or [PHONE]", stored[0].payload["text"])
}

func TestTranscript_DuplicateAckedNotRebroadcast(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	segment := clientSegment(f.sessionID, 1, "hello")
	sendEnvelope(t, sender, segment)
	first := readUntil(t, sender, models.EventTypeAck)

	sendEnvelope(t, sender, segment)
	// The retry is acked with the original sequence and nothing else is
	// emitted in between.
	second := readEnvelope(t, sender)
	assert.Equal(t, models.EventTypeAck, second.Type)
	assert.Equal(t, *first.ServerSeq, *second.ServerSeq)

	assert.Len(t, f.events.stored(f.sessionID), 1)
}

func TestTranscript_RuleAlertAppendedAndBroadcast(t *testing.T) {
	f := newFixture(t)
	f.rules.events = []models.EventEnvelope{
		models.NewServerEnvelope(uuid.Nil, models.EventTypeRuleAlert, map[string]any{
			"rule_id":  "emergency_urgency",
			"kind":     "keyword_alert",
			"severity": "high",
		}),
	}
	sender := f.dial(t, f.sessionID)

	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "this is an emergency"))

	alert := readUntil(t, sender, models.EventTypeRuleAlert)
	assert.Equal(t, "emergency_urgency", alert.Payload["rule_id"])
	require.NotNil(t, alert.ServerSeq)
	assert.Equal(t, int64(2), *alert.ServerSeq)

	readUntil(t, sender, models.EventTypeAck)
	stored := f.events.stored(f.sessionID)
	require.Len(t, stored, 2)
	assert.Equal(t, models.EventTypeRuleAlert, stored[1].typ)
}

func TestTranscript_RulesSeeRawText(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "call me at 555-123-4567"))
	readUntil(t, sender, models.EventTypeAck)

	texts := f.rules.seenTexts()
	require.Len(t, texts, 1)
	assert.Equal(t, "call me at 555-123-4567", texts[0])
}

func TestTranscript_FinalEvaluatesRules(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	envelope := clientSegment(f.sessionID, 1, "wrapping up now")
	envelope.Type = models.EventTypeTranscriptFinal
	sendEnvelope(t, sender, envelope)
	readUntil(t, sender, models.EventTypeAck)

	assert.Len(t, f.rules.seenTexts(), 1)
}

func TestResume_ReplaysOnlyAfterCursor(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	for i, text := range []string{"one", "two", "three"} {
		sendEnvelope(t, sender, clientSegment(f.sessionID, int64(i+1), text))
		readUntil(t, sender, models.EventTypeAck)
	}

	observer := f.dial(t, f.sessionID)
	resume := models.EventEnvelope{
		EventID:       uuid.New(),
		SessionID:     f.sessionID,
		Type:          models.EventTypeResume,
		TsCreated:     time.Now().UTC(),
		SchemaVersion: models.SchemaVersion,
		Payload:       map[string]any{"last_server_seq": 1},
	}
	sendEnvelope(t, observer, resume)

	first := readEnvelope(t, observer)
	require.NotNil(t, first.ServerSeq)
	assert.Equal(t, int64(2), *first.ServerSeq)
	assert.Equal(t, "two", first.Payload["text"])

	second := readEnvelope(t, observer)
	require.NotNil(t, second.ServerSeq)
	assert.Equal(t, int64(3), *second.ServerSeq)
}

func TestResume_InvalidCursorIgnored(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	for _, payload := range []map[string]any{
		{},
		{"last_server_seq": "five"},
		{"last_server_seq": 1.5},
	} {
		resume := models.EventEnvelope{
			EventID:       uuid.New(),
			SessionID:     f.sessionID,
			Type:          models.EventTypeResume,
			TsCreated:     time.Now().UTC(),
			SchemaVersion: models.SchemaVersion,
			Payload:       payload,
		}
		sendEnvelope(t, sender, resume)
	}

	// The connection stays usable: a normal segment still round-trips.
	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "still here"))
	readUntil(t, sender, models.EventTypeAck)
}

func TestConnection_UnknownSessionClosed(t *testing.T) {
	f := newFixture(t)
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session/" + uuid.New().String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	require.Error(t, err)
	var closeErr websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.StatusPolicyViolation, closeErr.Code)
	assert.Equal(t, "Session not found or inactive", closeErr.Reason)
}

func TestConnection_CompletedSessionClosed(t *testing.T) {
	f := newFixture(t)
	completedID := uuid.New()
	f.sessions.mu.Lock()
	f.sessions.sessions[completedID] = &models.Session{ID: completedID, Status: models.SessionStatusCompleted}
	f.sessions.mu.Unlock()

	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/session/" + completedID.String()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	defer conn.Close(websocket.StatusNormalClosure, "")

	_, _, err = conn.Read(ctx)
	var closeErr websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.StatusPolicyViolation, closeErr.Code)
}

func TestTranscript_SessionCompletedMidStreamDropped(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "hello"))
	readUntil(t, sender, models.EventTypeAck)

	f.events.mu.Lock()
	f.events.appendErr = store.ErrSessionCompleted
	f.events.mu.Unlock()

	sendEnvelope(t, sender, clientSegment(f.sessionID, 2, "too late"))

	// The event is dropped without an ack; the channel itself stays open.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err := sender.Read(ctx)
	assert.Error(t, err)
	assert.True(t, errors.Is(err, context.DeadlineExceeded), fmt.Sprintf("unexpected read result: %v", err))
}

func TestInvalidJSONIgnored(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, sender.Write(ctx, websocket.MessageText, []byte("not json")))

	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "still works"))
	readUntil(t, sender, models.EventTypeAck)
}

func TestUnsupportedTypeIgnored(t *testing.T) {
	f := newFixture(t)
	sender := f.dial(t, f.sessionID)

	// Neither an unknown type nor a server-minted type sent by a client is
	// persisted or acked.
	for _, eventType := range []string{"client.telemetry", models.EventTypeGuidanceUpdate} {
		sendEnvelope(t, sender, models.EventEnvelope{
			EventID:       uuid.New(),
			SessionID:     f.sessionID,
			Type:          eventType,
			TsCreated:     time.Now().UTC(),
			SchemaVersion: models.SchemaVersion,
			Payload:       map[string]any{},
		})
	}

	sendEnvelope(t, sender, clientSegment(f.sessionID, 1, "still works"))
	ack := readUntil(t, sender, models.EventTypeAck)
	require.NotNil(t, ack.ServerSeq)
	assert.Equal(t, int64(1), *ack.ServerSeq)
}
