package llm

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// completionStub serves canned chat completion responses and records the
// requests it received.
type completionStub struct {
	t         *testing.T
	responses map[string]string // model -> content; missing model returns 500
	requests  []completionRequest
}

func (s *completionStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		require.Equal(s.t, "/chat/completions", r.URL.Path)
		require.Equal(s.t, "Bearer test-key", r.Header.Get("Authorization"))

		var req completionRequest
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		s.requests = append(s.requests, req)

		content, ok := s.responses[req.Model]
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		resp := map[string]any{
			"choices": []any{
				map[string]any{"message": map[string]any{"content": content}},
			},
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}
}

func newTestClient(t *testing.T, stub *completionStub, fallback string) *Client {
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)
	return NewClient(srv.URL, "test-key", "primary-model", fallback, testLogger())
}

func TestComplete_Guidance(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{
		"primary-model": `{"suggested_reply":"Offer the maintenance plan","rationale":"Customer asked about upkeep","confidence":0.8}`,
	}}
	client := newTestClient(t, stub, "")

	out, err := client.Complete(context.Background(),
		GuidanceMessages([]string{"Customer: how do I maintain this?"}), GuidanceSchema())
	require.NoError(t, err)
	assert.Equal(t, "Offer the maintenance plan", out["suggested_reply"])
	assert.Equal(t, 0.8, out["confidence"])

	// json_object mode requires a JSON mention; the injected system message
	// supplies it since the guidance prompt has none.
	require.NotEmpty(t, stub.requests)
	req := stub.requests[0]
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Contains(t, req.Messages[0].Content, "valid JSON only")
	assert.Contains(t, req.Messages[0].Content, `"suggested_reply" (string)`)
	assert.Equal(t, "json_object", req.ResponseFormat.Type)
	assert.Equal(t, 0.0, req.Temperature)
}

func TestComplete_NoInstructionWhenJSONMentioned(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{
		"primary-model": `{"suggested_reply":"ok","rationale":"r","confidence":0.5}`,
	}}
	client := newTestClient(t, stub, "")

	messages := []Message{{Role: "system", Content: "Respond in JSON."}}
	_, err := client.Complete(context.Background(), messages, GuidanceSchema())
	require.NoError(t, err)

	require.Len(t, stub.requests, 1)
	assert.Len(t, stub.requests[0].Messages, 1)
}

func TestComplete_FallbackModel(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{
		"fallback-model": `{"suggested_reply":"ok","rationale":"r","confidence":0.5}`,
	}}
	client := newTestClient(t, stub, "fallback-model")

	out, err := client.Complete(context.Background(),
		GuidanceMessages([]string{"Customer: hi"}), GuidanceSchema())
	require.NoError(t, err)
	assert.Equal(t, "ok", out["suggested_reply"])

	require.Len(t, stub.requests, 2)
	assert.Equal(t, "primary-model", stub.requests[0].Model)
	assert.Equal(t, "fallback-model", stub.requests[1].Model)
}

func TestComplete_BothModelsFail(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{}}
	client := newTestClient(t, stub, "fallback-model")

	_, err := client.Complete(context.Background(),
		GuidanceMessages([]string{"Customer: hi"}), GuidanceSchema())
	require.Error(t, err)

	var genErr *GenerationError
	assert.ErrorAs(t, err, &genErr)
	assert.Len(t, stub.requests, 2)
}

func TestComplete_InvalidJSON(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{
		"primary-model": "certainly! here is your answer",
	}}
	client := newTestClient(t, stub, "")

	_, err := client.Complete(context.Background(),
		GuidanceMessages([]string{"Customer: hi"}), GuidanceSchema())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestComplete_SchemaValidationFailures(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{name: "missing field", content: `{"suggested_reply":"ok","confidence":0.5}`},
		{name: "confidence out of range", content: `{"suggested_reply":"ok","rationale":"r","confidence":1.5}`},
		{name: "wrong type", content: `{"suggested_reply":42,"rationale":"r","confidence":0.5}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stub := &completionStub{t: t, responses: map[string]string{"primary-model": tt.content}}
			client := newTestClient(t, stub, "")

			_, err := client.Complete(context.Background(),
				GuidanceMessages([]string{"Customer: hi"}), GuidanceSchema())

			var genErr *GenerationError
			require.ErrorAs(t, err, &genErr)
		})
	}
}

func TestComplete_SummaryNormalizesBulletList(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{
		"primary-model": `{"summary":["Customer reported a leak","Technician visit booked","Quoted standard rate"],"disposition":"Booked"}`,
	}}
	client := newTestClient(t, stub, "")

	out, err := client.Complete(context.Background(),
		SummaryMessages([]string{"Customer: my pipe is leaking"}), SummarySchema())
	require.NoError(t, err)
	assert.Equal(t, "- Customer reported a leak\n- Technician visit booked\n- Quoted standard rate", out["summary"])
	assert.Equal(t, "Booked", out["disposition"])
}

func TestComplete_SummaryRejectsBadDisposition(t *testing.T) {
	stub := &completionStub{t: t, responses: map[string]string{
		"primary-model": `{"summary":"fine","disposition":"Maybe"}`,
	}}
	client := newTestClient(t, stub, "")

	_, err := client.Complete(context.Background(),
		SummaryMessages([]string{"Customer: hi"}), SummarySchema())

	var genErr *GenerationError
	require.ErrorAs(t, err, &genErr)
}

func TestConversationLines(t *testing.T) {
	events := []models.Event{
		{Payload: map[string]any{"speaker": "customer", "text": "my AC died"}},
		{Payload: map[string]any{"speaker": "agent", "text": "  sorry to hear that  "}},
		{Payload: map[string]any{"text": "no speaker field"}},
		{Payload: map[string]any{"speaker": "agent", "text": "   "}},
		{Payload: nil},
	}

	lines := ConversationLines(events)
	assert.Equal(t, []string{
		"Customer: my AC died",
		"Agent: sorry to hear that",
		"Customer: no speaker field",
	}, lines)
}
