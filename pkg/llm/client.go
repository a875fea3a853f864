// Package llm calls an OpenRouter-compatible chat completion API in JSON
// mode and validates the structured output against declared schemas.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

// GenerationError marks failures of LLM generation or output validation so
// callers can distinguish them from their own errors.
type GenerationError struct {
	msg string
	err error
}

func (e *GenerationError) Error() string {
	if e.err != nil {
		return fmt.Sprintf("%s: %v", e.msg, e.err)
	}
	return e.msg
}

func (e *GenerationError) Unwrap() error { return e.err }

// Message is one chat message in a completion request.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Client talks to an OpenRouter-compatible completions endpoint. When a
// fallback model is configured, a failed request against the primary model
// is retried once against the fallback.
type Client struct {
	httpClient    *http.Client
	baseURL       string
	apiKey        string
	primaryModel  string
	fallbackModel string
	logger        *slog.Logger
}

// NewClient creates a Client. fallbackModel may be empty to disable the
// fallback retry.
func NewClient(baseURL, apiKey, primaryModel, fallbackModel string, logger *slog.Logger) *Client {
	return &Client{
		httpClient:    &http.Client{Timeout: 30 * time.Second},
		baseURL:       strings.TrimSuffix(baseURL, "/"),
		apiKey:        apiKey,
		primaryModel:  primaryModel,
		fallbackModel: fallbackModel,
		logger:        logger,
	}
}

type completionRequest struct {
	Model          string         `json:"model"`
	Messages       []Message      `json:"messages"`
	ResponseFormat responseFormat `json:"response_format"`
	Temperature    float64        `json:"temperature"`
}

type responseFormat struct {
	Type string `json:"type"`
}

type completionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Complete generates a JSON-mode completion and validates it against schema.
// The decoded, normalized output map is returned on success.
func (c *Client) Complete(ctx context.Context, messages []Message, schema Schema) (map[string]any, error) {
	messages = ensureJSONInstruction(messages, schema)

	content, err := c.request(ctx, c.primaryModel, messages)
	if err != nil && c.fallbackModel != "" {
		c.logger.Warn("Primary model request failed, retrying with fallback",
			slog.String("primary_model", c.primaryModel),
			slog.String("fallback_model", c.fallbackModel),
			slog.String("error", err.Error()))
		content, err = c.request(ctx, c.fallbackModel, messages)
	}
	if err != nil {
		return nil, &GenerationError{msg: "LLM API request failed", err: err}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &GenerationError{msg: "LLM returned empty content"}
	}

	var out map[string]any
	if err := json.Unmarshal([]byte(content), &out); err != nil {
		return nil, &GenerationError{msg: "LLM output is not valid JSON", err: err}
	}
	if schema.Normalize != nil {
		out = schema.Normalize(out)
	}
	if err := schema.validate(out); err != nil {
		return nil, &GenerationError{msg: fmt.Sprintf("LLM output failed %s schema validation", schema.Name), err: err}
	}
	return out, nil
}

func (c *Client) request(ctx context.Context, model string, messages []Message) (string, error) {
	body, err := json.Marshal(completionRequest{
		Model:          model,
		Messages:       messages,
		ResponseFormat: responseFormat{Type: "json_object"},
		Temperature:    0,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("completion request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("failed to read completion response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("completion request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded completionResponse
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("failed to decode completion response: %w", err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("completion response carried no choices")
	}
	return decoded.Choices[0].Message.Content, nil
}

// ensureJSONInstruction prepends a system message describing the expected
// JSON shape unless an existing message already mentions JSON, which the
// json_object response format requires.
func ensureJSONInstruction(messages []Message, schema Schema) []Message {
	for _, m := range messages {
		if strings.Contains(strings.ToLower(m.Content), "json") {
			return messages
		}
	}

	var fieldLines []string
	var required []string
	for _, f := range schema.Fields {
		fieldLines = append(fieldLines, fmt.Sprintf("- %q (%s)", f.Name, f.Type))
		if f.Required {
			required = append(required, f.Name)
		}
	}
	requiredHint := "none"
	if len(required) > 0 {
		requiredHint = strings.Join(required, ", ")
	}
	fieldsHint := "- (no fields)"
	if len(fieldLines) > 0 {
		fieldsHint = strings.Join(fieldLines, "\n")
	}

	instruction := Message{
		Role: "system",
		Content: "Return output as valid JSON only. " +
			"Do not include markdown, code fences, or extra commentary.\n" +
			fmt.Sprintf("Match this exact JSON schema shape. Required fields: %s.\n", requiredHint) +
			"Expected fields:\n" + fieldsHint,
	}
	return append([]Message{instruction}, messages...)
}
