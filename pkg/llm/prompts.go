package llm

import (
	"strings"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

// ConversationLines renders transcript events into "Speaker: text" lines for
// prompting. Events with empty text are skipped; a missing speaker defaults
// to Customer.
func ConversationLines(events []models.Event) []string {
	var lines []string
	for _, event := range events {
		payload := event.Payload
		if payload == nil {
			payload = map[string]any{}
		}
		speaker, _ := payload["speaker"].(string)
		if speaker == "" {
			speaker = "Customer"
		}
		text, _ := payload["text"].(string)
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		lines = append(lines, titleCase(speaker)+": "+text)
	}
	return lines
}

// titleCase uppercases the first letter of each space-separated word and
// lowercases the rest.
func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	return strings.Join(words, " ")
}

// GuidanceMessages builds the prompt for in-call guidance from rendered
// conversation lines.
func GuidanceMessages(lines []string) []Message {
	return []Message{
		{
			Role: "system",
			Content: "You are a helpful CSR assistant. " +
				"Provide a short, direct suggested reply for the agent.",
		},
		{Role: "user", Content: strings.Join(lines, "\n")},
	}
}

// SummaryMessages builds the prompt for the end-of-call summary.
func SummaryMessages(lines []string) []Message {
	return []Message{
		{
			Role: "system",
			Content: "Summarize this call in 3 bullet points and provide a disposition. " +
				"Disposition must be one of: Booked, Lead, Spam.",
		},
		{Role: "user", Content: strings.Join(lines, "\n")},
	}
}
