package llm

import (
	"fmt"
	"strings"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

// FieldSpec describes one expected field of a structured completion.
type FieldSpec struct {
	Name     string
	Type     string
	Required bool
}

// Schema declares the shape a completion must satisfy. Normalize, if set,
// rewrites the decoded output before validation. Check, if set, runs
// schema-specific validation after the required-field check.
type Schema struct {
	Name      string
	Fields    []FieldSpec
	Normalize func(map[string]any) map[string]any
	Check     func(map[string]any) error
}

// validate enforces required fields and the schema's own check.
func (s Schema) validate(out map[string]any) error {
	for _, f := range s.Fields {
		if !f.Required {
			continue
		}
		if _, ok := out[f.Name]; !ok {
			return fmt.Errorf("missing required field %q", f.Name)
		}
	}
	if s.Check != nil {
		return s.Check(out)
	}
	return nil
}

// GuidanceSchema validates in-call guidance completions.
func GuidanceSchema() Schema {
	return Schema{
		Name: "guidance",
		Fields: []FieldSpec{
			{Name: "suggested_reply", Type: "string", Required: true},
			{Name: "rationale", Type: "string", Required: true},
			{Name: "confidence", Type: "number", Required: true},
		},
		Check: func(out map[string]any) error {
			if _, ok := out["suggested_reply"].(string); !ok {
				return fmt.Errorf("suggested_reply must be a string")
			}
			if _, ok := out["rationale"].(string); !ok {
				return fmt.Errorf("rationale must be a string")
			}
			confidence, ok := out["confidence"].(float64)
			if !ok {
				return fmt.Errorf("confidence must be a number")
			}
			if confidence < 0 || confidence > 1 {
				return fmt.Errorf("confidence %v outside [0, 1]", confidence)
			}
			return nil
		},
	}
}

// SummarySchema validates end-of-call summary completions. A summary
// returned as a list of bullets is joined into one "- item" per line string.
func SummarySchema() Schema {
	return Schema{
		Name: "call_summary",
		Fields: []FieldSpec{
			{Name: "summary", Type: "string", Required: true},
			{Name: "disposition", Type: "string", Required: true},
		},
		Normalize: func(out map[string]any) map[string]any {
			items, ok := out["summary"].([]any)
			if !ok {
				return out
			}
			var lines []string
			for _, item := range items {
				s := strings.TrimSpace(fmt.Sprint(item))
				if s == "" {
					continue
				}
				lines = append(lines, "- "+s)
			}
			out["summary"] = strings.Join(lines, "\n")
			return out
		},
		Check: func(out map[string]any) error {
			if _, ok := out["summary"].(string); !ok {
				return fmt.Errorf("summary must be a string")
			}
			disposition, ok := out["disposition"].(string)
			if !ok {
				return fmt.Errorf("disposition must be a string")
			}
			if !models.ValidDisposition(disposition) {
				return fmt.Errorf("disposition %q is not one of Booked, Lead, Spam", disposition)
			}
			return nil
		},
	}
}
