// Package rules evaluates configured compliance and coaching rules against
// transcript text and emits the resulting server events.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jackcarlos19/csr-call-assistant/pkg/models"
)

// cacheTTL bounds how stale a loaded rule snapshot may get before the next
// evaluation re-reads the database.
const cacheTTL = 30 * time.Second

// Loader fetches the active rules for a tenancy scope.
type Loader interface {
	LoadActiveRules(ctx context.Context, tenantID *string) ([]models.Rule, error)
}

type cacheEntry struct {
	rules    []models.Rule
	loadedAt time.Time
}

// Engine evaluates rules against transcript text. Loaded rules are cached
// per tenant with a short TTL so per-segment evaluation does not hit the
// database every time.
type Engine struct {
	loader Loader
	logger *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry
	now   func() time.Time
}

// NewEngine creates an Engine backed by the given rule loader.
func NewEngine(loader Loader, logger *slog.Logger) *Engine {
	return &Engine{
		loader: loader,
		logger: logger,
		cache:  make(map[string]cacheEntry),
		now:    time.Now,
	}
}

// Evaluate runs every active rule for the tenant against text and returns the
// events to emit. Keyword and prohibited-claim rules produce a rule_alert on
// their first matching pattern; required-question rules produce a satisfied
// required_question_status on their first matching satisfy pattern. A rule
// with no matching pattern produces nothing. Malformed patterns are skipped.
func (e *Engine) Evaluate(ctx context.Context, sessionID uuid.UUID, tenantID *string, text string) ([]models.EventEnvelope, error) {
	rules, err := e.loadRules(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to load rules for evaluation: %w", err)
	}

	var events []models.EventEnvelope
	for _, rule := range rules {
		switch rule.Kind {
		case models.RuleKindKeywordAlert, models.RuleKindProhibitedClaim:
			if pattern, ok := e.firstMatch(rule, "patterns", text); ok {
				events = append(events, models.NewServerEnvelope(sessionID, models.EventTypeRuleAlert, map[string]any{
					"rule_id":         ruleID(rule),
					"kind":            rule.Kind,
					"severity":        configString(rule.Config, "severity", "info"),
					"message":         configString(rule.Config, "message", ""),
					"matched_pattern": pattern,
				}))
			}
		case models.RuleKindRequiredQuestion:
			if _, ok := e.firstMatch(rule, "satisfy_patterns", text); ok {
				events = append(events, models.NewServerEnvelope(sessionID, models.EventTypeRequiredQuestionStatus, map[string]any{
					"rule_id":   ruleID(rule),
					"satisfied": true,
					"question":  configString(rule.Config, "question", ruleID(rule)),
				}))
			}
		default:
			e.logger.Warn("Skipping rule with unknown kind",
				slog.String("rule_id", ruleID(rule)),
				slog.String("kind", rule.Kind))
		}
	}
	return events, nil
}

// Invalidate drops any cached rules so the next evaluation reloads them.
func (e *Engine) Invalidate() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cache = make(map[string]cacheEntry)
}

func (e *Engine) loadRules(ctx context.Context, tenantID *string) ([]models.Rule, error) {
	key := ""
	if tenantID != nil {
		key = *tenantID
	}

	e.mu.Lock()
	entry, ok := e.cache[key]
	e.mu.Unlock()
	if ok && e.now().Sub(entry.loadedAt) < cacheTTL {
		return entry.rules, nil
	}

	rules, err := e.loader.LoadActiveRules(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.cache[key] = cacheEntry{rules: rules, loadedAt: e.now()}
	e.mu.Unlock()
	return rules, nil
}

// firstMatch returns the first pattern under the given config key that
// matches text case-insensitively. Patterns that fail to compile are skipped.
func (e *Engine) firstMatch(rule models.Rule, key, text string) (string, bool) {
	raw, _ := rule.Config[key].([]any)
	for _, p := range raw {
		pattern, ok := p.(string)
		if !ok {
			continue
		}
		re, err := regexp.Compile("(?i)" + pattern)
		if err != nil {
			e.logger.Warn("Skipping malformed rule pattern",
				slog.String("rule_id", ruleID(rule)),
				slog.String("pattern", pattern))
			continue
		}
		if re.MatchString(text) {
			return pattern, true
		}
	}
	return "", false
}

// ruleID prefers the stable configured id over the row id.
func ruleID(rule models.Rule) string {
	if id, ok := rule.Config["id"].(string); ok && id != "" {
		return id
	}
	return rule.ID.String()
}

func configString(config map[string]any, key, fallback string) string {
	if v, ok := config[key].(string); ok {
		return v
	}
	return fallback
}
