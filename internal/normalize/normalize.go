// Package normalize derives display metrics and documents from the loosely
// typed payloads returned by the orchestration backend.
package normalize

import (
	"math"
	"strconv"
	"strings"

	"github.com/intellixa/console/internal/models"
)

const (
	DefaultAPICalls  = 12
	EstimatedSavings = "67%"
	NoFinalDraft     = "No final draft available"
)

// countRules are tried in order; the first positive integer wins.
var countRules = [][]string{
	{"api_calls_count"},
	{"metrics", "api_calls"},
	{"statistics", "total_api_calls"},
}

// structuralSignals each add one call when present in the payload.
var structuralSignals = [][]string{
	{"handoff", "research"},
	{"handoff", "developer"},
	{"handoff", "writer"},
	{"confidence"},
	{"email", "result"},
}

var documentPaths = [][]string{
	{"final", "document"},
	{"final_document"},
	{"handoff", "writer", "document"},
	{"document"},
}

// EstimateAPICalls returns a best-effort count of backend API calls for a run.
// The result is always at least 1.
func EstimateAPICalls(payload map[string]any) int {
	if payload == nil {
		return DefaultAPICalls
	}

	for _, path := range countRules {
		if v, ok := Lookup(payload, path...); ok {
			if n, ok := positiveInt(v); ok {
				return n
			}
		}
	}

	signals := 0
	for _, path := range structuralSignals {
		if v, ok := Lookup(payload, path...); ok && truthy(v) {
			signals++
		}
	}
	if signals == 0 {
		return DefaultAPICalls
	}

	// planning stage always runs
	return signals + 1
}

// Metrics builds the session metrics for a live or viewed payload.
func Metrics(payload map[string]any) models.SessionMetrics {
	return models.SessionMetrics{
		TotalTasks:       len(models.Pipeline),
		CompletedTasks:   len(models.Pipeline),
		APICalls:         EstimateAPICalls(payload),
		EstimatedSavings: EstimatedSavings,
	}
}

// MockMetrics are the fixed metrics shown for a synthetic result.
func MockMetrics() models.SessionMetrics {
	return models.SessionMetrics{
		TotalTasks:       len(models.Pipeline),
		CompletedTasks:   len(models.Pipeline),
		APICalls:         DefaultAPICalls,
		EstimatedSavings: EstimatedSavings,
	}
}

// FinalDocument extracts the writer's final document, falling back through
// the key paths the backend has used over time.
func FinalDocument(payload map[string]any) string {
	for _, path := range documentPaths {
		if v, ok := Lookup(payload, path...); ok {
			if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
				return s
			}
		}
	}
	return NoFinalDraft
}

// AgentsExecuted returns the string elements of the payload's
// agents_executed list. Non-string elements are skipped.
func AgentsExecuted(payload map[string]any) []string {
	agents := []string{}
	v, ok := Lookup(payload, "agents_executed")
	if !ok {
		return agents
	}
	switch list := v.(type) {
	case []any:
		for _, item := range list {
			if name, ok := item.(string); ok {
				agents = append(agents, name)
			}
		}
	case []string:
		agents = append(agents, list...)
	}
	return agents
}

// SessionID returns the backend-issued session identifier, if any.
func SessionID(payload map[string]any) (string, bool) {
	v, ok := Lookup(payload, "session_id")
	if !ok {
		return "", false
	}
	id, ok := v.(string)
	if !ok || id == "" {
		return "", false
	}
	return id, true
}

// Lookup walks nested objects by key. It reports false when any step is
// missing, nil, or not an object.
func Lookup(v any, path ...string) (any, bool) {
	cur := v
	for _, key := range path {
		obj, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		next, ok := obj[key]
		if !ok || next == nil {
			return nil, false
		}
		cur = next
	}
	if cur == nil {
		return nil, false
	}
	return cur, true
}

func positiveInt(v any) (int, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case float32:
		f = float64(n)
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case int32:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 1 || f != math.Trunc(f) || f > math.MaxInt32 {
		return 0, false
	}
	return int(f), true
}

// truthy reports presence. Empty objects and lists count, zero values do not.
func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0 && !math.IsNaN(t)
	case int:
		return t != 0
	default:
		return true
	}
}
