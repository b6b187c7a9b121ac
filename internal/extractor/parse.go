package extractor

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/goccy/go-json"
)

var (
	fencedRe = regexp.MustCompile("(?is)```(?:json)?\\s*(.*?)\\s*```")
	arrayRe  = regexp.MustCompile(`\[[\s\S]*\]`)
)

// ParseReply extracts tasks from a model reply. Candidate JSON fragments are
// tried in order: the whole reply, each fenced code block, then the outermost
// bracketed span. The first fragment that decodes to an array, or an object
// with a "tasks" array, wins. A reply with no usable fragment yields no tasks.
func ParseReply(reply string) []Task {
	for _, candidate := range candidates(reply) {
		var payload any
		if err := json.Unmarshal([]byte(candidate), &payload); err != nil {
			continue
		}
		if tasks, ok := normalizePayload(payload); ok {
			return tasks
		}
	}
	return []Task{}
}

func candidates(reply string) []string {
	stripped := strings.TrimSpace(reply)
	var out []string
	if stripped != "" {
		out = append(out, stripped)
	}
	for _, m := range fencedRe.FindAllStringSubmatch(stripped, -1) {
		if c := strings.TrimSpace(m[1]); c != "" {
			out = append(out, c)
		}
	}
	if m := arrayRe.FindString(stripped); m != "" {
		out = append(out, strings.TrimSpace(m))
	}

	seen := make(map[string]bool, len(out))
	deduped := out[:0]
	for _, c := range out {
		if !seen[c] {
			seen[c] = true
			deduped = append(deduped, c)
		}
	}
	return deduped
}

func normalizePayload(payload any) ([]Task, bool) {
	switch p := payload.(type) {
	case []any:
		return normalizeList(p), true
	case map[string]any:
		if list, ok := p["tasks"].([]any); ok {
			return normalizeList(list), true
		}
	}
	return nil, false
}

func normalizeList(items []any) []Task {
	tasks := []Task{}
	for _, item := range items {
		obj, ok := item.(map[string]any)
		if !ok {
			continue
		}
		text := strings.TrimSpace(stringify(obj["text"]))
		if text == "" {
			continue
		}

		var timeExpr *string
		if raw := obj["time_expr"]; truthy(raw) {
			if s := strings.TrimSpace(stringify(raw)); s != "" {
				timeExpr = &s
			}
		}

		hasTime := timeExpr != nil
		if v, present := obj["has_time"]; present {
			hasTime = truthy(v)
		}
		tasks = append(tasks, Task{Text: text, HasTime: hasTime, TimeExpr: timeExpr})
	}
	return tasks
}

func stringify(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	}
	return fmt.Sprint(v)
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case string:
		return x != ""
	case []any:
		return len(x) > 0
	case map[string]any:
		return len(x) > 0
	}
	return true
}
