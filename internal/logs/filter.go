package logs

import (
	"encoding/json"
	"strings"

	"ticketflow/internal/logging"
)

var levelRank = map[string]int{
	"debug": 0,
	"info":  1,
	"warn":  2,
	"error": 3,
}

// Filter selects log lines. Zero-valued fields match everything.
type Filter struct {
	MinLevel string
	Ticket   string
	Item     string
	Event    string
}

// Empty reports whether the filter passes every line.
func (f Filter) Empty() bool {
	return f.MinLevel == "" && f.Ticket == "" && f.Item == "" && f.Event == ""
}

// Apply returns the lines that match f.
func (f Filter) Apply(lines []string) []string {
	if f.Empty() {
		return lines
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		if f.Match(line) {
			out = append(out, line)
		}
	}
	return out
}

// Match reports whether a single line passes the filter.
func (f Filter) Match(line string) bool {
	var payload map[string]any
	if strings.HasPrefix(strings.TrimSpace(line), "{") && json.Unmarshal([]byte(line), &payload) == nil {
		return f.matchStructured(payload)
	}
	return f.matchText(line)
}

func (f Filter) matchStructured(payload map[string]any) bool {
	if f.MinLevel != "" {
		level, _ := payload["level"].(string)
		if !levelAtLeast(level, f.MinLevel) {
			return false
		}
	}
	return fieldEquals(payload, logging.FieldTicket, f.Ticket) &&
		fieldEquals(payload, logging.FieldItemID, f.Item) &&
		fieldEquals(payload, logging.FieldEventType, f.Event)
}

func (f Filter) matchText(line string) bool {
	if f.MinLevel != "" && !levelAtLeast(textLevel(line), f.MinLevel) {
		return false
	}
	for _, needle := range []string{f.Ticket, f.Item, f.Event} {
		if needle != "" && !strings.Contains(line, needle) {
			return false
		}
	}
	return true
}

func fieldEquals(payload map[string]any, key, want string) bool {
	if want == "" {
		return true
	}
	got, _ := payload[key].(string)
	return strings.EqualFold(got, want)
}

// textLevel finds the level token written by the console handler.
func textLevel(line string) string {
	for _, field := range strings.Fields(line) {
		token := strings.ToLower(strings.Trim(field, "[]"))
		if _, ok := levelRank[token]; ok {
			return token
		}
	}
	return ""
}

func levelAtLeast(level, minimum string) bool {
	have, ok := levelRank[strings.ToLower(level)]
	if !ok {
		return false
	}
	want, ok := levelRank[strings.ToLower(minimum)]
	if !ok {
		return true
	}
	return have >= want
}

// ValidLevel reports whether name is a level Filter understands.
func ValidLevel(name string) bool {
	_, ok := levelRank[strings.ToLower(strings.TrimSpace(name))]
	return ok
}
