package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DecodeLLMJSON decodes the first JSON value in content into target. Models
// sometimes wrap the payload in a ```json fence or surround it with prose;
// both are tolerated.
func DecodeLLMJSON(content string, target any) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return errors.New("empty payload")
	}
	err := json.Unmarshal([]byte(trimmed), target)
	if err == nil {
		return nil
	}

	unfenced := stripFence(trimmed)
	start := strings.IndexAny(unfenced, "{[")
	if start < 0 {
		return fmt.Errorf("%w (payload: %s)", err, snippet(trimmed))
	}
	// Decode stops after the first complete value, which drops trailing prose.
	if decodeErr := json.NewDecoder(strings.NewReader(unfenced[start:])).Decode(target); decodeErr != nil {
		return fmt.Errorf("%w (payload: %s)", decodeErr, snippet(unfenced))
	}
	return nil
}

func stripFence(content string) string {
	body, ok := strings.CutPrefix(content, "```")
	if !ok {
		return content
	}
	body = strings.TrimLeft(body, " \t\r\n")
	if len(body) >= 4 && strings.EqualFold(body[:4], "json") {
		body = body[4:]
	}
	if idx := strings.LastIndex(body, "```"); idx >= 0 {
		body = body[:idx]
	}
	return strings.TrimSpace(body)
}

// snippet flattens whitespace and truncates for error messages.
func snippet(content string) string {
	clean := strings.Join(strings.Fields(content), " ")
	if clean == "" {
		return "<empty>"
	}
	if runes := []rune(clean); len(runes) > snippetLimit {
		return string(runes[:snippetLimit]) + "..."
	}
	return clean
}
