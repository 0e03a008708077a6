package llm

import (
	"testing"

	"ticketflow/internal/config"
)

func TestNewCompleterSelectsProvider(t *testing.T) {
	completer, err := NewCompleter(config.LLMConfig{Provider: "openrouter", APIKey: "k", Model: "m"})
	if err != nil {
		t.Fatalf("NewCompleter: %v", err)
	}
	if _, ok := completer.(*Client); !ok {
		t.Fatalf("expected OpenRouter client, got %T", completer)
	}

	completer, err = NewCompleter(config.LLMConfig{Provider: "openai", APIKey: "k", Model: "gpt-4o-mini"})
	if err != nil {
		t.Fatalf("NewCompleter openai: %v", err)
	}
	if _, ok := completer.(*LangChainClient); !ok {
		t.Fatalf("expected langchain client, got %T", completer)
	}

	if _, err := NewCompleter(config.LLMConfig{Provider: "bogus"}); err == nil {
		t.Fatal("expected error for unsupported provider")
	}
}
