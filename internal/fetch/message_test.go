package fetch

import (
	"strings"
	"testing"
	"time"
)

const payrollMessage = "From: Dana Smith <dana.smith@example.com>\r\n" +
	"To: support@example.com\r\n" +
	"Subject: Can't access payroll portal since this morning\r\n" +
	"Date: Mon, 05 Jan 2026 09:15:00 +0000\r\n" +
	"Message-ID: <msg-1@example.com>\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"I get an access denied error when opening the payroll portal.\r\n"

func TestParseKeepsSubjectOnlyForSpecificSubjects(t *testing.T) {
	msg, err := Parse(strings.NewReader(payrollMessage), 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.DedupKey != "msg-1@example.com" {
		t.Fatalf("expected message-id dedup key, got %q", msg.DedupKey)
	}
	if msg.Content.From != "dana.smith@example.com" {
		t.Fatalf("unexpected sender %q", msg.Content.From)
	}
	if msg.Content.Body != "" {
		t.Fatalf("expected no body preview for a specific subject, got %q", msg.Content.Body)
	}
	want := time.Date(2026, 1, 5, 9, 15, 0, 0, time.UTC)
	if !msg.Content.ReceivedAt.Equal(want) {
		t.Fatalf("unexpected received time %v", msg.Content.ReceivedAt)
	}
	if msg.Ignored {
		t.Fatal("did not expect message to be ignored")
	}
}

func TestParseAddsBoundedPreviewForVagueSubject(t *testing.T) {
	body := "> quoted reply\r\n" + strings.Repeat("laptop will not boot ", 60) + "\r\n"
	raw := "From: sam@example.com\r\n" +
		"Subject: help\r\n" +
		"Date: Mon, 05 Jan 2026 09:15:00 +0000\r\n" +
		"Content-Type: text/plain\r\n\r\n" + body
	msg, err := Parse(strings.NewReader(raw), 100)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if msg.Content.Body == "" {
		t.Fatal("expected body preview for vague subject")
	}
	if len([]rune(msg.Content.Body)) > 100 {
		t.Fatalf("preview exceeds limit: %d", len([]rune(msg.Content.Body)))
	}
	if strings.Contains(msg.Content.Body, "quoted") {
		t.Fatalf("expected quoted lines dropped, got %q", msg.Content.Body)
	}
	if !strings.HasPrefix(msg.DedupKey, "b3:") {
		t.Fatalf("expected blake3 dedup key without message-id, got %q", msg.DedupKey)
	}
}

func TestParseFlagsBounces(t *testing.T) {
	raw := "From: MAILER-DAEMON@googlemail.com\r\n" +
		"Subject: Delivery Status Notification (Failure)\r\n" +
		"Message-ID: <bounce@example.com>\r\n\r\nbody\r\n"
	msg, err := Parse(strings.NewReader(raw), 0)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if !msg.Ignored || msg.IgnoreReason == "" {
		t.Fatalf("expected bounce ignored, got %+v", msg)
	}
}

func TestIsVagueSubject(t *testing.T) {
	cases := map[string]bool{
		"":                         true,
		"help":                     true,
		"Question":                 true,
		"(no subject)":             true,
		"VPN drops every 5 min":    false,
		"Can't access payroll now": false,
	}
	for subject, want := range cases {
		if got := IsVagueSubject(subject); got != want {
			t.Fatalf("IsVagueSubject(%q) = %v, want %v", subject, got, want)
		}
	}
}

func TestDedupKeyStable(t *testing.T) {
	at := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	a := DedupKey("", "A@example.com", "subject", at)
	b := DedupKey("", "a@example.com", "subject", at)
	if a != b {
		t.Fatalf("expected case-insensitive sender hashing, got %q vs %q", a, b)
	}
	if c := DedupKey("", "a@example.com", "other", at); c == a {
		t.Fatal("expected different subjects to hash differently")
	}
	if got := DedupKey(" <id@x> ", "", "", at); got != "id@x" {
		t.Fatalf("expected trimmed message-id, got %q", got)
	}
}
