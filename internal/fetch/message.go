package fetch

import (
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"mime"
	"strings"
	"time"
	"unicode/utf8"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"github.com/zeebo/blake3"

	"ticketflow/internal/items"
)

// DefaultPreviewChars bounds the body preview attached to vague subjects.
const DefaultPreviewChars = 500

// Message is one parsed inbound message ready for admission.
type Message struct {
	DedupKey  string
	MessageID string
	Content   items.Content
	// Ignored is set for bounces and automated replies; IgnoreReason says why.
	Ignored      bool
	IgnoreReason string
}

var ignoredSenders = []string{
	"mailer-daemon@",
	"postmaster@",
	"no-reply@accounts.google.com",
	"cloudplatform-noreply@",
}

var ignoredSubjects = []string{
	"delivery status notification",
	"failure notice",
	"undeliverable:",
	"returned mail:",
	"out of office",
	"auto-reply",
	"automatic reply:",
	"vacation response:",
}

var vagueSubjects = map[string]struct{}{
	"hi": {}, "hello": {}, "hey": {}, "help": {}, "issue": {}, "problem": {},
	"urgent": {}, "question": {}, "request": {}, "support": {}, "important": {},
	"fwd:": {}, "fw:": {}, "re:": {}, "untitled": {}, "no subject": {}, "(no subject)": {},
}

// ShouldIgnore reports whether a message is a bounce or automated reply.
func ShouldIgnore(subject, sender string) (bool, string) {
	sender = strings.ToLower(strings.TrimSpace(sender))
	for _, prefix := range ignoredSenders {
		if strings.Contains(sender, prefix) {
			return true, "system sender " + prefix
		}
	}
	subject = strings.ToLower(strings.TrimSpace(subject))
	for _, marker := range ignoredSubjects {
		if strings.Contains(subject, marker) {
			return true, "automated subject " + strings.TrimSuffix(marker, ":")
		}
	}
	return false, ""
}

// IsVagueSubject reports whether subject alone is too thin to classify.
func IsVagueSubject(subject string) bool {
	normalized := strings.ToLower(strings.TrimSpace(subject))
	if utf8.RuneCountInString(normalized) < 10 {
		return true
	}
	_, vague := vagueSubjects[normalized]
	return vague
}

// DedupKey returns the stable key for a message: the Message-ID when present,
// otherwise a blake3 digest of sender, subject, and date.
func DedupKey(messageID, from, subject string, date time.Time) string {
	if id := strings.Trim(strings.TrimSpace(messageID), "<>"); id != "" {
		return id
	}
	hasher := blake3.New()
	fmt.Fprintf(hasher, "%s\x00%s\x00%d", strings.ToLower(from), subject, date.UTC().Unix())
	return "b3:" + hex.EncodeToString(hasher.Sum(nil)[:16])
}

// Parse reads an RFC 5322 message and applies the privacy gate. previewChars
// bounds the body preview; zero selects DefaultPreviewChars.
func Parse(r io.Reader, previewChars int) (Message, error) {
	if previewChars <= 0 {
		previewChars = DefaultPreviewChars
	}
	reader, err := mail.CreateReader(r)
	if err != nil && reader == nil {
		return Message{}, fmt.Errorf("parse message: %w", err)
	}
	defer reader.Close()

	header := reader.Header
	subject, err := header.Subject()
	if err != nil {
		subject = header.Get("Subject")
	}
	subject = strings.TrimSpace(subject)

	from := ""
	if addrs, err := header.AddressList("From"); err == nil && len(addrs) > 0 {
		from = addrs[0].Address
	} else if raw := strings.TrimSpace(header.Get("From")); raw != "" {
		from = raw
	}

	received, err := header.Date()
	if err != nil || received.IsZero() {
		received = time.Now().UTC()
	}
	messageID, _ := header.MessageID()

	msg := Message{
		DedupKey:  DedupKey(messageID, from, subject, received),
		MessageID: messageID,
		Content: items.Content{
			Subject:    subject,
			From:       from,
			ReceivedAt: received,
		},
	}
	msg.Ignored, msg.IgnoreReason = ShouldIgnore(subject, from)
	if msg.Ignored || !IsVagueSubject(subject) {
		return msg, nil
	}

	body, err := firstTextPart(reader)
	if err != nil {
		return msg, fmt.Errorf("read body of %s: %w", msg.DedupKey, err)
	}
	msg.Content.Body = bodyPreview(body, previewChars)
	return msg, nil
}

func firstTextPart(reader *mail.Reader) (string, error) {
	for {
		part, err := reader.NextPart()
		if errors.Is(err, io.EOF) {
			return "", nil
		}
		if err != nil {
			return "", err
		}
		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, err := inline.ContentType()
		if err != nil {
			contentType, _, _ = mime.ParseMediaType(inline.Get("Content-Type"))
		}
		if contentType != "" && contentType != "text/plain" {
			continue
		}
		data, err := io.ReadAll(io.LimitReader(part.Body, 64*1024))
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// bodyPreview keeps unquoted lines up to limit runes.
func bodyPreview(body string, limit int) string {
	var kept []string
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, ">") {
			continue
		}
		kept = append(kept, line)
	}
	preview := strings.Join(kept, " ")
	if utf8.RuneCountInString(preview) <= limit {
		return preview
	}
	runes := []rune(preview)
	return strings.TrimSpace(string(runes[:limit]))
}
