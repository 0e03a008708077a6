package testsupport

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"
)

// WriteMessage drops an RFC 5322 message into the spool directory as
// <name>.eml and returns its path.
func WriteMessage(t testing.TB, dir, name, messageID, from, subject, body string) string {
	t.Helper()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatalf("mkdir for %s: %v", dir, err)
	}
	raw := fmt.Sprintf("Message-ID: <%s>\r\nFrom: %s\r\nTo: helpdesk@example.com\r\nSubject: %s\r\nDate: Sat, 28 Mar 2026 09:00:00 +0000\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n%s\r\n",
		messageID, from, subject, body)
	path := filepath.Join(dir, name+".eml")
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
	return path
}
