package preflight

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"ticketflow/internal/config"
)

func TestCheckDirectoryAccess_OK(t *testing.T) {
	dir := t.TempDir()
	result := CheckDirectoryAccess("test", dir)
	if !result.Passed {
		t.Fatalf("expected pass for temp dir, got: %s", result.Detail)
	}
}

func TestCheckDirectoryAccess_NotExist(t *testing.T) {
	result := CheckDirectoryAccess("test", filepath.Join(t.TempDir(), "nope"))
	if result.Passed {
		t.Fatal("expected failure for missing dir")
	}
	if result.Detail == "" {
		t.Fatal("expected non-empty detail")
	}
}

func TestCheckDirectoryAccess_NotDir(t *testing.T) {
	f := filepath.Join(t.TempDir(), "file.txt")
	if err := os.WriteFile(f, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	result := CheckDirectoryAccess("test", f)
	if result.Passed {
		t.Fatal("expected failure for file path")
	}
}

func serviceNowConfig(url string) config.ServiceNow {
	return config.ServiceNow{InstanceURL: url, Username: "svc", Password: "secret"}
}

func TestCheckServiceNow_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "svc" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if !strings.HasSuffix(r.URL.Path, "/incident") {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_, _ = w.Write([]byte(`{"result":[]}`))
	}))
	defer srv.Close()

	result := CheckServiceNow(context.Background(), serviceNowConfig(srv.URL))
	if !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
}

func TestCheckServiceNow_BadCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	result := CheckServiceNow(context.Background(), serviceNowConfig(srv.URL))
	if result.Passed {
		t.Fatal("expected failure for bad credentials")
	}
	if !strings.Contains(result.Detail, "auth check failed") {
		t.Fatalf("unexpected detail %q", result.Detail)
	}
}

func TestCheckServiceNow_MissingURL(t *testing.T) {
	result := CheckServiceNow(context.Background(), serviceNowConfig(""))
	if result.Passed {
		t.Fatal("expected failure for missing URL")
	}
}

func TestCheckTCP(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer listener.Close()
	go func() {
		for {
			conn, err := listener.Accept()
			if err != nil {
				return
			}
			_ = conn.Close()
		}
	}()
	host, portStr, _ := net.SplitHostPort(listener.Addr().String())
	port, _ := strconv.Atoi(portStr)

	if result := CheckTCP(context.Background(), "imap", host, port); !result.Passed {
		t.Fatalf("expected pass, got: %s", result.Detail)
	}
	if result := CheckTCP(context.Background(), "imap", "", port); result.Passed {
		t.Fatal("expected failure for missing host")
	}
}

func TestCheckLLM_MissingKey(t *testing.T) {
	result := CheckLLM(context.Background(), "LLM", config.LLMConfig{})
	if result.Passed || result.Detail != "API key missing" {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRunAll_NilConfig(t *testing.T) {
	results := RunAll(context.Background(), nil)
	if results != nil {
		t.Fatal("expected nil results for nil config")
	}
}

func TestCheckersReportSpoolDirectory(t *testing.T) {
	cfg := config.Default()
	cfg.Paths.StateDir = t.TempDir()
	cfg.Mail.Source = config.MailSourceSpool
	cfg.Mail.SpoolDir = filepath.Join(t.TempDir(), "missing")

	checkers := Checkers(&cfg)
	if len(checkers) != 3 {
		t.Fatalf("expected 3 checkers, got %d", len(checkers))
	}
	byName := map[string]bool{}
	for _, c := range checkers {
		h := c.HealthCheck(context.Background())
		byName[h.Name] = h.Ready
	}
	if !byName["state_dir"] {
		t.Fatal("expected state dir ready")
	}
	if byName["mail"] {
		t.Fatal("expected missing spool dir to be unhealthy")
	}
	if byName["servicenow"] {
		t.Fatal("expected unconfigured servicenow to be unhealthy")
	}
}
