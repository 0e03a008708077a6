package services_test

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"

	"ticketflow/internal/services"
)

func TestWrapIncludesContext(t *testing.T) {
	base := errors.New("boom")
	err := services.Wrap(services.ErrPermanent, "categorize", "decode", "malformed payload", base)
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, services.ErrPermanent) {
		t.Fatalf("expected marker to be retained, got %v", err)
	}
	if !errors.Is(err, base) {
		t.Fatalf("expected wrapped error to contain base error, got %v", err)
	}
	msg := err.Error()
	for _, fragment := range []string{"categorize", "decode", "malformed payload"} {
		if !strings.Contains(msg, fragment) {
			t.Fatalf("expected %q in error string %q", fragment, msg)
		}
	}
}

func TestWrapDefaultsToTransient(t *testing.T) {
	err := services.Wrap(nil, "", "", "", nil)
	if !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient marker, got %v", err)
	}
	if !strings.Contains(err.Error(), "service failure") {
		t.Fatalf("expected default detail, got %q", err)
	}
}

func TestRetryClassification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
		permanent bool
	}{
		{"nil", nil, false, false},
		{"transient marker", services.Wrap(services.ErrTransient, "ticket", "create", "503", nil), true, false},
		{"deadline", fmt.Errorf("call: %w", context.DeadlineExceeded), true, false},
		{"canceled", context.Canceled, false, false},
		{"permanent", services.Wrap(services.ErrPermanent, "ticket", "create", "401", nil), false, true},
		{"validation", services.Wrap(services.ErrValidation, "classify", "", "", nil), false, true},
		{"unmarked", errors.New("connection reset"), true, false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := services.IsTransient(tc.err); got != tc.transient {
				t.Fatalf("IsTransient = %v, want %v", got, tc.transient)
			}
			if got := services.IsPermanent(tc.err); got != tc.permanent {
				t.Fatalf("IsPermanent = %v, want %v", got, tc.permanent)
			}
		})
	}
}

func TestClassifyHTTPStatus(t *testing.T) {
	cases := map[int]error{
		http.StatusTooManyRequests:     services.ErrTransient,
		http.StatusBadGateway:          services.ErrTransient,
		http.StatusRequestTimeout:      services.ErrTransient,
		http.StatusUnauthorized:        services.ErrPermanent,
		http.StatusBadRequest:          services.ErrPermanent,
		http.StatusNotFound:            services.ErrNotFound,
		http.StatusInternalServerError: services.ErrTransient,
	}
	for code, want := range cases {
		if got := services.ClassifyHTTPStatus(code); got != want {
			t.Fatalf("ClassifyHTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
