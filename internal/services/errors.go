package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
)

var (
	// ErrTransient marks failures worth retrying: timeouts, 5xx, rate limits.
	ErrTransient = errors.New("transient failure")
	// ErrPermanent marks failures that will not improve on retry: malformed
	// responses, auth failures, rejected input.
	ErrPermanent     = errors.New("permanent failure")
	ErrValidation    = errors.New("validation error")
	ErrConfiguration = errors.New("configuration error")
	ErrNotFound      = errors.New("not found")
	ErrTimeout       = errors.New("timeout")
)

// Wrap tags err with marker and prefixes it with the non-empty parts of
// stage, operation and message. A nil marker defaults to ErrTransient.
func Wrap(marker error, stage, operation, message string, err error) error {
	if marker == nil {
		marker = ErrTransient
	}
	var parts []string
	for _, part := range []string{stage, operation, message} {
		if part = strings.TrimSpace(part); part != "" {
			parts = append(parts, part)
		}
	}
	detail := strings.Join(parts, ": ")
	if detail == "" {
		detail = "service failure"
	}
	if err == nil {
		return fmt.Errorf("%w: %s", marker, detail)
	}
	return fmt.Errorf("%w: %s: %w", marker, detail, err)
}

// IsPermanent reports whether err should skip the retry budget.
func IsPermanent(err error) bool {
	for _, marker := range []error{ErrPermanent, ErrValidation, ErrConfiguration, ErrNotFound} {
		if errors.Is(err, marker) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err may succeed on retry. Errors carrying no
// marker are treated as transient; a caller-side cancellation is not.
func IsTransient(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, ErrTransient) || errors.Is(err, ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return !IsPermanent(err)
}

// ClassifyHTTPStatus maps an HTTP status code onto the retry taxonomy.
func ClassifyHTTPStatus(code int) error {
	switch {
	case code == http.StatusRequestTimeout, code == http.StatusTooManyRequests, code >= 500:
		return ErrTransient
	case code == http.StatusNotFound:
		return ErrNotFound
	default:
		return ErrPermanent
	}
}
