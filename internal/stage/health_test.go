package stage

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestCheckerFunc(t *testing.T) {
	ok := CheckerFunc{Name: "llm", Probe: func(context.Context) error { return nil }}
	if h := ok.HealthCheck(context.Background()); !h.Ready || h.Name != "llm" {
		t.Fatalf("expected healthy, got %+v", h)
	}

	failing := CheckerFunc{Name: "servicenow", Probe: func(context.Context) error { return errors.New("401") }}
	if h := failing.HealthCheck(context.Background()); h.Ready || h.Detail != "401" {
		t.Fatalf("expected unhealthy with detail, got %+v", h)
	}

	if h := (CheckerFunc{Name: "smtp"}).HealthCheck(context.Background()); h.Ready {
		t.Fatalf("expected unconfigured probe to be unhealthy")
	}
}

func TestCheckerFuncAppliesTimeout(t *testing.T) {
	slow := CheckerFunc{
		Name:    "slow",
		Timeout: 10 * time.Millisecond,
		Probe: func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	}
	if h := slow.HealthCheck(context.Background()); h.Ready {
		t.Fatalf("expected timeout to mark unhealthy")
	}
}
