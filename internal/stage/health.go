package stage

import (
	"context"
	"time"
)

// Health summarizes the readiness of a pipeline collaborator.
type Health struct {
	Name   string `json:"name"`
	Ready  bool   `json:"ready"`
	Detail string `json:"detail,omitempty"`
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unhealthy Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}

// Checker is implemented by collaborators that can report readiness.
type Checker interface {
	HealthCheck(context.Context) Health
}

// CheckerFunc adapts a plain probe into a Checker.
type CheckerFunc struct {
	Name    string
	Timeout time.Duration
	Probe   func(context.Context) error
}

// HealthCheck runs the probe under the configured timeout.
func (c CheckerFunc) HealthCheck(ctx context.Context) Health {
	if c.Probe == nil {
		return Unhealthy(c.Name, "not configured")
	}
	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}
	if err := c.Probe(ctx); err != nil {
		return Unhealthy(c.Name, err.Error())
	}
	return Healthy(c.Name)
}
