package stage

import (
	"context"
	"fmt"
)

// Health summarizes the readiness of a stage and the adapter behind it.
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs a not-ready Health record with context detail.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Detail: detail}
}

// Probe runs check against the named dependency. A nil check means the
// dependency was never wired.
func Probe(ctx context.Context, name, dependency string, check func(context.Context) error) Health {
	if check == nil {
		return Unhealthy(name, dependency+" not configured")
	}
	if err := check(ctx); err != nil {
		return Unhealthy(name, fmt.Sprintf("%s: %v", dependency, err))
	}
	return Healthy(name)
}
