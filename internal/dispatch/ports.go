// Package dispatch defines ports (interfaces) for instrument command
// dispatch and implements the single-shot operation policy around them.
package dispatch

import (
	"context"
	"time"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// ResourceProvider defines the minimal interface the dispatcher needs from
// the resource layer.
type ResourceProvider interface {
	Open(ctx context.Context, address string) (visa.Instrument, error)
	List(ctx context.Context) ([]string, error)
}

// AuditLogger interface for writing audit records.
type AuditLogger interface {
	LogAction(ctx context.Context, action string, address string, command string, result string, latency time.Duration)
}
