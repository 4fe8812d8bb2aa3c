// Package fake provides a scripted Instrument implementation for tests.
package fake

import (
	"context"
	"sync"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// Instrument implements visa.Instrument with func-field hooks and recorded
// traffic. The zero hooks answer every query with Response and accept every
// write.
type Instrument struct {
	Addr     string
	Response string

	WriteFunc func(ctx context.Context, command string) error
	QueryFunc func(ctx context.Context, command string) (string, error)
	CloseFunc func() error

	mu      sync.Mutex
	writes  []string
	queries []string
	closed  bool
}

// Compile-time assertion that Instrument satisfies the transport contract.
var _ visa.Instrument = (*Instrument)(nil)

// New creates a fake instrument answering queries with a fixed
// identification string.
func New(address string) *Instrument {
	return &Instrument{
		Addr:     address,
		Response: "FAKE INSTRUMENTS,MODEL-0,SN000,1.0",
	}
}

// Write records the command and runs the hook when set.
func (f *Instrument) Write(ctx context.Context, command string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	f.mu.Lock()
	f.writes = append(f.writes, command)
	f.mu.Unlock()

	if f.WriteFunc != nil {
		return f.WriteFunc(ctx, command)
	}
	return nil
}

// Query records the command and answers with the hook or Response.
func (f *Instrument) Query(ctx context.Context, command string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	f.mu.Lock()
	f.queries = append(f.queries, command)
	f.mu.Unlock()

	if f.QueryFunc != nil {
		return f.QueryFunc(ctx, command)
	}
	return f.Response, nil
}

// Address returns the address the fake was created with.
func (f *Instrument) Address() string {
	return f.Addr
}

// Close marks the instrument closed and runs the hook when set.
func (f *Instrument) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()

	if f.CloseFunc != nil {
		return f.CloseFunc()
	}
	return nil
}

// Writes returns the recorded write commands.
func (f *Instrument) Writes() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.writes...)
}

// Queries returns the recorded query commands.
func (f *Instrument) Queries() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.queries...)
}

// Closed reports whether Close was called.
func (f *Instrument) Closed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}
