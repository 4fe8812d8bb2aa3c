package visa

import "context"

// Instrument is one live connection to a resource. A connection is owned by
// exactly one operation at a time and is never pooled, cached, or shared.
type Instrument interface {
	// Write sends a command with no expected response.
	Write(ctx context.Context, command string) error

	// Query sends a command and reads one response message.
	Query(ctx context.Context, command string) (string, error)

	// Address returns the resource address the connection was opened with.
	Address() string

	// Close releases the connection. The instrument is unusable afterwards.
	Close() error
}
