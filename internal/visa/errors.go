package visa

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
)

// Normalized transport error classes.
var (
	// ErrConnectivity marks an address-level transport failure while
	// opening a resource. Opens are single-shot; nothing retries.
	ErrConnectivity = errors.New("visa: connectivity failure")

	// ErrTimeout marks an exhausted transport deadline. In batch
	// identification this class is recorded per resource; everywhere else
	// it is fatal for the command.
	ErrTimeout = errors.New("visa: transport timeout")

	// ErrProtocol marks any other transport-reported fault.
	ErrProtocol = errors.New("visa: protocol failure")

	// ErrNoResourcesFound is returned when enumeration yields nothing
	// after filtering.
	ErrNoResourcesFound = errors.New("visa: no resources found")
)

// TransportError wraps a driver error with its normalized class and the
// address and operation it occurred on. Unwrap returns the class so
// errors.Is(err, ErrTimeout) and friends hold.
type TransportError struct {
	Class    error  // one of ErrConnectivity, ErrTimeout, ErrProtocol
	Op       string // "open", "write", "read"
	Address  string
	Original error // driver error, may be nil
}

func (e *TransportError) Error() string {
	if e.Original != nil {
		return fmt.Sprintf("%v: %s %s: %v", e.Class, e.Op, e.Address, e.Original)
	}
	return fmt.Sprintf("%v: %s %s", e.Class, e.Op, e.Address)
}

func (e *TransportError) Unwrap() error {
	return e.Class
}

// NewConnectError wraps err as a connectivity failure on open.
func NewConnectError(address string, err error) error {
	return &TransportError{Class: ErrConnectivity, Op: "open", Address: address, Original: err}
}

// NewTimeoutError wraps err as an exhausted deadline during op.
func NewTimeoutError(op, address string, err error) error {
	return &TransportError{Class: ErrTimeout, Op: op, Address: address, Original: err}
}

// NewProtocolError wraps err as a transport fault during op.
func NewProtocolError(op, address string, err error) error {
	return &TransportError{Class: ErrProtocol, Op: op, Address: address, Original: err}
}

// IsTimeout reports whether err is a transport timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// IsConnectivity reports whether err is an address-level connectivity failure.
func IsConnectivity(err error) bool {
	return errors.Is(err, ErrConnectivity)
}

// classMap defines the error token tables for driver error classification.
type classMap struct {
	Timeout []string // tokens that map to ErrTimeout
	Connect []string // tokens that map to ErrConnectivity
}

// driverErrorTokens is the deterministic token table for errors surfaced by
// serial, USB, and Prologix drivers that carry no structured type. Unknown
// tokens map to ErrProtocol.
var driverErrorTokens = classMap{
	Timeout: []string{
		"TIMEOUT",
		"TIMED OUT",
		"DEADLINE EXCEEDED",
	},
	Connect: []string{
		"NO SUCH FILE",
		"NO SUCH DEVICE",
		"DEVICE NOT CONFIGURED",
		"PERMISSION DENIED",
		"PORT BUSY",
		"PORT NOT FOUND",
		"CONNECTION REFUSED",
		"CONNECTION RESET",
		"NETWORK IS UNREACHABLE",
		"NO ROUTE TO HOST",
		"INPUT/OUTPUT ERROR",
	},
}

// Normalize maps a raw driver error onto the taxonomy using the token
// tables. Errors already carrying a class pass through unchanged, as does
// context cancellation so Ctrl-C is not misreported as an instrument fault.
func Normalize(op, address string, err error) error {
	if err == nil {
		return nil
	}
	var te *TransportError
	if errors.As(err, &te) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &TransportError{Class: classify(err), Op: op, Address: address, Original: err}
}

// classify picks the error class for a driver error. Structured timeout
// signals win over token matching.
func classify(err error) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return ErrTimeout
	}
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		return ErrTimeout
	}

	msg := strings.ToUpper(err.Error())
	for _, token := range driverErrorTokens.Timeout {
		if strings.Contains(msg, token) {
			return ErrTimeout
		}
	}
	for _, token := range driverErrorTokens.Connect {
		if strings.Contains(msg, token) {
			return ErrConnectivity
		}
	}
	return ErrProtocol
}
