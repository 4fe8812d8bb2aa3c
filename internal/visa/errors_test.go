package visa

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
)

// deadlineErr implements net.Error with Timeout() == true.
type deadlineErr struct{}

func (deadlineErr) Error() string   { return "i/o deadline reached" }
func (deadlineErr) Timeout() bool   { return true }
func (deadlineErr) Temporary() bool { return false }

func TestNormalize(t *testing.T) {
	tests := []struct {
		name          string
		op            string
		err           error
		expectedClass error
	}{
		{
			name:          "timeout token maps to timeout",
			op:            "read",
			err:           errors.New("serial: read timeout"),
			expectedClass: ErrTimeout,
		},
		{
			name:          "timed out token maps to timeout",
			op:            "read",
			err:           errors.New("operation timed out"),
			expectedClass: ErrTimeout,
		},
		{
			name:          "deadline sentinel maps to timeout",
			op:            "read",
			err:           fmt.Errorf("read tcp: %w", os.ErrDeadlineExceeded),
			expectedClass: ErrTimeout,
		},
		{
			name:          "net.Error timeout maps to timeout",
			op:            "read",
			err:           deadlineErr{},
			expectedClass: ErrTimeout,
		},
		{
			name:          "context deadline maps to timeout",
			op:            "open",
			err:           context.DeadlineExceeded,
			expectedClass: ErrTimeout,
		},
		{
			name:          "missing device maps to connectivity",
			op:            "open",
			err:           errors.New("open /dev/ttyUSB9: no such file or directory"),
			expectedClass: ErrConnectivity,
		},
		{
			name:          "refused connection maps to connectivity",
			op:            "open",
			err:           errors.New("dial tcp 10.0.0.9:5025: connection refused"),
			expectedClass: ErrConnectivity,
		},
		{
			name:          "permission failure maps to connectivity",
			op:            "open",
			err:           errors.New("open /dev/ttyS0: permission denied"),
			expectedClass: ErrConnectivity,
		},
		{
			name:          "unknown error maps to protocol",
			op:            "read",
			err:           errors.New("framing error"),
			expectedClass: ErrProtocol,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := Normalize(tt.op, "ASRL/dev/ttyUSB0::INSTR", tt.err)

			var te *TransportError
			if !errors.As(result, &te) {
				t.Fatalf("expected TransportError, got %T", result)
			}
			if te.Class != tt.expectedClass {
				t.Errorf("expected class %v, got %v", tt.expectedClass, te.Class)
			}
			if !errors.Is(result, tt.expectedClass) {
				t.Errorf("errors.Is(%v, %v) = false", result, tt.expectedClass)
			}
			if te.Op != tt.op {
				t.Errorf("expected op %q, got %q", tt.op, te.Op)
			}
		})
	}
}

func TestNormalizeNil(t *testing.T) {
	if err := Normalize("read", "GPIB0::5::INSTR", nil); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}

func TestNormalizePassThrough(t *testing.T) {
	wrapped := NewTimeoutError("read", "GPIB0::5::INSTR", errors.New("no response"))
	if got := Normalize("read", "GPIB0::5::INSTR", wrapped); got != wrapped {
		t.Errorf("classified error was rewrapped: %v", got)
	}

	cancel := fmt.Errorf("query: %w", context.Canceled)
	if got := Normalize("read", "GPIB0::5::INSTR", cancel); got != cancel {
		t.Errorf("context cancellation was rewrapped: %v", got)
	}
}

func TestTransportErrorMessage(t *testing.T) {
	err := NewConnectError("ASRL/dev/ttyUSB0::INSTR", errors.New("no such file or directory"))
	want := "visa: connectivity failure: open ASRL/dev/ttyUSB0::INSTR: no such file or directory"
	if err.Error() != want {
		t.Errorf("expected %q, got %q", want, err.Error())
	}

	bare := &TransportError{Class: ErrTimeout, Op: "read", Address: "GPIB0::5::INSTR"}
	want = "visa: transport timeout: read GPIB0::5::INSTR"
	if bare.Error() != want {
		t.Errorf("expected %q, got %q", want, bare.Error())
	}
}

func TestClassHelpers(t *testing.T) {
	timeout := NewTimeoutError("read", "GPIB0::5::INSTR", nil)
	connect := NewConnectError("GPIB0::5::INSTR", errors.New("port busy"))
	proto := NewProtocolError("read", "GPIB0::5::INSTR", errors.New("garbled"))

	if !IsTimeout(timeout) || IsTimeout(connect) || IsTimeout(proto) {
		t.Error("IsTimeout misclassified")
	}
	if !IsConnectivity(connect) || IsConnectivity(timeout) || IsConnectivity(proto) {
		t.Error("IsConnectivity misclassified")
	}
	if !errors.Is(proto, ErrProtocol) {
		t.Error("protocol error does not unwrap to ErrProtocol")
	}

	wrapped := fmt.Errorf("batch: %w", timeout)
	if !IsTimeout(wrapped) {
		t.Error("IsTimeout does not see through wrapping")
	}
}
