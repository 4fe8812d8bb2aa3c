// Package asrl implements the transport for ASRL resources over local
// serial ports.
package asrl

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"go.bug.st/serial"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// defaultReadTimeout bounds a response read when the context carries no
// deadline of its own.
const defaultReadTimeout = 5 * time.Second

// Options configures line settings and message framing.
type Options struct {
	BaudRate int
	DataBits int
	Parity   string // none, odd, even, mark, space
	StopBits int    // 1 or 2

	// ReadTermination ends an instrument response. Defaults to "\n".
	ReadTermination string

	// WriteTermination is appended to every outgoing command. Defaults
	// to "\n".
	WriteTermination string
}

// Transport opens ASRL resources.
type Transport struct {
	opts Options
}

// New creates a serial transport. Zero options get 9600 8N1 with newline
// framing.
func New(opts Options) *Transport {
	if opts.BaudRate <= 0 {
		opts.BaudRate = 9600
	}
	if opts.DataBits <= 0 {
		opts.DataBits = 8
	}
	if opts.Parity == "" {
		opts.Parity = "none"
	}
	if opts.StopBits <= 0 {
		opts.StopBits = 1
	}
	if opts.ReadTermination == "" {
		opts.ReadTermination = "\n"
	}
	if opts.WriteTermination == "" {
		opts.WriteTermination = "\n"
	}
	return &Transport{opts: opts}
}

// Open opens the serial device named by the address. One port handle per
// call; the caller closes it.
func (t *Transport) Open(ctx context.Context, addr *visa.Address) (visa.Instrument, error) {
	if addr.Class != visa.ClassASRL {
		return nil, fmt.Errorf("serial transport cannot open %s resource %q", addr.Class, addr.Raw)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	mode, err := buildMode(t.opts)
	if err != nil {
		return nil, err
	}
	port, err := serial.Open(addr.SerialPort, mode)
	if err != nil {
		return nil, err
	}

	return &instrument{
		addr:      addr.Raw,
		port:      port,
		readTerm:  []byte(t.opts.ReadTermination),
		writeTerm: t.opts.WriteTermination,
	}, nil
}

// linePort is the slice of serial.Port the transport uses. Narrowing it
// keeps the response framing testable without hardware.
type linePort interface {
	io.ReadWriteCloser
	SetReadTimeout(time.Duration) error
}

var _ linePort = (serial.Port)(nil)

// instrument is one open serial port.
type instrument struct {
	addr      string
	port      linePort
	readTerm  []byte
	writeTerm string
}

var _ visa.Instrument = (*instrument)(nil)

func (i *instrument) Write(ctx context.Context, command string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	_, err := i.port.Write([]byte(command + i.writeTerm))
	return err
}

// Query writes the command and accumulates the response until the read
// terminator arrives or the deadline passes. The driver signals an expired
// read timeout as a zero-byte read, not an error.
func (i *instrument) Query(ctx context.Context, command string) (string, error) {
	if err := i.Write(ctx, command); err != nil {
		return "", err
	}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(defaultReadTimeout)
	}

	var response bytes.Buffer
	chunk := make([]byte, 256)
	for {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return "", visa.NewTimeoutError("read", i.addr,
				fmt.Errorf("no %q terminator in %q", i.readTerm, response.String()))
		}
		if err := i.port.SetReadTimeout(remaining); err != nil {
			return "", err
		}

		n, err := i.port.Read(chunk)
		if err != nil {
			return "", err
		}
		if n == 0 {
			return "", visa.NewTimeoutError("read", i.addr,
				fmt.Errorf("no %q terminator in %q", i.readTerm, response.String()))
		}

		response.Write(chunk[:n])
		if idx := bytes.Index(response.Bytes(), i.readTerm); idx >= 0 {
			return string(response.Bytes()[:idx]), nil
		}
	}
}

func (i *instrument) Address() string {
	return i.addr
}

func (i *instrument) Close() error {
	return i.port.Close()
}

// buildMode translates Options into the driver's line settings.
func buildMode(opts Options) (*serial.Mode, error) {
	parity, err := parityOf(opts.Parity)
	if err != nil {
		return nil, err
	}
	stopBits, err := stopBitsOf(opts.StopBits)
	if err != nil {
		return nil, err
	}
	return &serial.Mode{
		BaudRate: opts.BaudRate,
		DataBits: opts.DataBits,
		Parity:   parity,
		StopBits: stopBits,
	}, nil
}

func parityOf(name string) (serial.Parity, error) {
	switch name {
	case "none":
		return serial.NoParity, nil
	case "odd":
		return serial.OddParity, nil
	case "even":
		return serial.EvenParity, nil
	case "mark":
		return serial.MarkParity, nil
	case "space":
		return serial.SpaceParity, nil
	}
	return serial.NoParity, fmt.Errorf("unknown parity %q", name)
}

func stopBitsOf(n int) (serial.StopBits, error) {
	switch n {
	case 1:
		return serial.OneStopBit, nil
	case 2:
		return serial.TwoStopBits, nil
	}
	return serial.OneStopBit, fmt.Errorf("unsupported stop bits %d", n)
}
