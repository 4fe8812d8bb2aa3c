// Package socket implements the transport for TCPIP SOCKET resources:
// termination-framed SCPI over a raw TCP connection.
package socket

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// Options configures dialing and message framing.
type Options struct {
	// DialTimeout bounds connection establishment. The context deadline
	// still applies when shorter.
	DialTimeout time.Duration

	// ReadTermination ends an instrument response. Defaults to "\n".
	ReadTermination string

	// WriteTermination is appended to every outgoing command. Defaults
	// to "\n".
	WriteTermination string
}

// Transport opens TCPIP SOCKET resources.
type Transport struct {
	opts Options
}

// New creates a socket transport. Zero options get protocol defaults.
func New(opts Options) *Transport {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 2 * time.Second
	}
	if opts.ReadTermination == "" {
		opts.ReadTermination = "\n"
	}
	if opts.WriteTermination == "" {
		opts.WriteTermination = "\n"
	}
	return &Transport{opts: opts}
}

// Open dials the instrument. One connection per call; the caller closes it.
func (t *Transport) Open(ctx context.Context, addr *visa.Address) (visa.Instrument, error) {
	if addr.Class != visa.ClassTCPIPSocket {
		return nil, fmt.Errorf("socket transport cannot open %s resource %q", addr.Class, addr.Raw)
	}

	dialer := net.Dialer{Timeout: t.opts.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", net.JoinHostPort(addr.Host, strconv.Itoa(addr.Port)))
	if err != nil {
		return nil, err
	}

	return &instrument{
		addr:      addr.Raw,
		conn:      conn,
		reader:    bufio.NewReader(conn),
		readTerm:  t.opts.ReadTermination,
		writeTerm: t.opts.WriteTermination,
	}, nil
}

// instrument is one live TCP connection.
type instrument struct {
	addr      string
	conn      net.Conn
	reader    *bufio.Reader
	readTerm  string
	writeTerm string
}

var _ visa.Instrument = (*instrument)(nil)

func (i *instrument) Write(ctx context.Context, command string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := i.conn.SetWriteDeadline(deadlineOf(ctx)); err != nil {
		return err
	}
	_, err := i.conn.Write([]byte(command + i.writeTerm))
	return err
}

// Query writes the command and reads one terminated response. The framing
// terminator is stripped; any other trailing whitespace is the caller's
// concern.
func (i *instrument) Query(ctx context.Context, command string) (string, error) {
	if err := i.Write(ctx, command); err != nil {
		return "", err
	}

	if err := i.conn.SetReadDeadline(deadlineOf(ctx)); err != nil {
		return "", err
	}
	line, err := i.reader.ReadString(i.readTerm[len(i.readTerm)-1])
	if err != nil {
		return "", err
	}
	return strings.TrimSuffix(line, i.readTerm), nil
}

func (i *instrument) Address() string {
	return i.addr
}

func (i *instrument) Close() error {
	return i.conn.Close()
}

// deadlineOf converts a context deadline to the form net.Conn wants, with
// the zero time clearing any previous deadline.
func deadlineOf(ctx context.Context) time.Time {
	if deadline, ok := ctx.Deadline(); ok {
		return deadline
	}
	return time.Time{}
}
