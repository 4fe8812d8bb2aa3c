// Package gpib implements the transport for GPIB resources behind Prologix
// GPIB-USB controllers on virtual COM ports.
package gpib

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/gotmc/prologix"
	"github.com/gotmc/prologix/driver/vcp"
	"go.uber.org/multierr"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// Options configures which Prologix controller serves each GPIB board.
type Options struct {
	// Controllers maps a board index to the controller's serial port,
	// e.g. 0 -> "/dev/ttyUSB2".
	Controllers map[int]string
}

// Transport opens GPIB resources.
type Transport struct {
	controllers map[int]string
}

// New creates a GPIB transport over the configured controllers.
func New(opts Options) *Transport {
	return &Transport{controllers: opts.Controllers}
}

// Open attaches to the controller for the address's board and targets its
// primary address. Prologix controllers cannot target secondary addresses.
// Read timeouts are enforced by the controller itself, not the context.
func (t *Transport) Open(ctx context.Context, addr *visa.Address) (visa.Instrument, error) {
	if addr.Class != visa.ClassGPIB {
		return nil, fmt.Errorf("gpib transport cannot open %s resource %q", addr.Class, addr.Raw)
	}
	if addr.SecondaryAddr >= 0 {
		return nil, visa.NewProtocolError("open", addr.Raw,
			fmt.Errorf("secondary address %d not supported by Prologix controllers", addr.SecondaryAddr))
	}
	port, ok := t.controllers[addr.Board]
	if !ok {
		return nil, visa.NewConnectError(addr.Raw,
			fmt.Errorf("no Prologix controller configured for GPIB board %d", addr.Board))
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	drv, err := vcp.NewVCP(port)
	if err != nil {
		return nil, err
	}
	ctrl, err := prologix.NewController(drv, addr.PrimaryAddr, false)
	if err != nil {
		return nil, multierr.Append(err, drv.Close())
	}

	return &instrument{addr: addr.Raw, ctrl: ctrl, drv: drv}, nil
}

// instrument is one controller session targeting a single bus address.
type instrument struct {
	addr string
	ctrl *prologix.Controller
	drv  *vcp.VCP
}

var _ visa.Instrument = (*instrument)(nil)

func (i *instrument) Write(ctx context.Context, command string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	return i.ctrl.Command("%s", command)
}

// Query sends the command and reads the response. The controller reports an
// exhausted read timeout as io.EOF with whatever arrived so far; an empty
// EOF response means the instrument never answered.
func (i *instrument) Query(ctx context.Context, command string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	resp, err := i.ctrl.Query(command)
	switch {
	case err == nil:
		return resp, nil
	case errors.Is(err, io.EOF) && resp != "":
		return resp, nil
	case errors.Is(err, io.EOF):
		return "", visa.NewTimeoutError("read", i.addr, err)
	default:
		return "", err
	}
}

func (i *instrument) Address() string {
	return i.addr
}

// Close discards unread controller data and releases the serial port.
func (i *instrument) Close() error {
	return multierr.Append(i.drv.Flush(), i.drv.Close())
}
