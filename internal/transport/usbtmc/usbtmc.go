// Package usbtmc implements the transport for USB resources speaking the
// USB Test and Measurement Class protocol over bulk endpoints.
package usbtmc

import (
	"context"
	"fmt"

	"github.com/google/gousb"
	"go.uber.org/multierr"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// tmcSubclass is the USBTMC interface subclass under the application
// specific class.
const tmcSubclass = gousb.Class(0x03)

// maxTransferSize bounds one response transfer request.
const maxTransferSize = 64 * 1024

// Options configures command framing.
type Options struct {
	// WriteTermination is appended to every outgoing command. Defaults
	// to "\n".
	WriteTermination string
}

// Transport opens USB resources.
type Transport struct {
	writeTerm string
}

// New creates a USBTMC transport.
func New(opts Options) *Transport {
	if opts.WriteTermination == "" {
		opts.WriteTermination = "\n"
	}
	return &Transport{writeTerm: opts.WriteTermination}
}

// Open claims the TMC interface of the device matching the address's vendor,
// product, and serial number. Each call owns its own USB context; Close
// releases everything.
func (t *Transport) Open(ctx context.Context, addr *visa.Address) (visa.Instrument, error) {
	if addr.Class != visa.ClassUSB {
		return nil, fmt.Errorf("usbtmc transport cannot open %s resource %q", addr.Class, addr.Raw)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbCtx := gousb.NewContext()
	inst, err := openDevice(usbCtx, addr, t.writeTerm)
	if err != nil {
		return nil, multierr.Append(err, usbCtx.Close())
	}
	return inst, nil
}

// openDevice finds and claims the addressed device within an open context.
func openDevice(usbCtx *gousb.Context, addr *visa.Address, writeTerm string) (*instrument, error) {
	devs, openErr := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		if desc.Vendor != gousb.ID(addr.VendorID) || desc.Product != gousb.ID(addr.ProductID) {
			return false
		}
		_, ok := findTMCLayout(desc)
		return ok
	})

	var dev *gousb.Device
	for _, candidate := range devs {
		if dev != nil {
			candidate.Close()
			continue
		}
		serial, err := candidate.SerialNumber()
		if err != nil || serial != addr.USBSerial {
			candidate.Close()
			continue
		}
		dev = candidate
	}
	if dev == nil {
		if openErr != nil {
			return nil, openErr
		}
		return nil, visa.NewConnectError(addr.Raw,
			fmt.Errorf("no USBTMC device 0x%04X:0x%04X with serial %q", addr.VendorID, addr.ProductID, addr.USBSerial))
	}

	layout, _ := findTMCLayout(dev.Desc)
	if err := dev.SetAutoDetach(true); err != nil {
		return nil, multierr.Append(err, dev.Close())
	}

	cfg, err := dev.Config(layout.config)
	if err != nil {
		return nil, multierr.Append(err, dev.Close())
	}
	intf, err := cfg.Interface(layout.iface, layout.alt)
	if err != nil {
		return nil, multierr.Combine(err, cfg.Close(), dev.Close())
	}
	out, err := intf.OutEndpoint(layout.outEp)
	if err == nil {
		var in *gousb.InEndpoint
		if in, err = intf.InEndpoint(layout.inEp); err == nil {
			return &instrument{
				addr:      addr.Raw,
				usbCtx:    usbCtx,
				dev:       dev,
				cfg:       cfg,
				intf:      intf,
				in:        in,
				out:       out,
				writeTerm: writeTerm,
			}, nil
		}
	}
	intf.Close()
	return nil, multierr.Combine(err, cfg.Close(), dev.Close())
}

// tmcLayout locates the TMC interface and its bulk endpoint pair inside a
// device descriptor.
type tmcLayout struct {
	config int
	iface  int
	alt    int
	inEp   int
	outEp  int
}

// findTMCLayout scans a descriptor for an application-class interface with
// the TMC subclass and a bulk endpoint in each direction.
func findTMCLayout(desc *gousb.DeviceDesc) (tmcLayout, bool) {
	for _, cfg := range desc.Configs {
		for _, intf := range cfg.Interfaces {
			for _, alt := range intf.AltSettings {
				if alt.Class != gousb.ClassApplication || alt.SubClass != tmcSubclass {
					continue
				}
				in, out := -1, -1
				for _, ep := range alt.Endpoints {
					if ep.TransferType != gousb.TransferTypeBulk {
						continue
					}
					if ep.Direction == gousb.EndpointDirectionIn {
						in = ep.Number
					} else {
						out = ep.Number
					}
				}
				if in >= 0 && out >= 0 {
					return tmcLayout{
						config: cfg.Number,
						iface:  intf.Number,
						alt:    alt.Alternate,
						inEp:   in,
						outEp:  out,
					}, true
				}
			}
		}
	}
	return tmcLayout{}, false
}

// instrument is one claimed TMC interface.
type instrument struct {
	addr      string
	usbCtx    *gousb.Context
	dev       *gousb.Device
	cfg       *gousb.Config
	intf      *gousb.Interface
	in        *gousb.InEndpoint
	out       *gousb.OutEndpoint
	tag       byte
	writeTerm string
}

var _ visa.Instrument = (*instrument)(nil)

// Write sends the command as a single end-of-message transfer.
func (i *instrument) Write(ctx context.Context, command string) error {
	i.tag = nextTag(i.tag)
	frame := devDepMsgOut(i.tag, []byte(command+i.writeTerm), true)
	_, err := i.out.WriteContext(ctx, frame)
	return err
}

// Query writes the command, then requests response transfers until the
// device flags end of message.
func (i *instrument) Query(ctx context.Context, command string) (string, error) {
	if err := i.Write(ctx, command); err != nil {
		return "", err
	}

	var response []byte
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		i.tag = nextTag(i.tag)
		if _, err := i.out.WriteContext(ctx, requestDevDepMsgIn(i.tag, maxTransferSize)); err != nil {
			return "", err
		}

		buf := make([]byte, headerSize+maxTransferSize)
		n, err := i.in.ReadContext(ctx, buf)
		if err != nil {
			if ctx.Err() != nil {
				return "", visa.NewTimeoutError("read", i.addr, err)
			}
			return "", err
		}

		payload, eom, err := parseDevDepMsgIn(buf[:n], i.tag)
		if err != nil {
			return "", visa.NewProtocolError("read", i.addr, err)
		}
		response = append(response, payload...)
		if eom {
			return string(response), nil
		}
	}
}

func (i *instrument) Address() string {
	return i.addr
}

// Close releases the interface, configuration, device handle, and the USB
// context backing them.
func (i *instrument) Close() error {
	i.intf.Close()
	return multierr.Combine(i.cfg.Close(), i.dev.Close(), i.usbCtx.Close())
}
