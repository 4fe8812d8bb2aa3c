package asrl

import (
	"context"
	"sort"

	"go.bug.st/serial/enumerator"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// Discover lists local serial ports as ASRL resource addresses, sorted for
// stable output. Exclusion filtering happens a layer up.
func Discover(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	addrs := make([]string, 0, len(ports))
	for _, port := range ports {
		addrs = append(addrs, visa.SerialAddress(port.Name))
	}
	sort.Strings(addrs)
	return addrs, nil
}

// PortDetail describes one local serial port for diagnostics.
type PortDetail struct {
	Name         string
	IsUSB        bool
	VID          string
	PID          string
	SerialNumber string
}

// Details reports every local serial port with its USB identity when the
// port hangs off a USB adapter.
func Details(ctx context.Context) ([]PortDetail, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, err
	}

	details := make([]PortDetail, 0, len(ports))
	for _, port := range ports {
		details = append(details, PortDetail{
			Name:         port.Name,
			IsUSB:        port.IsUSB,
			VID:          port.VID,
			PID:          port.PID,
			SerialNumber: port.SerialNumber,
		})
	}
	sort.Slice(details, func(i, j int) bool { return details[i].Name < details[j].Name })
	return details, nil
}
