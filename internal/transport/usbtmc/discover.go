package usbtmc

import (
	"context"
	"sort"

	"github.com/google/gousb"

	"github.com/jakeogh/gpibtool/internal/visa"
)

// Discover lists attached USBTMC devices as USB resource addresses, sorted
// for stable output. Devices whose serial number cannot be read are skipped;
// without one the device cannot be addressed again.
func Discover(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	usbCtx := gousb.NewContext()
	defer usbCtx.Close()

	devs, err := usbCtx.OpenDevices(func(desc *gousb.DeviceDesc) bool {
		_, ok := findTMCLayout(desc)
		return ok
	})

	var addrs []string
	for _, dev := range devs {
		if serial, serr := dev.SerialNumber(); serr == nil && serial != "" {
			addrs = append(addrs, visa.USBAddress(uint16(dev.Desc.Vendor), uint16(dev.Desc.Product), serial))
		}
		dev.Close()
	}
	if err != nil && len(addrs) == 0 {
		return nil, err
	}

	sort.Strings(addrs)
	return addrs, nil
}
