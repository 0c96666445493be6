package adapter

import (
	"errors"
	"fmt"

	"github.com/karalabe/hid"
)

const VendorID = 0x04D8
const ProductID = 0x00DD

var ErrNotFound = errors.New("MCP2221 device not found")

// Enumerate lists the MCP2221 bridges attached to the host.
func Enumerate() []hid.DeviceInfo {
	return hid.Enumerate(VendorID, ProductID)
}

// OpenHID returns an Opener for the bridge with the given serial number. An empty serial
// accepts a single attached bridge and fails when there are several.
func OpenHID(serial string) Opener {
	return func() (Device, error) {
		devs := Enumerate()
		if len(devs) == 0 {
			return nil, ErrNotFound
		}
		info, err := pick(devs, serial)
		if err != nil {
			return nil, err
		}
		dev, err := info.Open()
		if err != nil {
			return nil, fmt.Errorf("could not open %s: %w", info.Path, err)
		}
		return dev, nil
	}
}

func pick(devs []hid.DeviceInfo, serial string) (hid.DeviceInfo, error) {
	if serial == "" {
		if len(devs) > 1 {
			return hid.DeviceInfo{}, fmt.Errorf("ambiguous device identification: %d bridges attached", len(devs))
		}
		return devs[0], nil
	}
	for _, d := range devs {
		if d.Serial == serial {
			return d, nil
		}
	}
	return hid.DeviceInfo{}, fmt.Errorf("%w: serial %q", ErrNotFound, serial)
}
