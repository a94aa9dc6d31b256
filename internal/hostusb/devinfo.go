package usb

import (
	"fmt"

	"github.com/daedaluz/usbipd/internal/usbip"
)

// speedToWire maps the raw sysfs "speed" attribute string to a USB/IP wire
// speed code. Linux reports the attribute in Mbit/s ("1.5", "12", "480",
// "5000", "10000", "20000"); unrecognized or missing values map to unknown.
func speedToWire(speed string) uint32 {
	switch speed {
	case "1.5":
		return usbip.SpeedLow
	case "12":
		return usbip.SpeedFull
	case "480":
		return usbip.SpeedHigh
	case "5000":
		return usbip.SpeedSuper
	case "10000", "20000":
		return usbip.SpeedSuperPlus
	default:
		return usbip.SpeedUnknown
	}
}

// ToDeviceInfo builds the wire-advertised snapshot of d from its cached
// descriptors and sysfs-reported speed: the shape the device registry port
// returns to the codec for OP_REP_DEVLIST/OP_REP_IMPORT.
func (d *Device) ToDeviceInfo() usbip.UsbDeviceInfo {
	info := usbip.UsbDeviceInfo{
		Path:         fmt.Sprintf("%s/%s", sysfsDeviceDir, d.BusID()),
		BusID:        d.BusID(),
		BusNumber:    uint32(d.BusNumber),
		DeviceNumber: uint32(d.DeviceNumber),
		Speed:        speedToWire(d.Speed),
	}
	if dd := d.GetDeviceDescriptor(); dd != nil {
		info.IDVendor = dd.IDVendor
		info.IDProduct = dd.IDProduct
		info.BcdDevice = dd.BcdDevice
		info.DeviceClass = uint8(dd.BDeviceClass)
		info.DeviceSubClass = uint8(dd.BDeviceSubClass)
		info.DeviceProtocol = dd.BDeviceProtocol
		info.NumConfigurations = dd.BNumConfigurations
	}
	if d.IsOpen() {
		if cfg, err := d.GetConfiguration(); err == nil {
			info.ConfigurationValue = uint8(cfg)
		}
	}
	for _, iface := range d.Interfaces() {
		info.Interfaces = append(info.Interfaces, usbip.InterfaceInfo{
			Class:    uint8(iface.BInterfaceClass),
			SubClass: uint8(iface.BInterfaceSubClass),
			Protocol: iface.BInterfaceProtocol,
		})
	}
	return info
}
