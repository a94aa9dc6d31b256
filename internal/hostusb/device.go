package usb

import "fmt"

// The request codes a device-descriptor fetch and configuration change use;
// these are OS-independent, unlike Open/Ctrl which live in device_linux.go.
const (
	RequestDeviceSetAddress       = 0x05
	RequestDeviceGetDescriptor    = 0x06
	RequestDeviceSetDescriptor    = 0x07
	RequestDeviceGetConfiguration = 0x08
	RequestDeviceSetConfiguration = 0x09
)

const (
	RequestInterfaceGetInterface = 0x0a
	RequestInterfaceSetInterface = 0x11
)

// GetDeviceDescriptor returns the device's top-level DeviceDescriptor.
// EnumerateDevices always places it first in Descriptors.
func (d *Device) GetDeviceDescriptor() *DeviceDescriptor {
	if len(d.Descriptors) == 0 {
		return nil
	}
	dd, _ := d.Descriptors[0].(*DeviceDescriptor)
	return dd
}

// Interfaces returns the interface descriptors found among Descriptors, in
// the order they were parsed.
func (d *Device) Interfaces() []*InterfaceDescriptor {
	var out []*InterfaceDescriptor
	for _, desc := range d.Descriptors {
		if iface, ok := desc.(*InterfaceDescriptor); ok {
			out = append(out, iface)
		}
	}
	return out
}

// Endpoints returns the endpoint descriptors found among Descriptors, in
// the order they were parsed.
func (d *Device) Endpoints() []*EndpointDescriptor {
	var out []*EndpointDescriptor
	for _, desc := range d.Descriptors {
		if ep, ok := desc.(*EndpointDescriptor); ok {
			out = append(out, ep)
		}
	}
	return out
}

// EndpointTransferType returns the transfer type of the endpoint numbered
// ep (0-15) in the given direction, and whether such an endpoint was found
// among the device's cached descriptors.
func (d *Device) EndpointTransferType(ep uint8, dirIn bool) (TransferType, bool) {
	for _, e := range d.Endpoints() {
		num := e.BEndpointAddress & 0x0F
		epIn := e.BEndpointAddress&EndpointDirectionIn != 0
		if num == ep && epIn == dirIn {
			return e.TransferType(), true
		}
	}
	return 0, false
}

// BusID reproduces the USB/IP "<bus>-<dev>" busid string for this device.
func (d *Device) BusID() string {
	return BusID(d.BusNumber, d.DeviceNumber)
}

// BusID formats a bus/device address pair the way sysfs and USB/IP busids do.
func BusID(busNumber, deviceNumber int) string {
	return fmt.Sprintf("%d-%d", busNumber, deviceNumber)
}
