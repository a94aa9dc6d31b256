package usb

import (
	"fmt"
	"syscall"

	"github.com/daedaluz/usbipd/internal/hostusb/usbfs"
)

const (
	usbDevPath = "/dev/bus/usb"
)

// Device is a claimed USB device reachable through /dev/bus/usb on Linux.
type Device struct {
	fd           int
	BusNumber    int
	DeviceNumber int
	Descriptors  []Descriptor
	// Speed is the sysfs-reported link speed, read once at enumeration
	// time; see ToDeviceInfo for how it's carried onto the wire.
	Speed string
}

func (d *Device) Open() error {
	if d.fd != -1 {
		return fmt.Errorf("device already open")
	}
	fd, err := usbfs.OpenDevice(d.BusNumber, d.DeviceNumber)
	if err != nil {
		return err
	}
	d.fd = fd
	return nil
}

func (d *Device) IsOpen() bool {
	return d.fd != -1
}

// Fd exposes the underlying usbdevfs file descriptor for devio's async backend.
func (d *Device) Fd() int {
	return d.fd
}

func (d *Device) GetDriver(iface uint32) (string, error) {
	return usbfs.GetDriver(d.fd, iface)
}

func (d *Device) DetachKernel(iface uint32) error {
	return usbfs.Disconnect(d.fd, iface)
}

func (d *Device) AttachKernel(iface uint32) error {
	return usbfs.Connect(d.fd, iface)
}

func (d *Device) ClaimInterface(iface int) error {
	return usbfs.ClaimInterface(d.fd, iface)
}

func (d *Device) ReleaseInterface(iface int) error {
	return usbfs.ReleaseInterface(d.fd, iface)
}

// Ctrl issues a control transfer directly against the device with a fixed
// 1000ms timeout. Its only caller is GetConfiguration (stddevice.go), which
// ToDeviceInfo issues only once the device is open, i.e. after Claim; client
// URB traffic goes through devio's asynchronous, cancellable
// submit/reap/discard ioctls instead.
func (d *Device) Ctrl(typ RequestType, req uint8, value uint16, index uint16, payload []byte) (int, error) {
	return usbfs.ControlTransfer(d.fd, uint8(typ), req, value, index, 1000, payload)
}

func (d *Device) Reset() error {
	return usbfs.ResetDevice(d.fd)
}

func (d *Device) Close() error {
	if d.fd == -1 {
		return nil
	}
	e := syscall.Close(d.fd)
	d.fd = -1
	return e
}
