package registry

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/daedaluz/usbipd/internal/devio"
	usb "github.com/daedaluz/usbipd/internal/hostusb"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"

	usberrno "github.com/daedaluz/usbipd/internal/errno"
)

// disconnectPollInterval bounds how often a claimed device's sysfs
// directory is polled for removal. There is no inotify/netlink hot-plug
// subsystem wired in, so this is a simple stat loop rather than invented
// infrastructure.
const disconnectPollInterval = 500 * time.Millisecond

// SysfsRegistry is the Linux registry implementation: enumeration over
// /sys/bus/usb/devices and claiming via usbdevfs kernel-driver detach.
type SysfsRegistry struct {
	timeouts devio.Timeouts

	mu      sync.Mutex
	claimed map[string]bool
}

// NewSysfsRegistry returns a registry whose claimed devices' I/O ports
// apply the given per-transfer-type timeouts.
func NewSysfsRegistry(timeouts devio.Timeouts) *SysfsRegistry {
	return &SysfsRegistry{timeouts: timeouts, claimed: make(map[string]bool)}
}

func (r *SysfsRegistry) List(ctx context.Context) ([]usbip.UsbDeviceInfo, error) {
	devices, err := usb.EnumerateDevices()
	if err != nil {
		return nil, err
	}
	out := make([]usbip.UsbDeviceInfo, 0, len(devices))
	for _, d := range devices {
		out = append(out, d.ToDeviceInfo())
	}
	return out, nil
}

func (r *SysfsRegistry) find(busid string) (*usb.Device, error) {
	devices, err := usb.FindDevices(func(d *usb.Device) bool { return d.BusID() == busid })
	if err != nil {
		return nil, err
	}
	if len(devices) == 0 {
		return nil, usberrno.ErrNotFound
	}
	return devices[0], nil
}

func (r *SysfsRegistry) Lookup(ctx context.Context, busid string) (usbip.UsbDeviceInfo, error) {
	d, err := r.find(busid)
	if err != nil {
		return usbip.UsbDeviceInfo{}, err
	}
	return d.ToDeviceInfo(), nil
}

func (r *SysfsRegistry) Claim(ctx context.Context, busid string) (DeviceHandle, error) {
	r.mu.Lock()
	if r.claimed[busid] {
		r.mu.Unlock()
		return nil, usberrno.ErrAlreadyClaimed
	}
	r.claimed[busid] = true
	r.mu.Unlock()

	d, err := r.find(busid)
	if err != nil {
		r.unclaim(busid)
		return nil, err
	}
	if err := d.Open(); err != nil {
		r.unclaim(busid)
		if os.IsPermission(err) {
			return nil, usberrno.ErrPermissionDenied
		}
		return nil, err
	}
	for _, iface := range d.Interfaces() {
		_ = d.DetachKernel(uint32(iface.BInterfaceNumber))
		_ = d.ClaimInterface(int(iface.BInterfaceNumber))
	}

	h := &sysfsHandle{
		registry:   r,
		dev:        d,
		timeouts:   r.timeouts,
		disconnect: make(chan struct{}),
		stopWatch:  make(chan struct{}),
	}
	go h.watchDisconnect()
	return h, nil
}

func (r *SysfsRegistry) unclaim(busid string) {
	r.mu.Lock()
	delete(r.claimed, busid)
	r.mu.Unlock()
}

func (r *SysfsRegistry) Release(h DeviceHandle) error {
	sh, ok := h.(*sysfsHandle)
	if !ok {
		return fmt.Errorf("registry: handle not issued by this registry")
	}
	sh.releaseOnce.Do(func() {
		close(sh.stopWatch)
		for _, iface := range sh.dev.Interfaces() {
			_ = sh.dev.ReleaseInterface(int(iface.BInterfaceNumber))
			_ = sh.dev.AttachKernel(uint32(iface.BInterfaceNumber))
		}
		_ = sh.dev.Close()
		r.unclaim(sh.dev.BusID())
	})
	return nil
}

func (r *SysfsRegistry) ObserveDisconnect(h DeviceHandle) <-chan struct{} {
	return h.(*sysfsHandle).disconnect
}

type sysfsHandle struct {
	registry *SysfsRegistry
	dev      *usb.Device
	timeouts devio.Timeouts

	portOnce sync.Once
	port     devio.Port

	disconnect     chan struct{}
	disconnectOnce sync.Once
	stopWatch      chan struct{}
	releaseOnce    sync.Once
}

func (h *sysfsHandle) BusID() string { return h.dev.BusID() }

func (h *sysfsHandle) Info() usbip.UsbDeviceInfo { return h.dev.ToDeviceInfo() }

func (h *sysfsHandle) Port() devio.Port {
	h.portOnce.Do(func() {
		h.port = devio.NewSerializingPort(devio.NewLinuxPort(h.dev, h.timeouts))
	})
	return h.port
}

func (h *sysfsHandle) EndpointTransferType(ep uint8, dirIn bool) (urb.TransferType, bool) {
	t, ok := h.dev.EndpointTransferType(ep, dirIn)
	if !ok {
		return 0, false
	}
	return fromHostTransferType(t), true
}

func fromHostTransferType(t usb.TransferType) urb.TransferType {
	switch t {
	case usb.TransferTypeBulk:
		return urb.TransferBulk
	case usb.TransferTypeInterrupt:
		return urb.TransferInterrupt
	case usb.TransferTypeIsochronous:
		return urb.TransferIsochronous
	default:
		return urb.TransferControl
	}
}

func (h *sysfsHandle) watchDisconnect() {
	path := fmt.Sprintf("/sys/bus/usb/devices/%s", h.dev.BusID())
	ticker := time.NewTicker(disconnectPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-h.stopWatch:
			return
		case <-ticker.C:
			if _, err := os.Stat(path); os.IsNotExist(err) {
				h.disconnectOnce.Do(func() { close(h.disconnect) })
				return
			}
		}
	}
}
