package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/daedaluz/usbipd/internal/devio"
	usberrno "github.com/daedaluz/usbipd/internal/errno"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
)

// EndpointKey identifies one (endpoint, direction) pair for the
// transfer-type map a MemoryRegistry device is registered with.
type EndpointKey struct {
	Endpoint uint8
	DirIn    bool
}

// MemoryRegistry is an in-memory Registry substitute for session and
// listener tests, programmable with canned device snapshots, fake device
// I/O ports and a disconnect trigger.
type MemoryRegistry struct {
	mu      sync.Mutex
	devices map[string]*memoryDevice
	claimed map[string]bool
}

type memoryDevice struct {
	info           usbip.UsbDeviceInfo
	port           devio.Port
	endpoints      map[EndpointKey]urb.TransferType
	disconnect     chan struct{}
	disconnectOnce sync.Once
}

// NewMemoryRegistry returns an empty MemoryRegistry; add devices with
// AddDevice before using it.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		devices: make(map[string]*memoryDevice),
		claimed: make(map[string]bool),
	}
}

// AddDevice registers a device reachable by List/Lookup/Claim. port backs
// every submit; endpoints classifies non-zero endpoints for the submit
// processor's dispatch step.
func (r *MemoryRegistry) AddDevice(info usbip.UsbDeviceInfo, port devio.Port, endpoints map[EndpointKey]urb.TransferType) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.devices[info.BusID] = &memoryDevice{
		info:       info,
		port:       devio.NewSerializingPort(port),
		endpoints:  endpoints,
		disconnect: make(chan struct{}),
	}
}

func (r *MemoryRegistry) List(ctx context.Context) ([]usbip.UsbDeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]usbip.UsbDeviceInfo, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.info)
	}
	return out, nil
}

func (r *MemoryRegistry) Lookup(ctx context.Context, busid string) (usbip.UsbDeviceInfo, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[busid]
	if !ok {
		return usbip.UsbDeviceInfo{}, usberrno.ErrNotFound
	}
	return d.info, nil
}

func (r *MemoryRegistry) Claim(ctx context.Context, busid string) (DeviceHandle, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.devices[busid]
	if !ok {
		return nil, usberrno.ErrNotFound
	}
	if r.claimed[busid] {
		return nil, usberrno.ErrAlreadyClaimed
	}
	r.claimed[busid] = true
	return &memoryHandle{registry: r, busid: busid, dev: d}, nil
}

func (r *MemoryRegistry) Release(h DeviceHandle) error {
	mh, ok := h.(*memoryHandle)
	if !ok {
		return fmt.Errorf("registry: handle not issued by this registry")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, mh.busid)
	return nil
}

func (r *MemoryRegistry) ObserveDisconnect(h DeviceHandle) <-chan struct{} {
	return h.(*memoryHandle).dev.disconnect
}

// Disconnect simulates busid's device going away: every handle's
// observe-disconnect channel closes exactly once.
func (r *MemoryRegistry) Disconnect(busid string) {
	r.mu.Lock()
	d, ok := r.devices[busid]
	r.mu.Unlock()
	if !ok {
		return
	}
	d.disconnectOnce.Do(func() { close(d.disconnect) })
}

type memoryHandle struct {
	registry *MemoryRegistry
	busid    string
	dev      *memoryDevice
}

func (h *memoryHandle) BusID() string { return h.busid }

func (h *memoryHandle) Info() usbip.UsbDeviceInfo { return h.dev.info }

func (h *memoryHandle) Port() devio.Port { return h.dev.port }

func (h *memoryHandle) EndpointTransferType(ep uint8, dirIn bool) (urb.TransferType, bool) {
	t, ok := h.dev.endpoints[EndpointKey{Endpoint: ep, DirIn: dirIn}]
	return t, ok
}
