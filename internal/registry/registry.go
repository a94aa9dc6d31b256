// Package registry is the device registry port: the contract the session
// engine consumes to list, look up, claim, release and observe
// disconnection of locally attached USB devices. Claiming, enumerating and
// the physical transport live in an OS-specific sysfs/usbfs driver; this
// package only defines and satisfies the port's contract.
package registry

import (
	"context"

	"github.com/daedaluz/usbipd/internal/devio"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
)

// DeviceHandle is an exclusively claimed device: a capability to talk to it
// (Port) plus enough descriptor knowledge to classify submits.
type DeviceHandle interface {
	// BusID is the claimed device's busid, as advertised by List/Lookup.
	BusID() string
	// Info is the device's advertised snapshot, refreshed at claim time.
	Info() usbip.UsbDeviceInfo
	// Port is this device's device I/O port (serialized per endpoint).
	Port() devio.Port
	// EndpointTransferType classifies endpoint ep in the given direction
	// from the device's cached descriptors, for submits to a non-zero
	// endpoint (endpoint 0 is always control and needs no lookup).
	EndpointTransferType(ep uint8, dirIn bool) (urb.TransferType, bool)
}

// Registry is the device registry port consumed by the session engine.
// Implementations must make Claim exclusive: a second Claim of an
// already-claimed busid fails with errno.ErrAlreadyClaimed until Release.
type Registry interface {
	// List returns every currently attached device's advertised snapshot.
	// The result is a finite, non-restartable sequence; callers re-list to
	// refresh it.
	List(ctx context.Context) ([]usbip.UsbDeviceInfo, error)
	// Lookup returns one device's snapshot by busid, or errno.ErrNotFound.
	Lookup(ctx context.Context, busid string) (usbip.UsbDeviceInfo, error)
	// Claim exclusively claims busid, or fails with errno.ErrAlreadyClaimed,
	// errno.ErrNotFound, or errno.ErrPermissionDenied.
	Claim(ctx context.Context, busid string) (DeviceHandle, error)
	// Release returns a claimed handle to the registry. Idempotent.
	Release(h DeviceHandle) error
	// ObserveDisconnect returns a channel closed exactly once, when h's
	// device goes away.
	ObserveDisconnect(h DeviceHandle) <-chan struct{}
}
