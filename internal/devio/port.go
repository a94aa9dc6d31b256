// Package devio is the device I/O port: it turns a urb.Urb into a
// urb.TransferResult against a real kernel device or, in tests, an
// in-memory fake, honoring per-transfer-type timeouts and best-effort
// cancellation.
package devio

import (
	"context"
	"time"

	"github.com/daedaluz/usbipd/internal/urb"
)

// Port submits one URB at a time and blocks until it completes, the
// context is cancelled, or the transfer-type's timeout elapses. Submit may
// be called concurrently. LinuxPort and FakePort do not serialize transfers
// to the same endpoint themselves; SerializingPort adds that over any Port.
type Port interface {
	Submit(ctx context.Context, u *urb.Urb) (urb.TransferResult, error)
	Close() error
}

// Timeouts holds the per-transfer-type deadlines applied when the caller's
// context carries no earlier deadline of its own.
type Timeouts struct {
	Control     time.Duration
	Bulk        time.Duration
	Interrupt   time.Duration
	Isochronous time.Duration
}

// DefaultTimeouts are the per-transfer-type defaults used when a caller
// doesn't override them.
var DefaultTimeouts = Timeouts{
	Control:     5 * time.Second,
	Bulk:        30 * time.Second,
	Interrupt:   10 * time.Second,
	Isochronous: 1 * time.Second,
}

func (t Timeouts) forType(tt urb.TransferType) time.Duration {
	switch tt {
	case urb.TransferControl:
		return t.Control
	case urb.TransferBulk:
		return t.Bulk
	case urb.TransferInterrupt:
		return t.Interrupt
	case urb.TransferIsochronous:
		return t.Isochronous
	default:
		return t.Control
	}
}

// withTimeout derives a context bounded both by ctx's own deadline (if any)
// and by this transfer type's configured timeout, whichever is sooner.
func withTimeout(ctx context.Context, t Timeouts, tt urb.TransferType) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, t.forType(tt))
}
