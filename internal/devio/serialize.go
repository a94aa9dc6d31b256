package devio

import (
	"context"
	"sync"

	"github.com/daedaluz/usbipd/internal/urb"
)

// SerializingPort wraps a Port and ensures at most one transfer is in
// flight at a time for a given (endpoint, direction) pair, queuing
// additional submits in arrival order; concurrency across distinct
// endpoints passes straight through. The underlying USB stack does not
// permit overlapped transfers on one endpoint.
type SerializingPort struct {
	inner Port

	mu    sync.Mutex
	slots map[slotKey]chan struct{}
}

type slotKey struct {
	endpoint  uint8
	direction urb.Direction
}

// NewSerializingPort wraps inner with per-endpoint serialization.
func NewSerializingPort(inner Port) *SerializingPort {
	return &SerializingPort{inner: inner, slots: make(map[slotKey]chan struct{})}
}

func (p *SerializingPort) slotFor(k slotKey) chan struct{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch, ok := p.slots[k]
	if !ok {
		ch = make(chan struct{}, 1)
		ch <- struct{}{}
		p.slots[k] = ch
	}
	return ch
}

// Submit acquires the (endpoint, direction) slot, then dispatches to inner.
// If ctx is cancelled while waiting for the slot, Submit returns without
// ever calling inner.
func (p *SerializingPort) Submit(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
	slot := p.slotFor(slotKey{endpoint: u.Endpoint, direction: u.Direction})
	select {
	case <-slot:
	case <-ctx.Done():
		return urb.TransferResult{}, ctx.Err()
	}
	defer func() { slot <- struct{}{} }()
	return p.inner.Submit(ctx, u)
}

func (p *SerializingPort) Close() error {
	return p.inner.Close()
}
