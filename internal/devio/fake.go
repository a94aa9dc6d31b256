package devio

import (
	"context"
	"errors"
	"sync"

	"github.com/daedaluz/usbipd/internal/urb"
)

// ErrNoHandler is returned by FakePort.Submit when no handler is
// registered for a urb's endpoint.
var ErrNoHandler = errors.New("devio: no handler registered for endpoint")

// Handler computes the result of one transfer in tests.
type Handler func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error)

// FakePort is an in-memory Port substitute for session and listener tests.
// Handlers are keyed by endpoint number; SetDefault supplies a fallback
// used when no per-endpoint handler matches.
type FakePort struct {
	mu       sync.Mutex
	handlers map[uint8]Handler
	def      Handler
	closed   bool

	callsMu sync.Mutex
	calls   []*urb.Urb
}

// NewFakePort returns a FakePort with no handlers registered; Submit
// returns ErrNoHandler until one is added.
func NewFakePort() *FakePort {
	return &FakePort{handlers: make(map[uint8]Handler)}
}

// Handle registers the handler invoked for transfers to endpoint ep.
func (f *FakePort) Handle(ep uint8, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[ep] = h
}

// SetDefault registers the fallback handler used when no per-endpoint
// handler matches.
func (f *FakePort) SetDefault(h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.def = h
}

// Calls returns every urb.Urb passed to Submit so far, in order.
func (f *FakePort) Calls() []*urb.Urb {
	f.callsMu.Lock()
	defer f.callsMu.Unlock()
	out := make([]*urb.Urb, len(f.calls))
	copy(out, f.calls)
	return out
}

func (f *FakePort) Submit(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
	f.callsMu.Lock()
	f.calls = append(f.calls, u)
	f.callsMu.Unlock()

	f.mu.Lock()
	h, ok := f.handlers[u.Endpoint]
	if !ok {
		h, ok = f.def, f.def != nil
	}
	f.mu.Unlock()
	if !ok {
		return urb.TransferResult{}, ErrNoHandler
	}
	return h(ctx, u)
}

func (f *FakePort) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
