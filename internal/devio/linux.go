package devio

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	usberrno "github.com/daedaluz/usbipd/internal/errno"
	"github.com/daedaluz/usbipd/internal/hostusb/usbfs"
	"github.com/daedaluz/usbipd/internal/urb"

	usb "github.com/daedaluz/usbipd/internal/hostusb"
)

// asyncResult is what the reaper goroutine hands back to a waiting Submit
// call once the kernel completes (or cancels) a urb.
type asyncResult struct {
	status       int32
	actualLength int32
	startFrame   int32
	errorCount   int32
}

// LinuxPort submits transfers against a claimed hostusb.Device. Every
// transfer type goes through the same asynchronous submit/reap/discard
// ioctl triple, so a long-lived control or bulk transfer can be aborted
// mid-flight (USBDEVFS_DISCARDURB) on context cancellation instead of
// blocking the calling goroutine inside a syscall until the device's own
// timeout elapses.
type LinuxPort struct {
	dev      *usb.Device
	timeouts Timeouts

	nextContext uint64

	mu      sync.Mutex
	pending map[uint64]chan asyncResult
	closed  bool

	reaperDone chan struct{}
}

// NewLinuxPort starts the reaper goroutine for dev and returns a ready Port.
// dev must already be open.
func NewLinuxPort(dev *usb.Device, timeouts Timeouts) *LinuxPort {
	p := &LinuxPort{
		dev:        dev,
		timeouts:   timeouts,
		pending:    make(map[uint64]chan asyncResult),
		reaperDone: make(chan struct{}),
	}
	go p.reap()
	return p
}

// Close stops accepting new submissions and waits for the reaper to exit,
// which it does once every outstanding async urb has been reaped. It does
// not discard outstanding urbs itself.
func (p *LinuxPort) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	<-p.reaperDone
	return nil
}

// reapPollInterval bounds how long the reaper sleeps between
// USBDEVFS_REAPURBNDELAY polls when nothing is ready, trading a small
// amount of completion latency for not spinning a CPU core.
const reapPollInterval = 2 * time.Millisecond

func (p *LinuxPort) reap() {
	defer close(p.reaperDone)
	for {
		reaped, err := usbfs.ReapURBNonBlocking(p.dev.Fd())
		if err != nil {
			if p.drainedAndClosed() {
				return
			}
			time.Sleep(reapPollInterval)
			continue
		}
		ctxID := uint64(reaped.UserContext)
		p.mu.Lock()
		ch, ok := p.pending[ctxID]
		if ok {
			delete(p.pending, ctxID)
		}
		p.mu.Unlock()
		if !ok {
			continue
		}
		ch <- asyncResult{
			status:       reaped.Status,
			actualLength: reaped.ActualLength,
			startFrame:   reaped.StartFrame,
			errorCount:   reaped.ErrorCount,
		}
	}
}

// drainedAndClosed reports whether Close has been called and every
// in-flight async submission has already been reaped.
func (p *LinuxPort) drainedAndClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed && len(p.pending) == 0
}

// Submit dispatches u by transfer type and blocks until it completes, is
// cancelled, or times out.
func (p *LinuxPort) Submit(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
	ctx, cancel := withTimeout(ctx, p.timeouts, u.TransferType)
	defer cancel()

	switch u.TransferType {
	case urb.TransferControl:
		return p.submitControl(ctx, u)
	case urb.TransferBulk:
		return p.submitBulk(ctx, u)
	default:
		return p.submitAsync(ctx, u)
	}
}

// submitControl builds the setup-plus-data buffer USBDEVFS_SUBMITURB expects
// for a control urb (an 8-byte setup packet followed by the data stage) and
// dispatches it on endpoint 0; direction and recipient travel in the setup
// packet itself, not in the endpoint field.
func (p *LinuxPort) submitControl(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
	data := u.OutPayload
	if u.Direction == urb.DirectionIn {
		data = make([]byte, u.BufferLength)
	}
	buffer := make([]byte, len(u.Setup)+len(data))
	copy(buffer, u.Setup[:])
	copy(buffer[len(u.Setup):], data)

	setupLen := len(u.Setup)
	res, err := p.dispatchAsync(ctx, usbfs.URB_TYPE_CONTROL, 0, buffer)
	if err != nil {
		return urb.TransferResult{}, err
	}
	if res.ActualLength >= uint32(setupLen) {
		res.ActualLength -= uint32(setupLen)
	} else {
		res.ActualLength = 0
	}
	if u.Direction == urb.DirectionIn && len(res.InPayload) > setupLen {
		res.InPayload = res.InPayload[setupLen:]
	} else {
		res.InPayload = nil
	}
	return res, nil
}

func (p *LinuxPort) submitBulk(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
	payload := u.OutPayload
	if u.Direction == urb.DirectionIn {
		payload = make([]byte, u.BufferLength)
	}
	res, err := p.dispatchAsync(ctx, usbfs.URB_TYPE_BULK, u.Endpoint, payload)
	if err != nil {
		return urb.TransferResult{}, err
	}
	if u.Direction != urb.DirectionIn {
		res.InPayload = nil
	}
	return res, nil
}

func (p *LinuxPort) submitAsync(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
	payload := u.OutPayload
	if u.Direction == urb.DirectionIn {
		payload = make([]byte, u.BufferLength)
	}

	urbType := uint8(usbfs.URB_TYPE_INTERRUPT)
	if u.TransferType == urb.TransferIsochronous {
		urbType = usbfs.URB_TYPE_ISO
	}
	res, err := p.dispatchAsync(ctx, urbType, u.Endpoint, payload)
	if err != nil {
		return urb.TransferResult{}, err
	}
	if u.Direction != urb.DirectionIn {
		res.InPayload = nil
	}
	return res, nil
}

// dispatchAsync submits buffer as an async urb of the given type and
// endpoint, then waits for it to complete or, if ctx is cancelled first,
// issues USBDEVFS_DISCARDURB and waits for the kernel to hand back the
// resulting -ECANCELED completion before returning. The returned result's
// InPayload always aliases buffer truncated to the kernel-reported actual
// length; callers for OUT-only transfers clear it.
func (p *LinuxPort) dispatchAsync(ctx context.Context, urbType, endpoint uint8, buffer []byte) (urb.TransferResult, error) {
	ctxID := atomic.AddUint64(&p.nextContext, 1)
	ch := make(chan asyncResult, 1)
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return urb.TransferResult{}, context.Canceled
	}
	p.pending[ctxID] = ch
	p.mu.Unlock()

	raw := usbfs.NewAsyncURB(urbType, endpoint, buffer, uintptr(ctxID))
	if err := usbfs.SubmitURB(p.dev.Fd(), raw); err != nil {
		p.mu.Lock()
		delete(p.pending, ctxID)
		p.mu.Unlock()
		return urb.TransferResult{Status: int32(usberrno.FromError(err))}, nil
	}

	var res asyncResult
	select {
	case <-ctx.Done():
		_ = usbfs.DiscardURB(p.dev.Fd(), raw)
		res = <-ch
	case res = <-ch:
	}
	result := urb.TransferResult{
		Status:       res.status,
		ActualLength: uint32(res.actualLength),
		ErrorCount:   uint32(res.errorCount),
		StartFrame:   uint32(res.startFrame),
	}
	if res.actualLength > 0 {
		result.InPayload = buffer[:res.actualLength]
	}
	return result, nil
}
