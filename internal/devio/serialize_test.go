package devio

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/stretchr/testify/require"
)

// TestSerializingPortOrdersSameEndpoint submits two transfers to the same
// endpoint concurrently and checks the second never overlaps the first.
func TestSerializingPortOrdersSameEndpoint(t *testing.T) {
	var inFlight int32
	var sawOverlap int32
	fake := NewFakePort()
	fake.Handle(1, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		if atomic.AddInt32(&inFlight, 1) > 1 {
			atomic.StoreInt32(&sawOverlap, 1)
		}
		time.Sleep(10 * time.Millisecond)
		atomic.AddInt32(&inFlight, -1)
		return urb.TransferResult{Status: 0}, nil
	})
	port := NewSerializingPort(fake)

	done := make(chan struct{}, 2)
	for i := 0; i < 2; i++ {
		go func() {
			_, _ = port.Submit(context.Background(), &urb.Urb{Endpoint: 1, Direction: urb.DirectionOut})
			done <- struct{}{}
		}()
	}
	<-done
	<-done
	require.Zero(t, atomic.LoadInt32(&sawOverlap))
	require.Len(t, fake.Calls(), 2)
}

// TestSerializingPortAllowsDistinctEndpoints checks that distinct endpoints
// are not serialized against each other.
func TestSerializingPortAllowsDistinctEndpoints(t *testing.T) {
	fake := NewFakePort()
	block := make(chan struct{})
	fake.Handle(1, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		<-block
		return urb.TransferResult{Status: 0}, nil
	})
	fake.Handle(2, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		return urb.TransferResult{Status: 0}, nil
	})
	port := NewSerializingPort(fake)

	ep1Done := make(chan struct{})
	go func() {
		_, _ = port.Submit(context.Background(), &urb.Urb{Endpoint: 1})
		close(ep1Done)
	}()

	res, err := port.Submit(context.Background(), &urb.Urb{Endpoint: 2})
	require.NoError(t, err)
	require.Equal(t, int32(0), res.Status)

	select {
	case <-ep1Done:
		t.Fatal("endpoint 1 should still be blocked")
	default:
	}
	close(block)
	<-ep1Done
}
