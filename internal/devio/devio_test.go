package devio

import (
	"context"
	"testing"

	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/stretchr/testify/require"
)

func TestFakePortDispatchesByEndpoint(t *testing.T) {
	p := NewFakePort()
	p.Handle(1, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		return urb.TransferResult{Status: 0, ActualLength: uint32(len(u.OutPayload))}, nil
	})

	res, err := p.Submit(context.Background(), &urb.Urb{
		Endpoint:   1,
		Direction:  urb.DirectionOut,
		OutPayload: []byte{1, 2, 3},
	})
	require.NoError(t, err)
	require.Equal(t, int32(0), res.Status)
	require.Equal(t, uint32(3), res.ActualLength)
	require.Len(t, p.Calls(), 1)
}

func TestFakePortNoHandler(t *testing.T) {
	p := NewFakePort()
	_, err := p.Submit(context.Background(), &urb.Urb{Endpoint: 5})
	require.ErrorIs(t, err, ErrNoHandler)
}

func TestFakePortDefaultHandler(t *testing.T) {
	p := NewFakePort()
	p.SetDefault(func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		return urb.TransferResult{Status: 0}, nil
	})
	_, err := p.Submit(context.Background(), &urb.Urb{Endpoint: 9})
	require.NoError(t, err)
}

func TestTimeoutsForType(t *testing.T) {
	require.Equal(t, DefaultTimeouts.Control, DefaultTimeouts.forType(urb.TransferControl))
	require.Equal(t, DefaultTimeouts.Bulk, DefaultTimeouts.forType(urb.TransferBulk))
	require.Equal(t, DefaultTimeouts.Interrupt, DefaultTimeouts.forType(urb.TransferInterrupt))
	require.Equal(t, DefaultTimeouts.Isochronous, DefaultTimeouts.forType(urb.TransferIsochronous))
}
