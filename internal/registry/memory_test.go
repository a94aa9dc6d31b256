package registry

import (
	"context"
	"testing"

	"github.com/daedaluz/usbipd/internal/devio"
	usberrno "github.com/daedaluz/usbipd/internal/errno"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
	"github.com/stretchr/testify/require"
)

func TestMemoryRegistryClaimIsExclusive(t *testing.T) {
	r := NewMemoryRegistry()
	r.AddDevice(usbip.UsbDeviceInfo{BusID: "1-1"}, devio.NewFakePort(), nil)

	h1, err := r.Claim(context.Background(), "1-1")
	require.NoError(t, err)

	_, err = r.Claim(context.Background(), "1-1")
	require.ErrorIs(t, err, usberrno.ErrAlreadyClaimed)

	require.NoError(t, r.Release(h1))

	h2, err := r.Claim(context.Background(), "1-1")
	require.NoError(t, err)
	require.Equal(t, "1-1", h2.BusID())
}

func TestMemoryRegistryClaimUnknownBusid(t *testing.T) {
	r := NewMemoryRegistry()
	_, err := r.Claim(context.Background(), "9-9")
	require.ErrorIs(t, err, usberrno.ErrNotFound)
}

func TestMemoryRegistryObserveDisconnect(t *testing.T) {
	r := NewMemoryRegistry()
	r.AddDevice(usbip.UsbDeviceInfo{BusID: "1-1"}, devio.NewFakePort(), map[EndpointKey]urb.TransferType{
		{Endpoint: 1, DirIn: false}: urb.TransferBulk,
	})
	h, err := r.Claim(context.Background(), "1-1")
	require.NoError(t, err)

	sig := r.ObserveDisconnect(h)
	select {
	case <-sig:
		t.Fatal("disconnect signal fired early")
	default:
	}

	r.Disconnect("1-1")
	<-sig

	tt, ok := h.EndpointTransferType(1, false)
	require.True(t, ok)
	require.Equal(t, urb.TransferBulk, tt)

	_, ok = h.EndpointTransferType(2, false)
	require.False(t, ok)
}
