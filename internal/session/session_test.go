package session

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/daedaluz/usbipd/internal/devio"
	"github.com/daedaluz/usbipd/internal/registry"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
	"github.com/stretchr/testify/require"
)

func testConfig() Config {
	return Config{MaxPendingURBs: 8, MaxTransferBuffer: 1 << 20, ShutdownDrain: 200 * time.Millisecond}
}

func writeMgmt(t *testing.T, conn net.Conn, code uint16) {
	t.Helper()
	require.NoError(t, usbip.MgmtHeader{Version: usbip.Version, Code: code}.Write(conn))
}

func readMgmtHeader(t *testing.T, conn net.Conn) usbip.MgmtHeader {
	t.Helper()
	var buf [8]byte
	require.NoError(t, usbip.ReadExactly(conn, buf[:]))
	hdr, err := usbip.DecodeMgmtHeader(buf[:])
	require.NoError(t, err)
	return hdr
}

func TestSessionDevlistRoundTrip(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	reg.AddDevice(usbip.UsbDeviceInfo{BusID: "1-1", IDVendor: 0x1234}, devio.NewFakePort(), nil)

	client, server := net.Pipe()
	s := New(server, reg, nil, testConfig())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	writeMgmt(t, client, usbip.OpReqDevlist)
	hdr := readMgmtHeader(t, client)
	require.Equal(t, usbip.OpRepDevlist, hdr.Code)
	reply, err := usbip.DecodeDevlistReply(client, hdr)
	require.NoError(t, err)
	require.Len(t, reply.Devices, 1)
	require.Equal(t, "1-1", reply.Devices[0].BusID)

	client.Close()
	<-done
}

func TestSessionImportUnknownBusid(t *testing.T) {
	reg := registry.NewMemoryRegistry()

	client, server := net.Pipe()
	s := New(server, reg, nil, testConfig())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	writeMgmt(t, client, usbip.OpReqImport)
	var busid [usbip.BusIDSize]byte
	copy(busid[:], "9-9")
	_, err := client.Write(busid[:])
	require.NoError(t, err)

	hdr := readMgmtHeader(t, client)
	require.Equal(t, usbip.OpRepImport, hdr.Code)
	reply, err := usbip.DecodeImportReply(client, hdr)
	require.NoError(t, err)
	require.NotEqual(t, uint32(0), reply.Status)

	<-done
}

func TestSessionImportAndControlTransfer(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	port := devio.NewFakePort()
	port.Handle(0, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		return urb.TransferResult{ActualLength: 4, InPayload: []byte{1, 2, 3, 4}}, nil
	})
	reg.AddDevice(usbip.UsbDeviceInfo{BusID: "1-1", BusNumber: 1, DeviceNumber: 1}, port, nil)

	client, server := net.Pipe()
	s := New(server, reg, nil, testConfig())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	devid := importDevice(t, client, "1-1")

	req := usbip.CmdSubmit{
		Header: usbip.DataHeader{Command: usbip.CmdCodeSubmit, Seqnum: 1, Devid: devid, Direction: usbip.DirIn, Ep: 0},
		TransferBufferLength: 4,
	}
	require.NoError(t, req.Write(client))

	ret := readRetSubmit(t, client)
	require.Equal(t, int32(0), ret.Status)
	require.Equal(t, int32(4), ret.ActualLength)
	require.Equal(t, []byte{1, 2, 3, 4}, ret.InPayload)

	client.Close()
	<-done
}

func TestSessionUnlinkRacesCompletion(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	port := devio.NewFakePort()
	release := make(chan struct{})
	port.Handle(1, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		select {
		case <-release:
		case <-ctx.Done():
			return urb.TransferResult{}, ctx.Err()
		}
		return urb.TransferResult{ActualLength: 0}, nil
	})
	reg.AddDevice(usbip.UsbDeviceInfo{BusID: "1-1", BusNumber: 1, DeviceNumber: 1}, port,
		map[registry.EndpointKey]urb.TransferType{{Endpoint: 1, DirIn: false}: urb.TransferBulk})

	client, server := net.Pipe()
	s := New(server, reg, nil, testConfig())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	devid := importDevice(t, client, "1-1")

	submit := usbip.CmdSubmit{
		Header: usbip.DataHeader{Command: usbip.CmdCodeSubmit, Seqnum: 7, Devid: devid, Direction: usbip.DirOut, Ep: 1},
	}
	require.NoError(t, submit.Write(client))

	unlink := usbip.CmdUnlink{
		Header:       usbip.DataHeader{Command: usbip.CmdCodeUnlink, Seqnum: 8, Devid: devid, Direction: usbip.DirOut, Ep: 1},
		UnlinkSeqnum: 7,
	}
	require.NoError(t, unlink.Write(client))
	close(release)

	seenSubmit, seenUnlink := false, false
	for i := 0; i < 2; i++ {
		var hdrBuf [20]byte
		require.NoError(t, usbip.ReadExactly(client, hdrBuf[:]))
		hdr, err := usbip.DecodeDataHeader(hdrBuf[:])
		require.NoError(t, err)
		switch hdr.Command {
		case usbip.RetCodeSubmit:
			ret, err := usbip.DecodeRetSubmit(client, hdr)
			require.NoError(t, err)
			require.Equal(t, uint32(7), hdr.Seqnum)
			require.Equal(t, int32(-125), ret.Status)
			seenSubmit = true
		case usbip.RetCodeUnlink:
			ret, err := usbip.DecodeRetUnlink(client, hdr)
			require.NoError(t, err)
			require.Equal(t, uint32(8), hdr.Seqnum)
			require.Equal(t, int32(0), ret.Status)
			seenUnlink = true
		}
	}
	require.True(t, seenSubmit)
	require.True(t, seenUnlink)

	client.Close()
	<-done
}

func TestSessionDeviceDisconnectMidSession(t *testing.T) {
	reg := registry.NewMemoryRegistry()
	port := devio.NewFakePort()
	port.Handle(1, func(ctx context.Context, u *urb.Urb) (urb.TransferResult, error) {
		<-ctx.Done()
		return urb.TransferResult{}, ctx.Err()
	})
	reg.AddDevice(usbip.UsbDeviceInfo{BusID: "1-1", BusNumber: 1, DeviceNumber: 1}, port,
		map[registry.EndpointKey]urb.TransferType{{Endpoint: 1, DirIn: false}: urb.TransferBulk})

	client, server := net.Pipe()
	s := New(server, reg, nil, testConfig())
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	devid := importDevice(t, client, "1-1")

	submit := usbip.CmdSubmit{
		Header: usbip.DataHeader{Command: usbip.CmdCodeSubmit, Seqnum: 42, Devid: devid, Direction: usbip.DirOut, Ep: 1},
	}
	require.NoError(t, submit.Write(client))

	reg.Disconnect("1-1")

	ret := readRetSubmit(t, client)
	require.Equal(t, uint32(42), ret.Header.Seqnum)
	require.Equal(t, int32(-19), ret.Status)

	client.Close()
	<-done
}

func importDevice(t *testing.T, client net.Conn, busid string) uint32 {
	t.Helper()
	writeMgmt(t, client, usbip.OpReqImport)
	var buf [usbip.BusIDSize]byte
	copy(buf[:], busid)
	_, err := client.Write(buf[:])
	require.NoError(t, err)

	hdr := readMgmtHeader(t, client)
	require.Equal(t, usbip.OpRepImport, hdr.Code)
	reply, err := usbip.DecodeImportReply(client, hdr)
	require.NoError(t, err)
	require.Equal(t, uint32(0), reply.Status)
	require.NotNil(t, reply.Device)
	return (reply.Device.BusNumber << 16) | reply.Device.DeviceNumber
}

func readRetSubmit(t *testing.T, client net.Conn) usbip.RetSubmit {
	t.Helper()
	var hdrBuf [20]byte
	require.NoError(t, usbip.ReadExactly(client, hdrBuf[:]))
	hdr, err := usbip.DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)
	require.Equal(t, usbip.RetCodeSubmit, hdr.Command)
	ret, err := usbip.DecodeRetSubmit(client, hdr)
	require.NoError(t, err)
	return ret
}
