package usbip

import (
	"bytes"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDevlistReplyRoundTrip(t *testing.T) {
	devices := []UsbDeviceInfo{
		{
			Path:               "/sys/devices/pci0000:00/usb1/1-1",
			BusID:              "1-1",
			BusNumber:          1,
			DeviceNumber:       2,
			Speed:              SpeedHigh,
			IDVendor:           0x0781,
			IDProduct:          0x5567,
			BcdDevice:          0x0100,
			DeviceClass:        0,
			DeviceSubClass:     0,
			DeviceProtocol:     0,
			ConfigurationValue: 1,
			NumConfigurations:  1,
			Interfaces: []InterfaceInfo{
				{Class: 8, SubClass: 6, Protocol: 0x50},
			},
		},
		{Path: "/sys/devices/pci0000:00/usb1/1-2", BusID: "1-2"},
	}

	var buf bytes.Buffer
	require.NoError(t, WriteDevlistReply(&buf, devices))

	var hdrBuf [mgmtHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeMgmtHeader(hdrBuf[:])
	require.NoError(t, err)
	require.Equal(t, OpRepDevlist, hdr.Code)

	reply, err := DecodeDevlistReply(&buf, hdr)
	require.NoError(t, err)
	require.Equal(t, devices, reply.Devices)
	require.Equal(t, 0, buf.Len())
}

func TestImportReplyRoundTrip(t *testing.T) {
	dev := UsbDeviceInfo{Path: "/sys/bus/usb/devices/1-1", BusID: "1-1", BusNumber: 1, DeviceNumber: 1}

	var buf bytes.Buffer
	require.NoError(t, WriteImportReply(&buf, 0, &dev))

	var hdrBuf [mgmtHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeMgmtHeader(hdrBuf[:])
	require.NoError(t, err)

	reply, err := DecodeImportReply(&buf, hdr)
	require.NoError(t, err)
	require.Equal(t, dev, *reply.Device)
}

func TestImportReplyFailureCarriesNoDevice(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteImportReply(&buf, 1, nil))

	var hdrBuf [mgmtHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeMgmtHeader(hdrBuf[:])
	require.NoError(t, err)

	reply, err := DecodeImportReply(&buf, hdr)
	require.NoError(t, err)
	require.Nil(t, reply.Device)
	require.Equal(t, uint32(1), reply.Status)
}

func TestCmdSubmitRoundTripOut(t *testing.T) {
	cmd := CmdSubmit{
		Header: DataHeader{
			Command:   CmdCodeSubmit,
			Seqnum:    7,
			Devid:     0x00010002,
			Direction: DirOut,
			Ep:        2,
		},
		TransferFlags:        0,
		TransferBufferLength: 4,
		Setup:                [8]byte{0x21, 0x09, 0, 0, 0, 0, 4, 0},
		OutPayload:           []byte{1, 2, 3, 4},
	}

	var buf bytes.Buffer
	require.NoError(t, cmd.Write(&buf))

	var hdrBuf [dataHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)

	got, err := DecodeCmdSubmit(&buf, hdr, 1<<20)
	require.NoError(t, err)
	require.Equal(t, cmd, got)
}

func TestCmdSubmitIsochronousRoundTrip(t *testing.T) {
	cmd := CmdSubmit{
		Header: DataHeader{
			Command:   CmdCodeSubmit,
			Seqnum:    9,
			Devid:     1,
			Direction: DirIn,
			Ep:        6,
		},
		NumberOfPackets: 2,
		IsoDescriptors: []IsoDescriptor{
			{Offset: 0, Length: 64},
			{Offset: 64, Length: 64},
		},
	}

	var buf bytes.Buffer
	require.NoError(t, cmd.Write(&buf))

	var hdrBuf [dataHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)

	got, err := DecodeCmdSubmit(&buf, hdr, 1<<20)
	require.NoError(t, err)
	require.Equal(t, cmd, got)
}

func TestDecodeCmdSubmitRejectsOversizedBuffer(t *testing.T) {
	cmd := CmdSubmit{
		Header:               DataHeader{Command: CmdCodeSubmit, Direction: DirOut},
		TransferBufferLength: 1024,
		OutPayload:           make([]byte, 1024),
	}
	var buf bytes.Buffer
	require.NoError(t, cmd.Write(&buf))

	var hdrBuf [dataHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)

	_, err = DecodeCmdSubmit(&buf, hdr, 512)
	require.ErrorIs(t, err, ErrMalformedMessage)
}

func TestRetSubmitRoundTripIn(t *testing.T) {
	ret := RetSubmit{
		Header: DataHeader{
			Command:   RetCodeSubmit,
			Seqnum:    7,
			Devid:     1,
			Direction: DirIn,
			Ep:        1,
		},
		ActualLength: 3,
		InPayload:    []byte{9, 8, 7},
	}

	var buf bytes.Buffer
	require.NoError(t, ret.Write(&buf))

	var hdrBuf [dataHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)

	got, err := DecodeRetSubmit(&buf, hdr)
	require.NoError(t, err)
	require.Equal(t, ret, got)
}

func TestCmdUnlinkRoundTrip(t *testing.T) {
	cmd := CmdUnlink{
		Header:       DataHeader{Command: CmdCodeUnlink, Seqnum: 42, Devid: 1},
		UnlinkSeqnum: 7,
	}

	var buf bytes.Buffer
	require.NoError(t, cmd.Write(&buf))

	var hdrBuf [dataHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)

	got, err := DecodeCmdUnlink(&buf, hdr)
	require.NoError(t, err)
	require.Equal(t, cmd, got)
}

func TestRetUnlinkRoundTrip(t *testing.T) {
	ret := RetUnlink{
		Header: DataHeader{Command: RetCodeUnlink, Seqnum: 42, Devid: 1},
		Status: -125,
	}

	var buf bytes.Buffer
	require.NoError(t, ret.Write(&buf))

	var hdrBuf [dataHeaderSize]byte
	require.NoError(t, ReadExactly(&buf, hdrBuf[:]))
	hdr, err := DecodeDataHeader(hdrBuf[:])
	require.NoError(t, err)

	got, err := DecodeRetUnlink(&buf, hdr)
	require.NoError(t, err)
	require.Equal(t, ret, got)
}

func TestDecodeMgmtHeaderRejectsWrongVersion(t *testing.T) {
	var buf [mgmtHeaderSize]byte
	buf[0], buf[1] = 0x01, 0x00
	_, err := DecodeMgmtHeader(buf[:])
	require.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestReadExactlyShortRead(t *testing.T) {
	buf := make([]byte, 4)
	err := ReadExactly(bytes.NewReader([]byte{1, 2}), buf)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
}

// FuzzDecodeCmdSubmit checks that no byte sequence drives DecodeCmdSubmit
// into a panic or an unbounded allocation, regardless of what garbage the
// length fields claim.
func FuzzDecodeCmdSubmit(f *testing.F) {
	seed := CmdSubmit{
		Header:               DataHeader{Command: CmdCodeSubmit, Direction: DirOut},
		TransferBufferLength: 4,
		OutPayload:           []byte{1, 2, 3, 4},
	}
	var buf bytes.Buffer
	_ = seed.Write(&buf)
	f.Add(buf.Bytes())
	f.Add([]byte{})
	f.Add(make([]byte, dataHeaderSize+submitBodySize))

	f.Fuzz(func(t *testing.T, data []byte) {
		if len(data) < dataHeaderSize {
			return
		}
		hdr, err := DecodeDataHeader(data[:dataHeaderSize])
		if err != nil {
			return
		}
		_, _ = DecodeCmdSubmit(bytes.NewReader(data[dataHeaderSize:]), hdr, 1<<16)
	})
}

// FuzzDecodeDeviceInfo checks the device-info decoder against arbitrary
// input, in particular a claimed interface count that disagrees with the
// bytes actually present.
func FuzzDecodeDeviceInfo(f *testing.F) {
	var buf bytes.Buffer
	_ = WriteDeviceInfo(&buf, UsbDeviceInfo{
		Path:       "/sys/bus/usb/devices/1-1",
		BusID:      "1-1",
		Interfaces: []InterfaceInfo{{Class: 8}},
	})
	f.Add(buf.Bytes())
	f.Add([]byte{})

	f.Fuzz(func(t *testing.T, data []byte) {
		_, _ = DecodeDeviceInfo(bytes.NewReader(data))
	})
}
