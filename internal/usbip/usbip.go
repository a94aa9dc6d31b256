// Package usbip implements the wire codec for the USB/IP protocol: the
// control-plane messages used during device enumeration and import, and the
// data-plane messages that carry URB submit/unlink traffic once a session
// is operational. Every multi-byte integer on the wire is big-endian.
package usbip

import "errors"

// Version is the only protocol version this server accepts during
// handshake.
const Version uint16 = 0x0111

// Control-plane op codes (OP_REQ_*/OP_REP_*).
const (
	OpReqDevlist uint16 = 0x8005
	OpRepDevlist uint16 = 0x0005
	OpReqImport  uint16 = 0x8003
	OpRepImport  uint16 = 0x0003
)

// Data-plane commands.
const (
	CmdCodeSubmit uint32 = 0x00000001
	CmdCodeUnlink uint32 = 0x00000002
	RetCodeSubmit uint32 = 0x00000003
	RetCodeUnlink uint32 = 0x00000004
)

// Direction, as carried in the data-plane header.
const (
	DirIn  uint32 = 0
	DirOut uint32 = 1
)

// Speed codes for UsbDeviceInfo.Speed.
const (
	SpeedUnknown   uint32 = 0
	SpeedLow       uint32 = 1
	SpeedFull      uint32 = 2
	SpeedHigh      uint32 = 3
	SpeedWireless  uint32 = 4
	SpeedSuper     uint32 = 5
	SpeedSuperPlus uint32 = 6
)

const (
	// BusIDSize is the fixed, NUL-padded width of a busid field on the wire.
	BusIDSize = 32
	// PathSize is the fixed, NUL-padded width of a device path field.
	PathSize = 256

	mgmtHeaderSize    = 8
	dataHeaderSize    = 20
	submitBodySize    = 28
	retSubmitBodySize = 28
	unlinkBodySize    = 4 + 24
	retUnlinkBodySize = 4 + 24
	isoDescriptorSize = 16
	interfaceSize     = 4
)

var (
	// ErrMalformedMessage is returned when a header buffer is shorter than
	// its fixed size, when a CMD_SUBMIT length field is negative or exceeds
	// the configured limits, and by the session engine for an unknown op
	// code or command. A body cut short surfaces as the reader's own error
	// (io.ErrUnexpectedEOF), not as ErrMalformedMessage.
	ErrMalformedMessage = errors.New("usbip: malformed message")
	// ErrUnsupportedVersion is returned when a control-plane header's
	// version word is not Version.
	ErrUnsupportedVersion = errors.New("usbip: unsupported protocol version")
)
