package usbip

import (
	"encoding/binary"
	"io"
)

// WriteDevlistReply encodes OP_REP_DEVLIST: the mgmt header, a device
// count, then one UsbDeviceInfoOnWire record per device.
func WriteDevlistReply(w io.Writer, devices []UsbDeviceInfo) error {
	hdr := MgmtHeader{Version: Version, Code: OpRepDevlist, Status: 0}
	if err := hdr.Write(w); err != nil {
		return err
	}
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(devices)))
	if _, err := w.Write(n[:]); err != nil {
		return err
	}
	for _, d := range devices {
		if err := WriteDeviceInfo(w, d); err != nil {
			return err
		}
	}
	return nil
}

// DevlistReply is a decoded OP_REP_DEVLIST, used by tests exercising the
// codec round-trip.
type DevlistReply struct {
	Status  uint32
	Devices []UsbDeviceInfo
}

// DecodeDevlistReply reads an OP_REP_DEVLIST body, given the already-parsed
// mgmt header.
func DecodeDevlistReply(r io.Reader, hdr MgmtHeader) (DevlistReply, error) {
	var n [4]byte
	if err := ReadExactly(r, n[:]); err != nil {
		return DevlistReply{}, err
	}
	count := binary.BigEndian.Uint32(n[:])
	reply := DevlistReply{Status: hdr.Status, Devices: make([]UsbDeviceInfo, 0, count)}
	for i := uint32(0); i < count; i++ {
		d, err := DecodeDeviceInfo(r)
		if err != nil {
			return DevlistReply{}, err
		}
		reply.Devices = append(reply.Devices, d)
	}
	return reply, nil
}
