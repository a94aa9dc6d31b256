package usbip

import (
	"encoding/binary"
	"io"
)

// MgmtHeader is the 8-byte header shared by every control-plane message.
type MgmtHeader struct {
	Version uint16
	Code    uint16
	Status  uint32
}

func (h MgmtHeader) Write(w io.Writer) error {
	var buf [mgmtHeaderSize]byte
	binary.BigEndian.PutUint16(buf[0:2], h.Version)
	binary.BigEndian.PutUint16(buf[2:4], h.Code)
	binary.BigEndian.PutUint32(buf[4:8], h.Status)
	_, err := w.Write(buf[:])
	return err
}

func DecodeMgmtHeader(buf []byte) (MgmtHeader, error) {
	if len(buf) < mgmtHeaderSize {
		return MgmtHeader{}, ErrMalformedMessage
	}
	h := MgmtHeader{
		Version: binary.BigEndian.Uint16(buf[0:2]),
		Code:    binary.BigEndian.Uint16(buf[2:4]),
		Status:  binary.BigEndian.Uint32(buf[4:8]),
	}
	if h.Version != Version {
		return MgmtHeader{}, ErrUnsupportedVersion
	}
	return h, nil
}

// DataHeader is the 20-byte header shared by CMD_SUBMIT, RET_SUBMIT,
// CMD_UNLINK and RET_UNLINK.
type DataHeader struct {
	Command   uint32
	Seqnum    uint32
	Devid     uint32
	Direction uint32
	Ep        uint32
}

func (h DataHeader) Write(w io.Writer) error {
	var buf [dataHeaderSize]byte
	h.put(buf[:])
	_, err := w.Write(buf[:])
	return err
}

func (h DataHeader) put(buf []byte) {
	binary.BigEndian.PutUint32(buf[0:4], h.Command)
	binary.BigEndian.PutUint32(buf[4:8], h.Seqnum)
	binary.BigEndian.PutUint32(buf[8:12], h.Devid)
	binary.BigEndian.PutUint32(buf[12:16], h.Direction)
	binary.BigEndian.PutUint32(buf[16:20], h.Ep)
}

func DecodeDataHeader(buf []byte) (DataHeader, error) {
	if len(buf) < dataHeaderSize {
		return DataHeader{}, ErrMalformedMessage
	}
	return DataHeader{
		Command:   binary.BigEndian.Uint32(buf[0:4]),
		Seqnum:    binary.BigEndian.Uint32(buf[4:8]),
		Devid:     binary.BigEndian.Uint32(buf[8:12]),
		Direction: binary.BigEndian.Uint32(buf[12:16]),
		Ep:        binary.BigEndian.Uint32(buf[16:20]),
	}, nil
}
