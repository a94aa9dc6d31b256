package usbip

import (
	"encoding/binary"
	"io"
)

// CmdUnlink is a decoded CMD_UNLINK message: the common header plus the
// seqnum of the CMD_SUBMIT being cancelled. The remaining 24 bytes of its
// body are reserved and always zero.
type CmdUnlink struct {
	Header       DataHeader
	UnlinkSeqnum uint32
}

// DecodeCmdUnlink reads a CMD_UNLINK body, given the already-decoded
// common header.
func DecodeCmdUnlink(r io.Reader, hdr DataHeader) (CmdUnlink, error) {
	var body [unlinkBodySize]byte
	if err := ReadExactly(r, body[:]); err != nil {
		return CmdUnlink{}, err
	}
	return CmdUnlink{
		Header:       hdr,
		UnlinkSeqnum: binary.BigEndian.Uint32(body[0:4]),
	}, nil
}

// Write encodes a CMD_UNLINK message to w.
func (c CmdUnlink) Write(w io.Writer) error {
	if err := c.Header.Write(w); err != nil {
		return err
	}
	var body [unlinkBodySize]byte
	binary.BigEndian.PutUint32(body[0:4], c.UnlinkSeqnum)
	_, err := w.Write(body[:])
	return err
}

// RetUnlink is a decoded or to-be-encoded RET_UNLINK message: the common
// header plus a status word. The remaining 24 bytes of its body are
// reserved and always zero.
type RetUnlink struct {
	Header DataHeader
	Status int32
}

// Write encodes a RET_UNLINK message to w.
func (r RetUnlink) Write(w io.Writer) error {
	if err := r.Header.Write(w); err != nil {
		return err
	}
	var body [retUnlinkBodySize]byte
	binary.BigEndian.PutUint32(body[0:4], uint32(r.Status))
	_, err := w.Write(body[:])
	return err
}

// DecodeRetUnlink reads a RET_UNLINK body, given the already-decoded
// common header.
func DecodeRetUnlink(ior io.Reader, hdr DataHeader) (RetUnlink, error) {
	var body [retUnlinkBodySize]byte
	if err := ReadExactly(ior, body[:]); err != nil {
		return RetUnlink{}, err
	}
	return RetUnlink{
		Header: hdr,
		Status: int32(binary.BigEndian.Uint32(body[0:4])),
	}, nil
}
