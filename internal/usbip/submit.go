package usbip

import (
	"encoding/binary"
	"io"
)

// CmdSubmit is a decoded CMD_SUBMIT message. Setup is always present (8
// bytes, meaningful only for control transfers). OutPayload is populated
// when Direction == DirOut. IsoDescriptors is populated when
// NumberOfPackets > 0.
type CmdSubmit struct {
	Header DataHeader

	TransferFlags   uint32
	TransferBufferLength int32
	StartFrame      uint32
	NumberOfPackets uint32
	Interval        uint32
	Setup           [8]byte

	OutPayload     []byte
	IsoDescriptors []IsoDescriptor
}

// IsoDescriptor is one 16-byte isochronous packet descriptor.
type IsoDescriptor struct {
	Offset       uint32
	Length       uint32
	Status       int32
	PaddedLength uint32
}

func writeIsoDescriptors(w io.Writer, descs []IsoDescriptor) error {
	for _, d := range descs {
		var buf [isoDescriptorSize]byte
		binary.BigEndian.PutUint32(buf[0:4], d.Offset)
		binary.BigEndian.PutUint32(buf[4:8], d.Length)
		binary.BigEndian.PutUint32(buf[8:12], uint32(d.Status))
		binary.BigEndian.PutUint32(buf[12:16], d.PaddedLength)
		if _, err := w.Write(buf[:]); err != nil {
			return err
		}
	}
	return nil
}

func readIsoDescriptors(r io.Reader, n uint32) ([]IsoDescriptor, error) {
	out := make([]IsoDescriptor, 0, n)
	for i := uint32(0); i < n; i++ {
		var buf [isoDescriptorSize]byte
		if err := ReadExactly(r, buf[:]); err != nil {
			return nil, err
		}
		out = append(out, IsoDescriptor{
			Offset:       binary.BigEndian.Uint32(buf[0:4]),
			Length:       binary.BigEndian.Uint32(buf[4:8]),
			Status:       int32(binary.BigEndian.Uint32(buf[8:12])),
			PaddedLength: binary.BigEndian.Uint32(buf[12:16]),
		})
	}
	return out, nil
}

// MaxMessageSize bounds the total bytes a single decoded message (header +
// body + payload) may occupy, guarding against a hostile or corrupt length
// field driving an unbounded allocation.
const MaxMessageSize = 2 * 1024 * 1024

// DecodeCmdSubmit reads a CMD_SUBMIT body and any trailing payload, given
// the already-decoded common header and maxBufferSize (the configured
// max_transfer_buffer).
func DecodeCmdSubmit(r io.Reader, hdr DataHeader, maxBufferSize uint32) (CmdSubmit, error) {
	var body [submitBodySize]byte
	if err := ReadExactly(r, body[:]); err != nil {
		return CmdSubmit{}, err
	}
	c := CmdSubmit{Header: hdr}
	c.TransferFlags = binary.BigEndian.Uint32(body[0:4])
	c.TransferBufferLength = int32(binary.BigEndian.Uint32(body[4:8]))
	c.StartFrame = binary.BigEndian.Uint32(body[8:12])
	c.NumberOfPackets = binary.BigEndian.Uint32(body[12:16])
	c.Interval = binary.BigEndian.Uint32(body[16:20])
	copy(c.Setup[:], body[20:28])

	if c.TransferBufferLength < 0 || uint32(c.TransferBufferLength) > maxBufferSize {
		return CmdSubmit{}, ErrMalformedMessage
	}
	if uint64(dataHeaderSize+submitBodySize)+uint64(c.TransferBufferLength)+uint64(c.NumberOfPackets)*isoDescriptorSize > MaxMessageSize {
		return CmdSubmit{}, ErrMalformedMessage
	}

	if hdr.Direction == DirOut && c.TransferBufferLength > 0 {
		c.OutPayload = make([]byte, c.TransferBufferLength)
		if err := ReadExactly(r, c.OutPayload); err != nil {
			return CmdSubmit{}, err
		}
	}
	if c.NumberOfPackets > 0 {
		descs, err := readIsoDescriptors(r, c.NumberOfPackets)
		if err != nil {
			return CmdSubmit{}, err
		}
		c.IsoDescriptors = descs
	}
	return c, nil
}

// Write encodes a CMD_SUBMIT message (header, body, payload, iso
// descriptors) to w.
func (c CmdSubmit) Write(w io.Writer) error {
	if err := c.Header.Write(w); err != nil {
		return err
	}
	var body [submitBodySize]byte
	binary.BigEndian.PutUint32(body[0:4], c.TransferFlags)
	binary.BigEndian.PutUint32(body[4:8], uint32(c.TransferBufferLength))
	binary.BigEndian.PutUint32(body[8:12], c.StartFrame)
	binary.BigEndian.PutUint32(body[12:16], c.NumberOfPackets)
	binary.BigEndian.PutUint32(body[16:20], c.Interval)
	copy(body[20:28], c.Setup[:])
	if _, err := w.Write(body[:]); err != nil {
		return err
	}
	if c.Header.Direction == DirOut && len(c.OutPayload) > 0 {
		if _, err := w.Write(c.OutPayload); err != nil {
			return err
		}
	}
	return writeIsoDescriptors(w, c.IsoDescriptors)
}

// RetSubmit is a decoded or to-be-encoded RET_SUBMIT message.
type RetSubmit struct {
	Header DataHeader

	Status          int32
	ActualLength    int32
	StartFrame      uint32
	NumberOfPackets uint32
	ErrorCount      uint32
	Setup           [8]byte

	InPayload      []byte
	IsoDescriptors []IsoDescriptor
}

func (r RetSubmit) Write(w io.Writer) error {
	if err := r.Header.Write(w); err != nil {
		return err
	}
	var body [retSubmitBodySize]byte
	binary.BigEndian.PutUint32(body[0:4], uint32(r.Status))
	binary.BigEndian.PutUint32(body[4:8], uint32(r.ActualLength))
	binary.BigEndian.PutUint32(body[8:12], r.StartFrame)
	binary.BigEndian.PutUint32(body[12:16], r.NumberOfPackets)
	binary.BigEndian.PutUint32(body[16:20], r.ErrorCount)
	copy(body[20:28], r.Setup[:])
	if _, err := w.Write(body[:]); err != nil {
		return err
	}
	if r.Header.Direction == DirIn && len(r.InPayload) > 0 {
		if _, err := w.Write(r.InPayload); err != nil {
			return err
		}
	}
	return writeIsoDescriptors(w, r.IsoDescriptors)
}

// DecodeRetSubmit reads a RET_SUBMIT body and any trailing payload, given
// the already-decoded common header.
func DecodeRetSubmit(ior io.Reader, hdr DataHeader) (RetSubmit, error) {
	var body [retSubmitBodySize]byte
	if err := ReadExactly(ior, body[:]); err != nil {
		return RetSubmit{}, err
	}
	ret := RetSubmit{Header: hdr}
	ret.Status = int32(binary.BigEndian.Uint32(body[0:4]))
	ret.ActualLength = int32(binary.BigEndian.Uint32(body[4:8]))
	ret.StartFrame = binary.BigEndian.Uint32(body[8:12])
	ret.NumberOfPackets = binary.BigEndian.Uint32(body[12:16])
	ret.ErrorCount = binary.BigEndian.Uint32(body[16:20])
	copy(ret.Setup[:], body[20:28])

	if hdr.Direction == DirIn && ret.ActualLength > 0 {
		ret.InPayload = make([]byte, ret.ActualLength)
		if err := ReadExactly(ior, ret.InPayload); err != nil {
			return RetSubmit{}, err
		}
	}
	if ret.NumberOfPackets > 0 {
		descs, err := readIsoDescriptors(ior, ret.NumberOfPackets)
		if err != nil {
			return RetSubmit{}, err
		}
		ret.IsoDescriptors = descs
	}
	return ret, nil
}
