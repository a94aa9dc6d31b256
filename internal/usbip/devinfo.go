package usbip

import (
	"encoding/binary"
	"fmt"
	"io"
)

// InterfaceInfo is one interface record trailing a device record.
type InterfaceInfo struct {
	Class    uint8
	SubClass uint8
	Protocol uint8
}

// UsbDeviceInfo is the advertised snapshot of a locally attached device, as
// produced by the device registry and carried on the wire in
// OP_REP_DEVLIST and OP_REP_IMPORT.
type UsbDeviceInfo struct {
	Path       string
	BusID      string
	BusNumber  uint32
	DeviceNumber uint32
	Speed      uint32

	IDVendor  uint16
	IDProduct uint16
	BcdDevice uint16

	DeviceClass    uint8
	DeviceSubClass uint8
	DeviceProtocol uint8

	ConfigurationValue uint8
	NumConfigurations  uint8

	Interfaces []InterfaceInfo
}

func fixedString(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func cString(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

// WriteDeviceInfo encodes d as a UsbDeviceInfoOnWire record: the fixed
// 312-byte head followed by one 4-byte record per interface.
func WriteDeviceInfo(w io.Writer, d UsbDeviceInfo) error {
	head := make([]byte, PathSize+BusIDSize+4+4+4+2+2+2+1+1+1+1+1+1)
	off := 0
	copy(head[off:off+PathSize], fixedString(d.Path, PathSize))
	off += PathSize
	copy(head[off:off+BusIDSize], fixedString(d.BusID, BusIDSize))
	off += BusIDSize
	binary.BigEndian.PutUint32(head[off:off+4], d.BusNumber)
	off += 4
	binary.BigEndian.PutUint32(head[off:off+4], d.DeviceNumber)
	off += 4
	binary.BigEndian.PutUint32(head[off:off+4], d.Speed)
	off += 4
	binary.BigEndian.PutUint16(head[off:off+2], d.IDVendor)
	off += 2
	binary.BigEndian.PutUint16(head[off:off+2], d.IDProduct)
	off += 2
	binary.BigEndian.PutUint16(head[off:off+2], d.BcdDevice)
	off += 2
	head[off] = d.DeviceClass
	off++
	head[off] = d.DeviceSubClass
	off++
	head[off] = d.DeviceProtocol
	off++
	head[off] = d.ConfigurationValue
	off++
	head[off] = d.NumConfigurations
	off++
	head[off] = uint8(len(d.Interfaces))
	off++
	if off != len(head) {
		return fmt.Errorf("usbip: device record head size mismatch: %d != %d", off, len(head))
	}
	if _, err := w.Write(head); err != nil {
		return err
	}
	for _, iface := range d.Interfaces {
		var rec [interfaceSize]byte
		rec[0] = iface.Class
		rec[1] = iface.SubClass
		rec[2] = iface.Protocol
		rec[3] = 0
		if _, err := w.Write(rec[:]); err != nil {
			return err
		}
	}
	return nil
}

// DeviceInfoHeadSize is the fixed portion of a UsbDeviceInfoOnWire record,
// excluding trailing interface records.
const DeviceInfoHeadSize = PathSize + BusIDSize + 4 + 4 + 4 + 2 + 2 + 2 + 1 + 1 + 1 + 1 + 1 + 1

// DecodeDeviceInfo reads one UsbDeviceInfoOnWire record (head plus its
// interface records) from r.
func DecodeDeviceInfo(r io.Reader) (UsbDeviceInfo, error) {
	head := make([]byte, DeviceInfoHeadSize)
	if err := ReadExactly(r, head); err != nil {
		return UsbDeviceInfo{}, err
	}
	off := 0
	d := UsbDeviceInfo{}
	d.Path = cString(head[off : off+PathSize])
	off += PathSize
	d.BusID = cString(head[off : off+BusIDSize])
	off += BusIDSize
	d.BusNumber = binary.BigEndian.Uint32(head[off : off+4])
	off += 4
	d.DeviceNumber = binary.BigEndian.Uint32(head[off : off+4])
	off += 4
	d.Speed = binary.BigEndian.Uint32(head[off : off+4])
	off += 4
	d.IDVendor = binary.BigEndian.Uint16(head[off : off+2])
	off += 2
	d.IDProduct = binary.BigEndian.Uint16(head[off : off+2])
	off += 2
	d.BcdDevice = binary.BigEndian.Uint16(head[off : off+2])
	off += 2
	d.DeviceClass = head[off]
	off++
	d.DeviceSubClass = head[off]
	off++
	d.DeviceProtocol = head[off]
	off++
	d.ConfigurationValue = head[off]
	off++
	d.NumConfigurations = head[off]
	off++
	numInterfaces := head[off]
	off++
	if off != len(head) {
		return UsbDeviceInfo{}, ErrMalformedMessage
	}
	if numInterfaces == 0 {
		return d, nil
	}
	d.Interfaces = make([]InterfaceInfo, 0, numInterfaces)
	for i := 0; i < int(numInterfaces); i++ {
		var rec [interfaceSize]byte
		if err := ReadExactly(r, rec[:]); err != nil {
			return UsbDeviceInfo{}, err
		}
		d.Interfaces = append(d.Interfaces, InterfaceInfo{
			Class:    rec[0],
			SubClass: rec[1],
			Protocol: rec[2],
		})
	}
	return d, nil
}
