package usbip

import "io"

// DecodeImportRequest reads the 32-byte NUL-padded busid body of
// OP_REQ_IMPORT; the caller has already read its mgmt header.
func DecodeImportRequest(r io.Reader) (string, error) {
	var buf [BusIDSize]byte
	if err := ReadExactly(r, buf[:]); err != nil {
		return "", err
	}
	return cString(buf[:]), nil
}

// WriteImportReply encodes OP_REP_IMPORT. When status is non-zero, dev is
// ignored and no device record follows.
func WriteImportReply(w io.Writer, status uint32, dev *UsbDeviceInfo) error {
	hdr := MgmtHeader{Version: Version, Code: OpRepImport, Status: status}
	if err := hdr.Write(w); err != nil {
		return err
	}
	if status != 0 || dev == nil {
		return nil
	}
	return WriteDeviceInfo(w, *dev)
}

// ImportReply is a decoded OP_REP_IMPORT.
type ImportReply struct {
	Status uint32
	Device *UsbDeviceInfo
}

// DecodeImportReply reads the OP_REP_IMPORT body, given the already-parsed
// mgmt header.
func DecodeImportReply(r io.Reader, hdr MgmtHeader) (ImportReply, error) {
	if hdr.Status != 0 {
		return ImportReply{Status: hdr.Status}, nil
	}
	d, err := DecodeDeviceInfo(r)
	if err != nil {
		return ImportReply{}, err
	}
	return ImportReply{Status: hdr.Status, Device: &d}, nil
}
