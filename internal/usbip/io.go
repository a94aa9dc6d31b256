package usbip

import "io"

// ReadExactly fills buf entirely from r, or returns the first error
// encountered (io.ErrUnexpectedEOF on a short read).
func ReadExactly(r io.Reader, buf []byte) error {
	_, err := io.ReadFull(r, buf)
	return err
}
