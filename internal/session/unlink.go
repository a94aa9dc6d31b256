package session

import (
	"log/slog"

	"github.com/daedaluz/usbipd/internal/errno"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
)

// processUnlink runs the CMD_UNLINK algorithm. Take races the target urb's
// own completion goroutine: whichever of the two wins is the one that
// emits the target's RET_SUBMIT, so exactly one is ever written. Winning
// here means this call is responsible for that RET_SUBMIT (status
// ECANCELED) before the RET_UNLINK itself is enqueued, satisfying the
// ordering guarantee that RET_UNLINK is never written ahead of its URB's
// RET_SUBMIT. RET_UNLINK.status is always 0, whether or not the target was
// still pending.
func (s *Session) processUnlink(cu usbip.CmdUnlink) {
	found := false
	if s.handle != nil {
		if u, cancel, err := s.tracker.Take(cu.UnlinkSeqnum); err == nil {
			found = true
			if cancel != nil {
				cancel()
			}
			s.releaseSem()
			s.sendRetSubmit(u.Seqnum, u.Devid, uint32(u.Direction), uint32(u.Endpoint), errno.ECANCELED, urb.TransferResult{})
		}
	}

	hdr := cu.Header
	ret := usbip.RetUnlink{
		Header: usbip.DataHeader{
			Command:   usbip.RetCodeUnlink,
			Seqnum:    hdr.Seqnum,
			Devid:     hdr.Devid,
			Direction: hdr.Direction,
			Ep:        hdr.Ep,
		},
		Status: 0,
	}
	s.w.enqueue(ret.Write)
	s.sink.Event("unlink.result", slog.Uint64("target", uint64(cu.UnlinkSeqnum)), slog.Bool("found", found))
}
