package session

import (
	"context"
	"errors"
	"log/slog"

	"github.com/daedaluz/usbipd/internal/errno"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
)

// processSubmit runs the CMD_SUBMIT algorithm: validate devid, classify the
// endpoint's transfer type, build and track the urb, dispatch it to the
// device I/O port asynchronously, and on completion emit exactly one
// RET_SUBMIT. The caller has already reserved a tracker slot via s.sem;
// every return path below releases it unless dispatch succeeds, in which
// case the completion goroutine releases it.
func (s *Session) processSubmit(cmd usbip.CmdSubmit) {
	hdr := cmd.Header

	if hdr.Devid == 0 {
		s.releaseSem()
		s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, errno.EINVAL, urb.TransferResult{})
		return
	}
	if s.handle == nil || hdr.Devid != s.devid {
		s.releaseSem()
		s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, errno.ENODEV, urb.TransferResult{})
		return
	}
	if s.deviceCtx.Err() != nil {
		s.releaseSem()
		s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, errno.ENODEV, urb.TransferResult{})
		return
	}

	ep := uint8(hdr.Ep)
	dirIn := hdr.Direction == usbip.DirIn
	transferType := urb.TransferControl
	if ep != 0 {
		tt, ok := s.handle.EndpointTransferType(ep, dirIn)
		if !ok {
			s.releaseSem()
			s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, errno.EINVAL, urb.TransferResult{})
			return
		}
		transferType = tt
	}
	if transferType == urb.TransferIsochronous && cmd.NumberOfPackets == 0 {
		s.releaseSem()
		s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, errno.EINVAL, urb.TransferResult{})
		return
	}

	u := &urb.Urb{
		Seqnum:         hdr.Seqnum,
		Devid:          hdr.Devid,
		Direction:      urb.Direction(hdr.Direction),
		Endpoint:       ep,
		TransferType:   transferType,
		TransferFlags:  cmd.TransferFlags,
		BufferLength:   cmd.TransferBufferLength,
		StartFrame:     cmd.StartFrame,
		Interval:       cmd.Interval,
		Setup:          cmd.Setup,
		OutPayload:     cmd.OutPayload,
		IsoDescriptors: toUrbIsoDescriptors(cmd.IsoDescriptors),
		State:          urb.StatePending,
	}

	subCtx, cancel := context.WithCancel(s.deviceCtx)
	if err := s.tracker.Insert(hdr.Seqnum, u, urb.CancelFunc(cancel)); err != nil {
		cancel()
		s.releaseSem()
		status := errno.EAGAIN
		if errors.Is(err, urb.ErrDuplicateSeqnum) {
			status = errno.EINVAL
		}
		s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, status, urb.TransferResult{})
		return
	}

	port := s.handle.Port()
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer cancel()

		result, err := port.Submit(subCtx, u)
		if u.TransferType != urb.TransferIsochronous {
			result.StartFrame = u.StartFrame
		}
		status := errno.Status(result.Status)
		if err != nil {
			if s.deviceCtx.Err() != nil {
				status = errno.ENODEV
			} else {
				status = errno.FromError(err)
			}
		}

		if _, _, takeErr := s.tracker.Take(hdr.Seqnum); takeErr != nil {
			// processUnlink already took this entry and emitted its
			// RET_SUBMIT(ECANCELED); this completion arrived too late to
			// matter and must not produce a second response.
			return
		}
		s.releaseSem()
		s.sendRetSubmit(hdr.Seqnum, hdr.Devid, hdr.Direction, hdr.Ep, status, result)
		s.sink.Event("submit.completed", slog.Uint64("seqnum", uint64(hdr.Seqnum)), slog.Int("status", int(status)))
	}()
}

func toUrbIsoDescriptors(in []usbip.IsoDescriptor) []urb.IsoPacketDescriptor {
	if len(in) == 0 {
		return nil
	}
	out := make([]urb.IsoPacketDescriptor, len(in))
	for i, d := range in {
		out[i] = urb.IsoPacketDescriptor{
			Offset:       d.Offset,
			Length:       d.Length,
			Status:       d.Status,
			PaddedLength: d.PaddedLength,
		}
	}
	return out
}

func toWireIsoDescriptors(in []urb.IsoPacketDescriptor) []usbip.IsoDescriptor {
	if len(in) == 0 {
		return nil
	}
	out := make([]usbip.IsoDescriptor, len(in))
	for i, d := range in {
		out[i] = usbip.IsoDescriptor{
			Offset:       d.Offset,
			Length:       d.Length,
			Status:       d.Status,
			PaddedLength: d.PaddedLength,
		}
	}
	return out
}

// sendRetSubmit builds and enqueues one RET_SUBMIT. error_count and
// start_frame are taken from result as given; per-packet isochronous
// results travel in result.IsoPacketResults.
func (s *Session) sendRetSubmit(seqnum, devid, direction, ep uint32, status errno.Status, result urb.TransferResult) {
	ret := usbip.RetSubmit{
		Header: usbip.DataHeader{
			Command:   usbip.RetCodeSubmit,
			Seqnum:    seqnum,
			Devid:     devid,
			Direction: direction,
			Ep:        ep,
		},
		Status:          int32(status),
		ActualLength:    int32(result.ActualLength),
		StartFrame:      result.StartFrame,
		NumberOfPackets: uint32(len(result.IsoPacketResults)),
		ErrorCount:      result.ErrorCount,
		InPayload:       result.InPayload,
		IsoDescriptors:  toWireIsoDescriptors(result.IsoPacketResults),
	}
	s.w.enqueue(ret.Write)
}
