// Package session implements the per-connection USB/IP engine: the
// Handshake -> Operational -> Draining -> Closed state machine, the submit
// and unlink processors, and the FIFO response writer. One Session owns one
// net.Conn and, once a device is imported, one claimed registry.DeviceHandle.
package session

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"time"

	"github.com/daedaluz/usbipd/internal/errno"
	"github.com/daedaluz/usbipd/internal/observability"
	"github.com/daedaluz/usbipd/internal/registry"
	"github.com/daedaluz/usbipd/internal/urb"
	"github.com/daedaluz/usbipd/internal/usbip"
)

// Config bounds one session's resource use, mirroring the per-session
// fields of the listener's overall Config.
type Config struct {
	MaxPendingURBs    int
	MaxTransferBuffer uint32
	ShutdownDrain     time.Duration
}

// Session drives one client connection through the protocol state machine.
type Session struct {
	conn net.Conn
	reg  registry.Registry
	sink observability.Sink
	cfg  Config

	tracker *urb.Tracker
	sem     chan struct{}
	w       *writer
	wg      sync.WaitGroup

	handle registry.DeviceHandle
	devid  uint32

	deviceCtx    context.Context
	deviceCancel context.CancelFunc
	stopWatch    chan struct{}
}

// New returns a Session ready to Run over conn. reg resolves OP_REQ_IMPORT
// and backs the claimed device's I/O; sink receives the session's
// structured events.
func New(conn net.Conn, reg registry.Registry, sink observability.Sink, cfg Config) *Session {
	if cfg.MaxPendingURBs <= 0 {
		cfg.MaxPendingURBs = urb.DefaultCapacity
	}
	if sink == nil {
		sink = observability.NopSink{}
	}
	return &Session{
		conn:      conn,
		reg:       reg,
		sink:      sink,
		cfg:       cfg,
		tracker:   urb.NewTracker(cfg.MaxPendingURBs),
		sem:       make(chan struct{}, cfg.MaxPendingURBs),
		w:         newWriter(conn),
		stopWatch: make(chan struct{}),
	}
}

// Run drives the session to completion: handshake, then (if a device was
// imported) the operational read loop, then draining. It returns once the
// connection is fully closed.
func (s *Session) Run(ctx context.Context) error {
	defer s.conn.Close()

	remote := ""
	if a := s.conn.RemoteAddr(); a != nil {
		remote = a.String()
	}
	s.sink.Event("session.opened", slog.String("remote", remote))

	imported, err := s.handshake(ctx)
	reason := "import rejected"
	switch {
	case err != nil:
		reason = err.Error()
	case imported:
		if operr := s.operational(ctx); operr != nil {
			reason = operr.Error()
		} else {
			reason = "client closed"
		}
	}

	s.drain()
	s.sink.Event("session.closed", slog.String("reason", reason))
	return err
}

// handshake reads control-plane messages until either OP_REQ_IMPORT
// resolves (imported=true, session moves to Operational) or it is rejected
// or the transport fails. A failed import closes the connection rather
// than returning to accept another OP_REQ_DEVLIST.
func (s *Session) handshake(ctx context.Context) (bool, error) {
	for {
		var hdrBuf [8]byte
		if err := usbip.ReadExactly(s.conn, hdrBuf[:]); err != nil {
			return false, err
		}
		hdr, err := usbip.DecodeMgmtHeader(hdrBuf[:])
		if err != nil {
			return false, err
		}
		switch hdr.Code {
		case usbip.OpReqDevlist:
			if err := s.handleDevlist(ctx); err != nil {
				return false, err
			}
		case usbip.OpReqImport:
			return s.handleImport(ctx)
		default:
			return false, usbip.ErrMalformedMessage
		}
	}
}

func (s *Session) handleDevlist(ctx context.Context) error {
	devices, err := s.reg.List(ctx)
	if err != nil {
		return err
	}
	return usbip.WriteDevlistReply(s.conn, devices)
}

func (s *Session) handleImport(ctx context.Context) (bool, error) {
	busid, err := usbip.DecodeImportRequest(s.conn)
	if err != nil {
		return false, err
	}

	handle, err := s.reg.Claim(ctx, busid)
	if err != nil {
		return false, usbip.WriteImportReply(s.conn, 1, nil)
	}

	info := handle.Info()
	if err := usbip.WriteImportReply(s.conn, 0, &info); err != nil {
		_ = s.reg.Release(handle)
		return false, err
	}

	s.handle = handle
	s.devid = (info.BusNumber << 16) | info.DeviceNumber
	s.deviceCtx, s.deviceCancel = context.WithCancel(context.Background())
	go s.watchDisconnect()

	s.sink.Event("session.imported", slog.String("busid", busid))
	return true, nil
}

// operational reads data-plane messages until the connection fails,
// dispatching CMD_SUBMIT and CMD_UNLINK concurrently and letting their
// responses interleave through the FIFO writer.
func (s *Session) operational(ctx context.Context) error {
	for {
		var hdrBuf [20]byte
		if err := usbip.ReadExactly(s.conn, hdrBuf[:]); err != nil {
			return err
		}
		hdr, err := usbip.DecodeDataHeader(hdrBuf[:])
		if err != nil {
			return err
		}

		switch hdr.Command {
		case usbip.CmdCodeSubmit:
			select {
			case s.sem <- struct{}{}:
			case <-ctx.Done():
				return ctx.Err()
			}
			cmd, err := usbip.DecodeCmdSubmit(s.conn, hdr, s.cfg.MaxTransferBuffer)
			if err != nil {
				<-s.sem
				return err
			}
			s.sink.Event("submit.received", slog.Uint64("seqnum", uint64(hdr.Seqnum)), slog.Uint64("ep", uint64(hdr.Ep)))
			s.processSubmit(cmd)
		case usbip.CmdCodeUnlink:
			cu, err := usbip.DecodeCmdUnlink(s.conn, hdr)
			if err != nil {
				return err
			}
			s.sink.Event("unlink.received", slog.Uint64("target", uint64(cu.UnlinkSeqnum)))
			s.processUnlink(cu)
		default:
			return usbip.ErrMalformedMessage
		}
	}
}

// watchDisconnect waits for the imported device to go away, then answers
// every still-pending URB with ENODEV and cuts off the device context so
// any submit already past the reader but not yet dispatched also sees
// ENODEV instead of being dispatched to a dead port.
func (s *Session) watchDisconnect() {
	sig := s.reg.ObserveDisconnect(s.handle)
	select {
	case <-sig:
	case <-s.stopWatch:
		return
	}
	s.deviceCancel()
	for _, e := range s.tracker.Drain() {
		if e.Cancel != nil {
			e.Cancel()
		}
		s.releaseSem()
		s.sendRetSubmit(e.Urb.Seqnum, e.Urb.Devid, uint32(e.Urb.Direction), uint32(e.Urb.Endpoint), errno.ENODEV, urb.TransferResult{})
	}
	s.sink.Event("device.disconnected", slog.String("busid", s.handle.BusID()))
}

// drain is the Draining state: stop the disconnect watcher, abandon any
// still-pending URBs (the connection is going away regardless, so these
// are silently dropped rather than answered), wait up to ShutdownDrain for
// in-flight device I/O goroutines to return, release the claimed device,
// and stop the writer.
func (s *Session) drain() {
	close(s.stopWatch)
	s.tracker.CancelAll()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	deadline := s.cfg.ShutdownDrain
	if deadline <= 0 {
		deadline = defaultShutdownDrain
	}
	select {
	case <-done:
	case <-time.After(deadline):
	}

	if s.handle != nil {
		_ = s.reg.Release(s.handle)
	}
	s.w.close()
}

func (s *Session) releaseSem() {
	select {
	case <-s.sem:
	default:
	}
}

const defaultShutdownDrain = 5 * time.Second
