// Package listener implements the USB/IP TCP front end: bind address and
// port, a cap on concurrent client connections, and one session.Session
// per accepted connection (accept loop, TCP_NODELAY, per-connection
// goroutine).
package listener

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/daedaluz/usbipd/internal/observability"
	"github.com/daedaluz/usbipd/internal/registry"
	"github.com/daedaluz/usbipd/internal/session"
)

// Config is the listener's slice of the daemon's configuration surface.
type Config struct {
	Addr           string
	MaxConnections int64
	Session        session.Config
}

// Listener accepts connections on Addr and runs one Session per connection,
// never exceeding MaxConnections concurrently.
type Listener struct {
	cfg Config
	reg registry.Registry
	sink observability.Sink

	ln  net.Listener
	sem *semaphore.Weighted
	grp *errgroup.Group
}

// New binds cfg.Addr and returns a Listener ready for ListenAndServe. reg
// backs every session's OP_REQ_IMPORT and device I/O; sink receives every
// session's structured events.
func New(cfg Config, reg registry.Registry, sink observability.Sink) (*Listener, error) {
	if cfg.MaxConnections <= 0 {
		cfg.MaxConnections = defaultMaxConnections
	}
	if sink == nil {
		sink = observability.NopSink{}
	}
	ln, err := net.Listen("tcp", cfg.Addr)
	if err != nil {
		return nil, err
	}
	return &Listener{
		cfg:  cfg,
		reg:  reg,
		sink: sink,
		ln:   ln,
		sem:  semaphore.NewWeighted(cfg.MaxConnections),
		grp:  &errgroup.Group{},
	}, nil
}

const defaultMaxConnections = 10

// Addr is the address the listener actually bound, useful when cfg.Addr
// names port 0.
func (l *Listener) Addr() net.Addr {
	return l.ln.Addr()
}

// ListenAndServe accepts connections until ctx is cancelled or Close is
// called, running one session.Session per connection. It returns nil on a
// clean shutdown.
func (l *Listener) ListenAndServe(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.ln.Close()
	}()

	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			if isTemporary(err) {
				continue
			}
			return err
		}

		if err := l.sem.Acquire(ctx, 1); err != nil {
			_ = conn.Close()
			continue
		}
		if tc, ok := conn.(*net.TCPConn); ok {
			_ = tc.SetNoDelay(true)
		}

		l.grp.Go(func() error {
			defer l.sem.Release(1)
			s := session.New(conn, l.reg, l.sink, l.cfg.Session)
			if err := s.Run(ctx); err != nil && !isClientDisconnect(err) {
				l.sink.Event("session.error", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	return l.grp.Wait()
}

// Close stops accepting new connections and waits up to drain for running
// sessions to finish.
func (l *Listener) Close(drain time.Duration) error {
	err := l.ln.Close()
	done := make(chan struct{})
	go func() {
		_ = l.grp.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(drain):
	}
	return err
}

func isTemporary(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// isClientDisconnect reports whether err is the ordinary result of a
// client going away rather than a real session failure, so an ordinary
// hangup isn't logged as a session error.
func isClientDisconnect(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
