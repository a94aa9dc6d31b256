// Command usbipd is the USB/IP host export daemon: it binds the
// configured address, exports locally attached USB devices over the wire
// protocol, and serves one session.Session per client connection.
package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/daedaluz/usbipd/internal/config"
	"github.com/daedaluz/usbipd/internal/listener"
	"github.com/daedaluz/usbipd/internal/observability"
	"github.com/daedaluz/usbipd/internal/registry"
	"github.com/daedaluz/usbipd/internal/session"
)

func main() {
	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		log.Fatal(err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	sink := observability.NewSlogSink(logger)
	reg := registry.NewSysfsRegistry(cfg.Timeouts())

	l, err := listener.New(listener.Config{
		Addr:           cfg.Addr(),
		MaxConnections: int64(cfg.MaxConnections),
		Session: session.Config{
			MaxPendingURBs:    int(cfg.MaxPendingURBsPerSession),
			MaxTransferBuffer: cfg.MaxTransferBuffer,
			ShutdownDrain:     cfg.ShutdownDrain(),
		},
	}, reg, sink)
	if err != nil {
		log.Fatal(err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("usbipd listening", slog.String("addr", l.Addr().String()))
	if err := l.ListenAndServe(ctx); err != nil {
		log.Fatal(err)
	}
}
