// Package config defines the daemon's configuration surface and parses it
// with github.com/alecthomas/kong (CLI flags) plus
// github.com/alecthomas/kong-toml (optional TOML file).
package config

import (
	"fmt"
	"time"

	"github.com/alecthomas/kong"
	kongtoml "github.com/alecthomas/kong-toml"

	"github.com/daedaluz/usbipd/internal/devio"
)

// Config is the daemon's full configuration surface.
type Config struct {
	ConfigFile kong.ConfigFlag `help:"Optional TOML config file." type:"path"`

	BindAddress string `toml:"bind_address" default:"0.0.0.0" help:"Address to bind the USB/IP listener to."`
	Port        uint16 `toml:"port" default:"3240" help:"TCP port to listen on."`

	MaxConnections           uint32 `toml:"max_connections" default:"10" help:"Maximum concurrent client connections."`
	MaxPendingURBsPerSession uint32 `toml:"max_pending_urbs_per_session" default:"256" help:"Per-session pending URB cap."`
	MaxTransferBuffer        uint32 `toml:"max_transfer_buffer" default:"1048576" help:"Maximum CMD_SUBMIT transfer_buffer_length, in bytes."`

	TimeoutControlMS   uint32 `toml:"timeout_control_ms" default:"5000" help:"Control transfer timeout, in milliseconds."`
	TimeoutBulkMS      uint32 `toml:"timeout_bulk_ms" default:"30000" help:"Bulk transfer timeout, in milliseconds."`
	TimeoutInterruptMS uint32 `toml:"timeout_interrupt_ms" default:"10000" help:"Interrupt transfer timeout, in milliseconds."`
	TimeoutIsoMS       uint32 `toml:"timeout_iso_ms" default:"1000" help:"Isochronous transfer timeout, in milliseconds."`

	ShutdownDrainMS uint32 `toml:"shutdown_drain_ms" default:"5000" help:"Time allowed for a draining session's writes to flush before closing."`
}

// Addr is the listener's bind address in net.Listen("tcp", ...) form.
func (c Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.BindAddress, c.Port)
}

// Timeouts translates the millisecond config fields into devio.Timeouts.
func (c Config) Timeouts() devio.Timeouts {
	return devio.Timeouts{
		Control:     time.Duration(c.TimeoutControlMS) * time.Millisecond,
		Bulk:        time.Duration(c.TimeoutBulkMS) * time.Millisecond,
		Interrupt:   time.Duration(c.TimeoutInterruptMS) * time.Millisecond,
		Isochronous: time.Duration(c.TimeoutIsoMS) * time.Millisecond,
	}
}

// ShutdownDrain is the session drain deadline as a time.Duration.
func (c Config) ShutdownDrain() time.Duration {
	return time.Duration(c.ShutdownDrainMS) * time.Millisecond
}

// Parse parses args (typically os.Args[1:]) into a Config, applying
// defaults, flags, and an optional --config-file TOML overlay.
func Parse(args []string) (Config, error) {
	var cfg Config
	parser, err := kong.New(&cfg,
		kong.Name("usbipd"),
		kong.Description("Host-side USB/IP export server."),
		kong.Configuration(kongtoml.Loader),
		kong.UsageOnError(),
	)
	if err != nil {
		return Config{}, fmt.Errorf("config: build parser: %w", err)
	}
	if _, err := parser.Parse(args); err != nil {
		return Config{}, fmt.Errorf("config: parse: %w", err)
	}
	return cfg, nil
}
