package scsi

import (
	"context"
	"fmt"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
	"github.com/ardnew/uasbridge/usb"
)

// Mode selects the USB transport.
type Mode uint8

// Transports.
const (
	ModeUAS Mode = iota // USB Attached SCSI
	ModeBOT             // Bulk-Only Transport
)

// String returns the transport name.
func (m Mode) String() string {
	switch m {
	case ModeUAS:
		return "uas"
	case ModeBOT:
		return "bot"
	}
	return fmt.Sprintf("Mode(%d)", uint8(m))
}

// ParseMode converts "uas" or "bot" to a [Mode].
func ParseMode(s string) (Mode, error) {
	switch s {
	case "uas", "UAS":
		return ModeUAS, nil
	case "bot", "BOT", "bbb":
		return ModeBOT, nil
	}
	return 0, fmt.Errorf("mode %q: %w", s, pkg.ErrInvalidParameter)
}

// Defaults.
const (
	DefaultHostID    = 7
	DefaultChunkSize = 16384

	resetHold   = 10 * time.Millisecond
	resetSettle = 250 * time.Millisecond
)

// Config configures an [Engine].
type Config struct {
	HostID int // initiator bus ID
	Target int // target bus ID, or Unbound to scan on the first command
	Mode   Mode

	// ChunkSize is the most DATA IN bytes sent in one USB transfer.
	ChunkSize int

	Timing bus.Timing

	// IdleWait is slept when no command is queued. Zero yields instead.
	IdleWait time.Duration
}

// DefaultConfig returns a UAS initiator at ID 7 with no target bound.
func DefaultConfig() Config {
	return Config{
		HostID:    DefaultHostID,
		Target:    Unbound,
		Mode:      ModeUAS,
		ChunkSize: DefaultChunkSize,
		Timing:    bus.DefaultTiming(),
	}
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.HostID < 0 || c.HostID > 7 {
		return fmt.Errorf("host ID %d: %w", c.HostID, pkg.ErrInvalidParameter)
	}
	if c.Target != Unbound && (c.Target < 0 || c.Target > 7 || c.Target == c.HostID) {
		return fmt.Errorf("target ID %d: %w", c.Target, pkg.ErrInvalidParameter)
	}
	if c.Mode != ModeUAS && c.Mode != ModeBOT {
		return fmt.Errorf("mode %v: %w", c.Mode, pkg.ErrInvalidParameter)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("chunk size %d: %w", c.ChunkSize, pkg.ErrInvalidParameter)
	}
	if c.Timing.SelectRetries <= 0 {
		return fmt.Errorf("select retries %d: %w", c.Timing.SelectRetries, pkg.ErrInvalidParameter)
	}
	return nil
}

// FrameService is the USB side of the bridge. [*usb.Service] implements it.
type FrameService interface {
	Acquire(ctx context.Context, q usb.QueueID) (*usb.Frame, error)
	TryAcquire(q usb.QueueID) (*usb.Frame, bool)
	Release(q usb.QueueID, f *usb.Frame)
	Transmit(ep uint8, f *usb.Frame, n int) error
}

var _ FrameService = (*usb.Service)(nil)

// Stats counts engine events since creation.
type Stats struct {
	Commands              uint64
	Completed             uint64
	Retries               uint64
	SelectionTimeouts     uint64
	UnexpectedDisconnects uint64
	Reselections          uint64
	Aborts                uint64
	Dropped               uint64
}

type stats struct {
	commands              atomic.Uint64
	completed             atomic.Uint64
	retries               atomic.Uint64
	selectionTimeouts     atomic.Uint64
	unexpectedDisconnects atomic.Uint64
	reselections          atomic.Uint64
	aborts                atomic.Uint64
	dropped               atomic.Uint64
}

// Engine is the SCSI initiator. It is driven from a single goroutine by
// [Engine.Run]; only [Engine.Stats] may be called concurrently.
type Engine struct {
	cfg       Config
	t         bus.Transceiver
	fs        FrameService
	session   *Session
	transport transport
	stats     stats
}

// New creates an engine on transceiver t serving frames from fs.
func New(cfg Config, t bus.Transceiver, fs FrameService) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	e := &Engine{
		cfg:     cfg,
		t:       t,
		fs:      fs,
		session: NewSession(cfg.HostID),
	}
	if cfg.Target != Unbound {
		e.session.Bind(cfg.Target)
	}

	switch cfg.Mode {
	case ModeUAS:
		e.transport = &uasTransport{fs: fs}
	case ModeBOT:
		// one command at a time: nothing to multiplex
		e.transport = &botTransport{fs: fs}
		e.session.DisableTags()
		e.session.DisableDisconnect()
	}

	pkg.LogInfo(pkg.ComponentEngine, "engine created",
		"host", cfg.HostID, "target", cfg.Target, "mode", cfg.Mode, "chunk", cfg.ChunkSize)
	return e, nil
}

// Session returns the engine's session.
func (e *Engine) Session() *Session {
	return e.session
}

// Config returns the engine configuration.
func (e *Engine) Config() Config {
	return e.cfg
}

// Run services reselections and host commands until ctx is done.
func (e *Engine) Run(ctx context.Context) error {
	pkg.LogInfo(pkg.ComponentEngine, "engine running", "mode", e.cfg.Mode)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if e.checkReselection(ctx) {
			continue
		}
		if !e.Poll(ctx) {
			e.idle()
		}
	}
}

// Poll handles one queued host command, if any, and reports whether it
// found one.
func (e *Engine) Poll(ctx context.Context) bool {
	f, ok := e.fs.TryAcquire(usb.RxCommand)
	if !ok {
		return false
	}
	defer e.fs.Release(usb.RxCommand, f)

	if f.Len() == 0 {
		pkg.LogDebug(pkg.ComponentEngine, "zero-length command packet ignored")
		return true
	}
	if err := e.HandleCommand(ctx, f.Data()); err != nil {
		pkg.LogDebug(pkg.ComponentEngine, "command not completed", "error", err)
	}
	return true
}

// Reselect answers a pending reselection, if any, and reports whether it
// found one.
func (e *Engine) Reselect(ctx context.Context) bool {
	return e.checkReselection(ctx)
}

func (e *Engine) idle() {
	if e.cfg.IdleWait > 0 {
		time.Sleep(e.cfg.IdleWait)
		return
	}
	runtime.Gosched()
}

// Reset pulses RST and forgets every command in flight. The bound target
// and negotiated capabilities survive.
func (e *Engine) Reset() {
	pkg.LogInfo(pkg.ComponentEngine, "bus reset", "inFlight", e.session.tags.Len())
	e.t.Release(bus.BSY | bus.SEL | bus.ATN | bus.ACK)
	e.t.ReleaseData()
	e.t.Assert(bus.RST)
	e.t.Delay(resetHold)
	e.t.Release(bus.RST)
	e.t.Delay(resetSettle)
	e.session.Reset()
}

// Stats returns a snapshot of the event counters.
func (e *Engine) Stats() Stats {
	return Stats{
		Commands:              e.stats.commands.Load(),
		Completed:             e.stats.completed.Load(),
		Retries:               e.stats.retries.Load(),
		SelectionTimeouts:     e.stats.selectionTimeouts.Load(),
		UnexpectedDisconnects: e.stats.unexpectedDisconnects.Load(),
		Reselections:          e.stats.reselections.Load(),
		Aborts:                e.stats.aborts.Load(),
		Dropped:               e.stats.dropped.Load(),
	}
}
