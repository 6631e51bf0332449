package usb

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/uasbridge/pkg"
)

// Default pool sizes.
const (
	DefaultTransmitFrames = 8
	DefaultCommandFrames  = 4
	DefaultDataOutFrames  = 8
	DefaultFrameSize      = 16384
)

// Config sizes the frame pools and names the receive endpoints.
type Config struct {
	TransmitFrames int
	CommandFrames  int
	DataOutFrames  int
	FrameSize      int

	// CommandEndpoint receives command IUs (UAS) or CBWs and data (BOT).
	CommandEndpoint uint8

	// DataOutEndpoint receives UAS write data. Zero disables the pool.
	DataOutEndpoint uint8
}

// DefaultConfig returns the UAS pool layout.
func DefaultConfig() Config {
	return Config{
		TransmitFrames:  DefaultTransmitFrames,
		CommandFrames:   DefaultCommandFrames,
		DataOutFrames:   DefaultDataOutFrames,
		FrameSize:       DefaultFrameSize,
		CommandEndpoint: EPCommand,
		DataOutEndpoint: EPDataOut,
	}
}

// Validate checks that every pool has at least one frame.
func (c Config) Validate() error {
	if c.TransmitFrames <= 0 || c.CommandFrames <= 0 || c.FrameSize <= 0 {
		return fmt.Errorf("frame pools: %w", pkg.ErrInvalidParameter)
	}
	if c.DataOutEndpoint != 0 && c.DataOutFrames <= 0 {
		return fmt.Errorf("data-out pool: %w", pkg.ErrInvalidParameter)
	}
	if c.CommandEndpoint&0x80 != 0 || c.DataOutEndpoint&0x80 != 0 {
		return fmt.Errorf("receive endpoint direction: %w", pkg.ErrInvalidEndpoint)
	}
	return nil
}

// Controller schedules transfers on USB device hardware.
//
// Both calls return once the transfer is queued. The controller later reports
// completion through [Service.ReceiveComplete] or [Service.TransmitComplete],
// usually from its own goroutine.
type Controller interface {
	// Receive arms an OUT endpoint to fill f.
	Receive(ep uint8, f *Frame) error

	// Transmit sends the first n bytes of f on an IN endpoint.
	Transmit(ep uint8, f *Frame, n int) error
}

// Service owns the frame pools and the completion queues.
type Service struct {
	cfg    Config
	ctrl   Controller
	queues [numQueues]*Queue

	mutex   sync.Mutex
	started bool
}

// NewService creates a service over ctrl.
func NewService(cfg Config, ctrl Controller) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	rx := cfg.CommandFrames
	if cfg.DataOutEndpoint == 0 {
		rx += cfg.DataOutFrames
	}
	return &Service{
		cfg:  cfg,
		ctrl: ctrl,
		queues: [numQueues]*Queue{
			TxFree:    NewQueue(cfg.TransmitFrames),
			RxCommand: NewQueue(rx),
			RxDataOut: NewQueue(cfg.DataOutFrames),
		},
	}, nil
}

// Config returns the service configuration.
func (s *Service) Config() Config {
	return s.cfg
}

// Start allocates the frame pools and arms every receive frame.
func (s *Service) Start() error {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.started {
		return pkg.ErrAlreadyRunning
	}

	for i := 0; i < s.cfg.TransmitFrames; i++ {
		if err := s.queues[TxFree].Put(NewFrame(s.cfg.FrameSize)); err != nil {
			return err
		}
	}
	// without a data-out pipe the command pipe carries write data too
	cmd := s.cfg.CommandFrames
	if s.cfg.DataOutEndpoint == 0 {
		cmd += s.cfg.DataOutFrames
	}
	for i := 0; i < cmd; i++ {
		if err := s.ctrl.Receive(s.cfg.CommandEndpoint, NewFrame(s.cfg.FrameSize)); err != nil {
			return fmt.Errorf("arm command frame: %w", err)
		}
	}
	if s.cfg.DataOutEndpoint != 0 {
		for i := 0; i < s.cfg.DataOutFrames; i++ {
			if err := s.ctrl.Receive(s.cfg.DataOutEndpoint, NewFrame(s.cfg.FrameSize)); err != nil {
				return fmt.Errorf("arm data-out frame: %w", err)
			}
		}
	}

	s.started = true
	pkg.LogInfo(pkg.ComponentUSB, "frame service started",
		"tx", s.cfg.TransmitFrames,
		"cmd", s.cfg.CommandFrames,
		"dout", s.cfg.DataOutFrames,
		"frameSize", s.cfg.FrameSize)
	return nil
}

// Acquire removes the oldest frame from q, blocking until one arrives or ctx
// is done.
func (s *Service) Acquire(ctx context.Context, q QueueID) (*Frame, error) {
	return s.queues[q].Get(ctx)
}

// TryAcquire removes the oldest frame from q without blocking.
func (s *Service) TryAcquire(q QueueID) (*Frame, bool) {
	return s.queues[q].TryGet()
}

// Release returns f to the pool it was acquired from. Receive frames are
// re-armed on their endpoint.
func (s *Service) Release(q QueueID, f *Frame) {
	var err error
	switch q {
	case TxFree:
		err = s.queues[TxFree].Put(f)
	case RxCommand:
		err = s.Receive(s.cfg.CommandEndpoint, f)
	case RxDataOut:
		err = s.Receive(s.cfg.DataOutEndpoint, f)
	}
	if err != nil {
		pkg.LogError(pkg.ComponentUSB, "frame release failed", "queue", q, "error", err)
	}
}

// Transmit submits the first n bytes of f on ep. The frame returns to
// [TxFree] when the controller completes it.
func (s *Service) Transmit(ep uint8, f *Frame, n int) error {
	if ep&0x80 == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if n > len(f.buf) {
		return pkg.ErrBufferTooSmall
	}
	pkg.LogDebug(pkg.ComponentUSB, "transmit", "ep", ep, "len", n)
	return s.ctrl.Transmit(ep, f, n)
}

// Receive arms ep to fill f.
func (s *Service) Receive(ep uint8, f *Frame) error {
	if ep&0x80 != 0 {
		return pkg.ErrInvalidEndpoint
	}
	f.n = 0
	return s.ctrl.Receive(ep, f)
}

// ReceiveComplete is called by the controller when f has received n bytes on ep.
func (s *Service) ReceiveComplete(ep uint8, f *Frame, n int) {
	f.SetLen(n)
	q := RxCommand
	if ep == s.cfg.DataOutEndpoint && ep != s.cfg.CommandEndpoint {
		q = RxDataOut
	}
	if err := s.queues[q].Put(f); err != nil {
		pkg.LogError(pkg.ComponentUSB, "receive queue full", "ep", ep, "queue", q)
	}
}

// TransmitComplete is called by the controller when f has been sent.
func (s *Service) TransmitComplete(ep uint8, f *Frame) {
	if err := s.queues[TxFree].Put(f); err != nil {
		pkg.LogError(pkg.ComponentUSB, "transmit pool full", "ep", ep)
	}
}

// Pending returns the number of frames waiting in q.
func (s *Service) Pending(q QueueID) int {
	return s.queues[q].Len()
}
