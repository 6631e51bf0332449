package sim

import (
	"sync"
	"time"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// Bus is a simulated parallel SCSI bus with attached targets. It implements
// [bus.Transceiver] for the initiator side.
//
// Targets move in lockstep with the initiator: they react to each Assert,
// Release and data change, and advance timers on each Lines sample. Nothing
// runs in the background, so a test sees the same sequence every time.
type Bus struct {
	// HostID is the initiator's bus ID.
	HostID int

	mu sync.Mutex

	host       bus.Signal
	hostData   uint8
	hostDrives bool

	targets [8]*Target
	conn    *Target

	selecting   *Target
	selectDelay int

	now      time.Duration
	activity int
}

// New creates an empty bus for an initiator at hostID.
func New(hostID int) *Bus {
	return &Bus{HostID: hostID}
}

// Attach connects t to the bus at t.ID.
func (b *Bus) Attach(t *Target) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t.bus = b
	b.targets[t.ID&7] = t
}

// Now returns the virtual time accumulated by Delay.
func (b *Bus) Now() time.Duration {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.now
}

// Activity returns the number of initiator calls that touched the bus.
func (b *Bus) Activity() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.activity
}

// Free reports whether no device is holding the bus.
func (b *Bus) Free() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.conn == nil && b.host&(bus.BSY|bus.SEL) == 0
}

// Lines samples the control lines and advances target timers by one tick.
func (b *Bus) Lines() bus.Signal {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity++
	b.tick()
	return b.lines()
}

// Assert drives s active from the initiator.
func (b *Bus) Assert(s bus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity++
	prev := b.host
	b.host |= s
	b.changed(prev)
}

// Release stops the initiator driving s.
func (b *Bus) Release(s bus.Signal) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity++
	prev := b.host
	b.host &^= s
	b.changed(prev)
}

// Data samples the data bus, the wired-OR of every driver.
func (b *Bus) Data() uint8 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity++
	return b.data()
}

// WriteData drives v from the initiator. Parity is generated by the
// simulated transceiver and ignored.
func (b *Bus) WriteData(v uint8, _ bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity++
	b.hostData = v
	b.hostDrives = true
	b.changed(b.host)
}

// ReleaseData stops the initiator driving the data bus.
func (b *Bus) ReleaseData() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.activity++
	b.hostDrives = false
}

// Delay advances virtual time.
func (b *Bus) Delay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.now += d
}

func (b *Bus) lines() bus.Signal {
	s := b.host
	for _, t := range b.targets {
		if t != nil {
			s |= t.lines
		}
	}
	return s
}

func (b *Bus) data() uint8 {
	var v uint8
	if b.hostDrives {
		v = b.hostData
	}
	for _, t := range b.targets {
		if t != nil && t.driving {
			v |= t.data
		}
	}
	return v
}

// changed lets targets react to an initiator line transition.
func (b *Bus) changed(prev bus.Signal) {
	rose := b.host &^ prev
	fell := prev &^ b.host

	if rose.Has(bus.RST) {
		pkg.LogDebug(pkg.ComponentSim, "bus reset")
		for _, t := range b.targets {
			if t != nil {
				t.reset()
			}
		}
		b.conn = nil
		b.selecting = nil
		return
	}

	if t := b.conn; t != nil {
		switch t.state {
		case stateSelected:
			if fell.Has(bus.SEL) {
				t.selected()
			}
		case stateReselecting:
			if rose.Has(bus.BSY) {
				t.state = stateReselected
				t.lines = bus.BSY | bus.IO
				t.driving = false
			}
		case stateReselected:
			if fell.Has(bus.BSY) {
				t.reselected()
			}
		case stateConnected:
			if rose.Has(bus.ATN) {
				t.attention()
			}
			if rose.Has(bus.ACK) {
				t.acked()
			}
			if fell.Has(bus.ACK) {
				t.ackReleased()
			}
		}
		return
	}

	b.arbitrate()
}

// arbitrate notices a selection in progress: SEL asserted, BSY released and
// a target ID on the data bus.
func (b *Bus) arbitrate() {
	if b.selecting != nil || !b.host.Has(bus.SEL) || b.host.Has(bus.BSY) || !b.hostDrives {
		return
	}
	for _, t := range b.targets {
		if t == nil || t.ID == b.HostID || t.state != stateIdle {
			continue
		}
		if b.hostData&bus.IDMask(t.ID) != 0 {
			b.selecting = t
			b.selectDelay = t.SelectDelay
			b.answerSelection()
			return
		}
	}
}

func (b *Bus) answerSelection() {
	t := b.selecting
	if b.selectDelay > 0 {
		return
	}
	b.selecting = nil
	t.state = stateSelected
	t.lines = bus.BSY
	b.conn = t
	pkg.LogDebug(pkg.ComponentSim, "selected", "target", t.ID, "atn", b.host.Has(bus.ATN))
}

// tick advances selection and reselection timers by one line sample.
func (b *Bus) tick() {
	if b.selecting != nil {
		if !b.host.Has(bus.SEL) {
			b.selecting = nil
		} else {
			b.selectDelay--
			b.answerSelection()
		}
		return
	}

	if t := b.conn; t != nil {
		if t.state == stateReselecting {
			if t.countdown--; t.countdown <= 0 {
				t.abandonReselection()
			}
		}
		return
	}

	if b.host&(bus.BSY|bus.SEL) != 0 {
		return
	}
	for _, t := range b.targets {
		if t == nil || t.state != stateIdle || len(t.pending) == 0 {
			continue
		}
		if t.countdown > 0 {
			t.countdown--
			continue
		}
		t.startReselection()
		return
	}
}
