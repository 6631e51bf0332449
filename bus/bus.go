package bus

import (
	"math/bits"
	"strings"
	"time"
)

// Signal is a set of SCSI control lines. A set bit means the line is
// asserted, regardless of the electrical (active-low) level on the cable.
type Signal uint16

// Control lines.
const (
	BSY Signal = 1 << iota // Busy
	SEL                    // Select
	RST                    // Reset
	ACK                    // Acknowledge (initiator)
	REQ                    // Request (target)
	CD                     // Control/Data
	IO                     // Input/Output
	MSG                    // Message
	ATN                    // Attention (initiator)
)

// PhaseLines are the three lines the target drives to select an information phase.
const PhaseLines = CD | IO | MSG

var signalNames = [...]string{"BSY", "SEL", "RST", "ACK", "REQ", "C/D", "I/O", "MSG", "ATN"}

// Has reports whether every line in x is asserted in s.
func (s Signal) Has(x Signal) bool {
	return s&x == x
}

// String returns the asserted lines separated by spaces.
func (s Signal) String() string {
	var b strings.Builder
	for i, name := range signalNames {
		if s&(1<<i) == 0 {
			continue
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(name)
	}
	if b.Len() == 0 {
		return "-"
	}
	return b.String()
}

// Phase is an information transfer phase, derived from MSG, C/D and I/O.
// The numbering follows the raw active-low line levels: bit 0 is set when
// I/O is released, bit 1 when C/D is released, bit 2 when MSG is released.
type Phase uint8

// Bus phases.
const (
	PhaseMessageIn  Phase = 0
	PhaseMessageOut Phase = 1
	PhaseReserved2  Phase = 2
	PhaseReserved3  Phase = 3
	PhaseStatus     Phase = 4
	PhaseCommand    Phase = 5
	PhaseDataIn     Phase = 6
	PhaseDataOut    Phase = 7
)

var phaseNames = [...]string{
	"MSG IN",
	"MSG OUT",
	"RESERVED 2",
	"RESERVED 3",
	"STATUS",
	"COMMAND",
	"DATA IN",
	"DATA OUT",
}

// String returns the conventional phase name.
func (p Phase) String() string {
	return phaseNames[p&7]
}

// Reserved reports whether p is one of the two undefined phase codes.
func (p Phase) Reserved() bool {
	return p == PhaseReserved2 || p == PhaseReserved3
}

// PhaseOf derives the bus phase from a line sample.
func PhaseOf(s Signal) Phase {
	var p Phase
	if s&IO == 0 {
		p |= 1
	}
	if s&CD == 0 {
		p |= 2
	}
	if s&MSG == 0 {
		p |= 4
	}
	return p
}

// Lines returns the line set a target drives to enter phase p.
func (p Phase) Lines() Signal {
	var s Signal
	if p&1 == 0 {
		s |= IO
	}
	if p&2 == 0 {
		s |= CD
	}
	if p&4 == 0 {
		s |= MSG
	}
	return s
}

// OddParity returns the parity bit that makes the nine data-bus bits
// carry an odd number of ones.
func OddParity(b uint8) bool {
	return bits.OnesCount8(b)%2 == 0
}

// IDMask returns the data-bus bit for SCSI ID id.
func IDMask(id int) uint8 {
	return 1 << uint(id&7)
}

// Timing holds the bus delays and retry budgets. The delays are spent with
// Transceiver.Delay; they are real-time pauses, not yield points.
type Timing struct {
	BusClear    time.Duration // after releasing BSY, before sampling for bus free
	Arbitration time.Duration // after driving the arbitration ID
	BusSettle   time.Duration // between selection steps and selection polls

	// SelectRetries bounds the polls for a target answering selection.
	SelectRetries int

	// BusFreeRetries bounds the polls for SEL and BSY to be released.
	// Zero waits forever.
	BusFreeRetries int
}

// Default delays and budgets.
const (
	DefaultBusClear         = 800 * time.Nanosecond
	DefaultArbitration      = 2400 * time.Nanosecond
	DefaultBusSettle        = 400 * time.Nanosecond
	DefaultSelectionTimeout = 250 * time.Millisecond
	DefaultBusFreeRetries   = 1 << 24
)

// DefaultTiming returns the nominal timing with a 250 ms selection timeout.
func DefaultTiming() Timing {
	return Timing{
		BusClear:       DefaultBusClear,
		Arbitration:    DefaultArbitration,
		BusSettle:      DefaultBusSettle,
		SelectRetries:  int(DefaultSelectionTimeout / DefaultBusSettle),
		BusFreeRetries: DefaultBusFreeRetries,
	}
}
