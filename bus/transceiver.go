package bus

import (
	"time"

	"github.com/ardnew/uasbridge/pkg"
)

// Transceiver is the line-level access to the parallel SCSI bus.
//
// Platform vendors implement this interface over GPIO or a bus controller.
// The engine polls it from a single goroutine; implementations need not be
// safe for concurrent use unless they share state with another producer.
type Transceiver interface {
	// Lines samples the control lines. The result is the wired-OR of what
	// every device on the bus is driving, including this initiator.
	Lines() Signal

	// Assert drives the given initiator lines.
	Assert(s Signal)

	// Release stops driving the given initiator lines.
	Release(s Signal)

	// Data samples the eight data-bus bits.
	Data() uint8

	// WriteData drives the data bus and its parity bit.
	WriteData(b uint8, parity bool)

	// ReleaseData stops driving the data bus (high impedance).
	ReleaseData()

	// Delay spins for at least d.
	Delay(d time.Duration)
}

// Drive puts b on the data bus with odd parity.
func Drive(t Transceiver, b uint8) {
	t.WriteData(b, OddParity(b))
}

// Await polls the control lines until cond holds. When limit is positive it
// gives up after that many polls and returns [pkg.ErrTimeout]; delay is spent
// between polls. A zero limit waits forever, matching the unbounded
// handshake waits of the bus protocol.
func Await(t Transceiver, cond func(Signal) bool, limit int, delay time.Duration) (Signal, error) {
	for n := 0; ; n++ {
		s := t.Lines()
		if cond(s) {
			return s, nil
		}
		if limit > 0 && n+1 >= limit {
			return s, pkg.ErrTimeout
		}
		if delay > 0 {
			t.Delay(delay)
		}
	}
}

// Asserted returns a condition that holds while every line in x is asserted.
func Asserted(x Signal) func(Signal) bool {
	return func(s Signal) bool { return s&x == x }
}

// Released returns a condition that holds while every line in x is released.
func Released(x Signal) func(Signal) bool {
	return func(s Signal) bool { return s&x == 0 }
}
