// Package bus defines the boundary between the SCSI protocol engine and the
// parallel bus hardware.
//
// The engine never touches pins directly. It sees the bus through
// [Transceiver]: sampled control lines as a [Signal] set, an eight-bit data
// bus with odd parity, and a nanosecond delay primitive. Phases are derived
// on demand with [PhaseOf] and are never stored.
//
// Every wait in the protocol is expressed with [Await], a single
// line-condition primitive with an optional poll budget:
//
//	// wait for the target to request the next byte, forever
//	bus.Await(t, bus.Asserted(bus.REQ), 0, 0)
//
//	// bus free: SEL and BSY released, bounded
//	bus.Await(t, bus.Released(bus.SEL|bus.BSY), timing.BusFreeRetries, 0)
//
// A deterministic simulated bus with scriptable targets lives in
// [github.com/ardnew/uasbridge/bus/sim].
package bus
