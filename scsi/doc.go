// Package scsi implements a SCSI initiator that bridges a parallel SCSI bus
// to a USB host speaking USB Attached SCSI (UAS) or Bulk-Only Transport (BOT).
//
// # Architecture
//
// The [Engine] runs a single polling loop. Each pass checks the bus for a
// target reselecting the initiator, then takes the next command the USB side
// received and carries it across the bus:
//
//	USB command ─► tag allocation ─► arbitration ─► selection ─► phases ─► status to USB
//
// Bus access goes through [bus.Transceiver]; USB frames through
// [FrameService]. Neither side is touched concurrently by the engine.
//
// # Session
//
// A [Session] holds the initiator's bus ID, the bound target and the
// capabilities negotiated so far. Capabilities start enabled and are only
// ever cleared: a target that rejects IDENTIFY or SIMPLE QUEUE TAG keeps
// that downgrade for the rest of the session.
//
// # Tags
//
// Every admitted command gets a slot in the 256-entry [TagTable]. The slot
// index is the queue tag sent to the target; the entry remembers the host's
// own tag so status and data notifications can be addressed.
//
// # Phases
//
// After selection the target drives the information phases. The engine
// waits for REQ, decodes the phase from MSG, C/D and I/O, and runs the
// matching handler byte by byte with the REQ/ACK handshake until BSY drops.
package scsi
