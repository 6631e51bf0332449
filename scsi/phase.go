package scsi

import (
	"context"
	"errors"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// requestOrFree holds once the target requests a transfer or leaves the bus.
func requestOrFree(s bus.Signal) bool {
	return s.Has(bus.REQ) || !s.Has(bus.BSY)
}

// phase returns the phase the target is driving.
func (e *Engine) phase() bus.Phase {
	return bus.PhaseOf(e.t.Lines())
}

// next waits for the target's next request and reports whether it still
// wants phase p. Handlers loop on it byte by byte.
func (e *Engine) next(p bus.Phase) bool {
	s, _ := bus.Await(e.t, requestOrFree, 0, 0)
	return s.Has(bus.BSY) && bus.PhaseOf(s) == p
}

// ack completes one REQ/ACK handshake for a byte already driven or sampled.
func (e *Engine) ack() {
	e.t.Assert(bus.ACK)
	bus.Await(e.t, func(s bus.Signal) bool { return !s.Has(bus.REQ) || !s.Has(bus.BSY) }, 0, 0)
	e.t.Release(bus.ACK)
}

// dispatch waits for the target to request a transfer and runs the handler
// for the phase it asked for.
func (e *Engine) dispatch(ctx context.Context, x *xfer) error {
	s, _ := bus.Await(e.t, requestOrFree, 0, 0)
	if !s.Has(bus.BSY) {
		return pkg.ErrDisconnected
	}

	p := bus.PhaseOf(s)
	pkg.LogDebug(pkg.ComponentPhase, p.String(), "target", x.target)
	switch p {
	case bus.PhaseCommand:
		return e.command(x)
	case bus.PhaseMessageOut:
		return e.messageOut(x)
	case bus.PhaseMessageIn:
		return e.messageIn(x)
	case bus.PhaseDataIn:
		return e.dataIn(ctx, x)
	case bus.PhaseDataOut:
		return e.dataOut(ctx, x)
	case bus.PhaseStatus:
		return e.statusIn(ctx, x)
	}
	return pkg.ErrUnknownPhase
}

// run drives phases until the target releases the bus.
func (e *Engine) run(ctx context.Context, x *xfer) {
	var reported bool
	for {
		err := e.dispatch(ctx, x)
		switch {
		case err == nil:
		case errors.Is(err, pkg.ErrDisconnected):
			return
		case errors.Is(err, pkg.ErrUnknownPhase):
			if ctx.Err() != nil {
				return
			}
			if !reported {
				pkg.LogError(pkg.ComponentPhase, "reserved phase",
					"phase", e.phase(), "target", x.target, "error", err)
				reported = true
			}
		default:
			// the host side went away; leave the target to time out
			pkg.LogError(pkg.ComponentPhase, "phase aborted",
				"target", x.target, "hostTag", x.hostTag, "error", err)
			return
		}
	}
}

// command sends CDB bytes until the target leaves COMMAND. Targets size
// the CDB from the operation code group, so a short descriptor is padded
// with zeros.
func (e *Engine) command(x *xfer) error {
	defer e.t.ReleaseData()
	for e.next(bus.PhaseCommand) {
		var b byte
		if x.cdbPos < len(x.cdb) {
			b = x.cdb[x.cdbPos]
		}
		bus.Drive(e.t, b)
		e.ack()
		x.cdbPos++
	}
	pkg.LogDebug(pkg.ComponentPhase, "command sent",
		"opcode", x.cdb[0], "len", x.cdbPos, "target", x.target)
	return nil
}
