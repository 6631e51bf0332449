package scsi

import (
	"context"
	"math/bits"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// checkReselection answers a target reselecting this initiator and runs the
// reconnected command to its next disconnect. It reports whether a
// reselection was handled.
func (e *Engine) checkReselection(ctx context.Context) bool {
	s := e.t.Lines()
	if !s.Has(bus.SEL|bus.IO) || s.Has(bus.BSY) {
		return false
	}
	mask := e.session.HostMask()
	d := e.t.Data()
	if d&mask == 0 || d&^mask == 0 {
		return false
	}
	id := bits.TrailingZeros8(d &^ mask)

	e.t.Assert(bus.BSY)
	bus.Await(e.t, bus.Released(bus.SEL), 0, 0)
	e.t.Release(bus.BSY)
	e.t.Delay(e.cfg.Timing.BusSettle)

	e.stats.reselections.Add(1)
	pkg.LogDebug(pkg.ComponentEngine, "reselected", "target", id)

	x := &xfer{target: id}
	e.run(ctx, x)

	if x.tag != nil && !x.disconnectOK {
		e.stats.unexpectedDisconnects.Add(1)
		pkg.LogError(pkg.ComponentEngine, "target left the bus",
			"hostTag", x.hostTag, "target", id, "error", pkg.ErrUnexpectedDisconnect)
		e.fail(ctx, x)
		e.finish(x)
	}
	return true
}
