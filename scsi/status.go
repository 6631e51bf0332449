package scsi

import (
	"context"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// SCSI status bytes.
const (
	StatusGood           = 0x00
	StatusCheckCondition = 0x02
)

// statusIn reads the status byte and reports it to the host.
func (e *Engine) statusIn(ctx context.Context, x *xfer) error {
	for e.next(bus.PhaseStatus) {
		x.status = e.t.Data()
		e.ack()
		pkg.LogDebug(pkg.ComponentPhase, "status", "status", x.status, "hostTag", x.hostTag)
		if err := e.transport.status(ctx, x.hostTag, x.expected, x.actual, x.status); err != nil {
			return err
		}
		x.statusSent = true
	}
	return nil
}

// fail reports CHECK CONDITION for a command the bus never finished.
func (e *Engine) fail(ctx context.Context, x *xfer) {
	if x.statusSent {
		return
	}
	if err := e.transport.status(ctx, x.hostTag, x.expected, x.actual, StatusCheckCondition); err != nil {
		pkg.LogError(pkg.ComponentEngine, "failure status not sent", "hostTag", x.hostTag, "error", err)
		return
	}
	x.statusSent = true
}
