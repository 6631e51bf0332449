package scsi

import (
	"errors"
	"fmt"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// waitBusFree waits for the bus to go free and wins arbitration. It returns
// the number of arbitration rounds taken.
func (e *Engine) waitBusFree() (int, error) {
	tm := e.cfg.Timing
	mask := e.session.HostMask()
	// Arbitration priority follows the ID: only bits above ours can beat us.
	// A lower contender's bit is on the bus too and is ignored.
	higher := ^(mask | (mask - 1))

	for rounds := 1; ; rounds++ {
		e.t.Release(bus.BSY)
		e.t.Delay(tm.BusClear)
		if _, err := bus.Await(e.t, bus.Released(bus.SEL|bus.BSY), tm.BusFreeRetries, 0); err != nil {
			return rounds, fmt.Errorf("wait for bus free: %w", pkg.ErrBusBusy)
		}

		e.t.Assert(bus.BSY)
		bus.Drive(e.t, mask)
		e.t.Delay(tm.Arbitration)
		if e.t.Data()&higher != 0 {
			pkg.LogDebug(pkg.ComponentBus, "arbitration lost", "round", rounds)
			e.t.ReleaseData()
			continue
		}
		e.t.Delay(tm.BusClear)
		pkg.LogDebug(pkg.ComponentBus, "arbitration won", "rounds", rounds)
		return rounds, nil
	}
}

// selectTarget selects id after arbitration. ATN is raised when x has
// messages queued so the target starts with MESSAGE OUT.
func (e *Engine) selectTarget(x *xfer, id int) error {
	tm := e.cfg.Timing

	e.t.Assert(bus.SEL)
	if x.outCount > 0 {
		e.t.Assert(bus.ATN)
	}
	e.t.Delay(tm.BusSettle)
	bus.Drive(e.t, e.session.HostMask()|bus.IDMask(id))
	e.t.Delay(tm.BusSettle)
	e.t.Release(bus.BSY)
	e.t.Delay(tm.BusSettle)

	if _, err := bus.Await(e.t, bus.Asserted(bus.BSY), tm.SelectRetries, tm.BusSettle); err != nil {
		e.t.Release(bus.SEL | bus.ATN)
		e.t.ReleaseData()
		pkg.LogDebug(pkg.ComponentBus, "selection timeout", "target", id)
		return fmt.Errorf("select target %d: %w", id, pkg.ErrSelectionTimeout)
	}

	x.target = id
	e.t.Release(bus.SEL)
	e.t.ReleaseData()
	e.t.Delay(tm.BusSettle)
	pkg.LogDebug(pkg.ComponentBus, "selected", "target", id, "atn", x.outCount > 0)
	return nil
}

// connect arbitrates for the bus and selects id.
func (e *Engine) connect(x *xfer, id int) error {
	if _, err := e.waitBusFree(); err != nil {
		return err
	}
	if err := e.selectTarget(x, id); err != nil {
		e.stats.selectionTimeouts.Add(1)
		return err
	}
	return nil
}

// discover selects each ID from highest to lowest priority and binds the
// first target that answers.
func (e *Engine) discover(x *xfer) error {
	for id := 7; id >= 0; id-- {
		if id == e.session.HostID() {
			continue
		}
		err := e.connect(x, id)
		if err == nil {
			e.session.Bind(id)
			caps := e.session.Capabilities()
			pkg.LogInfo(pkg.ComponentEngine, "target discovered",
				"target", id,
				"identify", caps.Identify,
				"tags", caps.Tags,
				"disconnect", caps.Disconnect,
				"sync", caps.Sync)
			return nil
		}
		if !errors.Is(err, pkg.ErrSelectionTimeout) {
			return err
		}
	}
	return pkg.ErrNoTarget
}
