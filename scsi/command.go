package scsi

import (
	"context"
	"fmt"

	"github.com/ardnew/uasbridge/pkg"
)

// maxAttempts bounds how often one command is issued after a REJECT.
const maxAttempts = 2

// HandleCommand carries one command descriptor received from the host
// across the bus. Malformed descriptors and commands that cannot get a tag
// are dropped; the returned error says why. A command that reached the bus
// always ends with a status sent to the host or a pending reselection.
func (e *Engine) HandleCommand(ctx context.Context, buf []byte) error {
	var req request
	if err := e.transport.parse(buf, &req); err != nil {
		e.stats.dropped.Add(1)
		pkg.LogWarn(pkg.ComponentEngine, "command dropped", "len", len(buf), "error", err)
		return err
	}
	e.stats.commands.Add(1)

	if ok, err := e.transport.intercept(ctx, &req); ok {
		if err != nil {
			pkg.LogError(pkg.ComponentEngine, "local reply failed", "hostTag", req.hostTag, "error", err)
			return err
		}
		e.stats.completed.Add(1)
		return nil
	}

	tag, err := e.session.tags.Allocate(req.hostTag)
	if err != nil {
		e.stats.dropped.Add(1)
		pkg.LogWarn(pkg.ComponentTag, "command dropped", "hostTag", req.hostTag, "error", err)
		return err
	}
	tag.lun = req.lun
	tag.expected = req.expected

	return e.execute(ctx, newXfer(&req, tag))
}

// execute runs the bus sequence for x, reissuing it once when a REJECT
// downgraded the session.
func (e *Engine) execute(ctx context.Context, x *xfer) error {
	var err error
	for attempt := 1; ; attempt++ {
		x.rearm()
		buildMessages(x, e.session.Capabilities())

		if e.session.Bound() {
			err = e.connect(x, e.session.Target())
		} else {
			err = e.discover(x)
		}
		if err != nil {
			break
		}
		e.run(ctx, x)

		if !x.retry || x.completed {
			break
		}
		if attempt == maxAttempts {
			pkg.LogError(pkg.ComponentEngine, "rejected again after retry",
				"hostTag", x.hostTag, "target", x.target, "error", pkg.ErrRejectRepeated)
			break
		}
		e.stats.retries.Add(1)
		pkg.LogInfo(pkg.ComponentEngine, "reissuing command", "hostTag", x.hostTag, "target", x.target)
	}

	switch {
	case err != nil:
		pkg.LogError(pkg.ComponentEngine, "command failed",
			"hostTag", x.hostTag, "target", x.target, "error", err)
		e.fail(ctx, x)
		e.finish(x)
		return fmt.Errorf("command %d: %w", x.hostTag, err)

	case !x.disconnectOK:
		e.stats.unexpectedDisconnects.Add(1)
		pkg.LogError(pkg.ComponentEngine, "target left the bus",
			"hostTag", x.hostTag, "target", x.target, "error", pkg.ErrUnexpectedDisconnect)
		e.fail(ctx, x)
		e.finish(x)
	}
	return nil
}

// finish releases the tag held by x.
func (e *Engine) finish(x *xfer) {
	if x.tag != nil {
		e.session.tags.Release(x.tag.Index)
		x.tag = nil
	}
}
