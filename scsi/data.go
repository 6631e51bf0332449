package scsi

import (
	"context"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
	"github.com/ardnew/uasbridge/usb"
)

// dataIn samples bytes from the target into transmit frames, sending each
// frame to the host when it reaches the chunk size and the remainder when
// the target leaves DATA IN.
func (e *Engine) dataIn(ctx context.Context, x *xfer) error {
	if x.tag != nil && !x.tag.readReadySent {
		if err := e.transport.readReady(ctx, x.hostTag); err != nil {
			return err
		}
		x.tag.readReadySent = true
	}

	var (
		f     *usb.Frame
		buf   []byte
		n     int
		sends int
	)
	for e.next(bus.PhaseDataIn) {
		if f == nil {
			var err error
			if f, err = e.fs.Acquire(ctx, usb.TxFree); err != nil {
				return err
			}
			buf = f.Bytes()
			if len(buf) > e.cfg.ChunkSize {
				buf = buf[:e.cfg.ChunkSize]
			}
			n = 0
		}
		buf[n] = e.t.Data()
		e.ack()
		n++
		x.actual++
		if n == len(buf) {
			if err := e.fs.Transmit(usb.EPDataIn, f, n); err != nil {
				e.fs.Release(usb.TxFree, f)
				return err
			}
			f = nil
			sends++
		}
	}

	if f != nil {
		if err := e.fs.Transmit(usb.EPDataIn, f, n); err != nil {
			e.fs.Release(usb.TxFree, f)
			return err
		}
		sends++
	}
	pkg.LogDebug(pkg.ComponentPhase, "data in done",
		"bytes", x.actual, "frames", sends, "hostTag", x.hostTag)
	return nil
}

// dataOut drives bytes from frames the host already sent. Each frame goes
// back to the pool as soon as it is drained; a shortfall shows up only in
// the residue.
func (e *Engine) dataOut(ctx context.Context, x *xfer) error {
	defer e.t.ReleaseData()
	if x.tag != nil && !x.tag.writeReadySent {
		if err := e.transport.writeReady(ctx, x.hostTag); err != nil {
			return err
		}
		x.tag.writeReadySent = true
	}

	q := e.transport.dataOutQueue()
	var (
		f   *usb.Frame
		pos int
	)
	for e.next(bus.PhaseDataOut) {
		for f == nil {
			var err error
			if f, err = e.fs.Acquire(ctx, q); err != nil {
				return err
			}
			if f.Len() == 0 {
				e.fs.Release(q, f)
				f = nil
			}
			pos = 0
		}
		bus.Drive(e.t, f.Data()[pos])
		e.ack()
		pos++
		x.actual++
		if pos == f.Len() {
			e.fs.Release(q, f)
			f = nil
		}
	}

	if f != nil {
		pkg.LogWarn(pkg.ComponentPhase, "data out frame partially consumed",
			"used", pos, "len", f.Len(), "hostTag", x.hostTag)
		e.fs.Release(q, f)
	}
	pkg.LogDebug(pkg.ComponentPhase, "data out done", "bytes", x.actual, "hostTag", x.hostTag)
	return nil
}
