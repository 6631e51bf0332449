package scsi

import (
	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// Message bytes.
const (
	MsgCommandComplete    = 0x00
	MsgExtended           = 0x01
	MsgSaveDataPointer    = 0x02
	MsgRestorePointers    = 0x03
	MsgDisconnect         = 0x04
	MsgAbort              = 0x06
	MsgReject             = 0x07
	MsgNop                = 0x08
	MsgSimpleQueueTag     = 0x20
	MsgIdentify           = 0x80
	MsgIdentifyDisconnect = 0x40
)

// MessageLength returns the number of bytes in the message starting at
// msg[0]. An extended message whose length byte has not arrived yet
// reports 0.
func MessageLength(msg []byte) int {
	if len(msg) == 0 {
		return 0
	}
	switch b := msg[0]; {
	case b == MsgExtended:
		if len(msg) < 2 {
			return 0
		}
		return int(msg[1]) + 2
	case b >= 0x20 && b <= 0x2F:
		return 2
	default:
		return 1
	}
}

// isIdentify reports whether b is an IDENTIFY byte for LUN 0-7.
func isIdentify(b byte) bool {
	return b&^0x47 == MsgIdentify
}

// buildMessages queues the messages that open a connection for x.
func buildMessages(x *xfer, caps Capabilities) {
	x.outCount, x.outPos = 0, 0
	if !caps.Identify {
		return
	}
	id := byte(MsgIdentify) | x.lun&0x07
	if caps.Disconnect && caps.Tags {
		id |= MsgIdentifyDisconnect
	}
	x.out[0] = id
	x.outCount = 1
	if caps.Tags && x.tag != nil {
		x.out[1] = MsgSimpleQueueTag
		x.out[2] = x.tag.Index
		x.outCount = 3
	}
}

// messageOut sends queued bytes while the target stays in MESSAGE OUT.
// ATN drops before the last byte so the target knows it is the last one.
func (e *Engine) messageOut(x *xfer) error {
	defer e.t.ReleaseData()
	for e.next(bus.PhaseMessageOut) {
		b := byte(MsgNop)
		if x.outPos < x.outCount {
			b = x.out[x.outPos]
		}
		if x.outPos >= x.outCount-1 {
			e.t.Release(bus.ATN)
		}
		bus.Drive(e.t, b)
		e.ack()
		pkg.LogDebug(pkg.ComponentMessage, "message out", "byte", b, "target", x.target)
		if x.outPos < x.outCount {
			x.outPos++
		}
	}
	return nil
}

// messageIn collects bytes until the target changes phase, then acts on
// them.
func (e *Engine) messageIn(x *xfer) error {
	x.inCount = 0
	for e.next(bus.PhaseMessageIn) {
		b := e.t.Data()
		e.ack()
		if x.inCount < len(x.in) {
			x.in[x.inCount] = b
			x.inCount++
		} else {
			pkg.LogWarn(pkg.ComponentMessage, "message buffer full, byte discarded",
				"byte", b, "target", x.target)
		}
	}
	e.parseMessages(x)
	return nil
}

// parseMessages walks the received bytes one message at a time.
func (e *Engine) parseMessages(x *xfer) {
	msgs := x.in[:x.inCount]
	for pos := 0; pos < len(msgs); {
		n := MessageLength(msgs[pos:])
		if n == 0 || pos+n > len(msgs) {
			pkg.LogWarn(pkg.ComponentMessage, "truncated message", "byte", msgs[pos], "target", x.target)
			return
		}
		msg := msgs[pos : pos+n]
		pos += n

		pkg.LogDebug(pkg.ComponentMessage, "message in", "byte", msg[0], "len", n, "target", x.target)
		switch msg[0] {
		case MsgReject:
			e.rejected(x)

		case MsgSimpleQueueTag:
			tag, ok := e.session.tags.Lookup(msg[1])
			if !ok {
				e.abort(x, msg[1])
				return
			}
			x.bind(tag)

		case MsgCommandComplete:
			if x.tag != nil {
				e.session.tags.Release(x.tag.Index)
				x.tag = nil
			}
			x.completed = true
			e.stats.completed.Add(1)
			fallthrough

		case MsgDisconnect:
			x.disconnectOK = true

		case MsgSaveDataPointer, MsgRestorePointers, MsgNop:
		}
	}
}

// rejected handles MESSAGE REJECT. The rejected message is the one holding
// the last byte sent; its leading byte says which capability to drop.
func (e *Engine) rejected(x *xfer) {
	pos := 0
	for pos < x.outCount {
		n := MessageLength(x.out[pos:x.outCount])
		if n == 0 || pos+n >= x.outPos {
			break
		}
		pos += n
	}
	if x.outPos == 0 || pos >= x.outCount {
		pkg.LogWarn(pkg.ComponentMessage, "reject with no message sent",
			"target", x.target, "error", pkg.ErrUnexpectedReject)
		return
	}

	n := MessageLength(x.out[pos:x.outCount])
	if n == 0 || pos+n > x.outCount {
		n = x.outCount - pos
	}
	caps := e.session.Capabilities()
	switch b := x.out[pos]; {
	case isIdentify(b) && caps.Identify:
		e.session.DisableIdentify()
	case b == MsgSimpleQueueTag && caps.Tags:
		e.session.DisableTags()
	default:
		pkg.LogWarn(pkg.ComponentMessage, "reject matches no enabled capability",
			"byte", b, "target", x.target, "error", pkg.ErrUnexpectedReject)
		return
	}
	for i := pos; i < pos+n; i++ {
		x.out[i] = MsgNop
	}
	x.retry = true
}

// abort replaces the queued messages with ABORT and raises ATN so the
// target takes it before the next phase.
func (e *Engine) abort(x *xfer, index uint8) {
	pkg.LogError(pkg.ComponentMessage, "target reported unknown tag",
		"index", index, "target", x.target, "error", pkg.ErrUnknownTag)
	x.out[0] = MsgAbort
	x.outCount = 1
	x.outPos = 0
	x.aborted = true
	e.t.Assert(bus.ATN)
	e.stats.aborts.Add(1)
}
