package sim

import (
	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// Message bytes the simulated target understands.
const (
	msgComplete        = 0x00
	msgExtended        = 0x01
	msgSaveDataPointer = 0x02
	msgDisconnect      = 0x04
	msgAbort           = 0x06
	msgReject          = 0x07
	msgNop             = 0x08
	msgSimpleTag       = 0x20
	msgIdentify        = 0x80
	msgIdentifyDisc    = 0x40
)

// Status bytes.
const (
	StatusGood           = 0x00
	StatusCheckCondition = 0x02
)

// Untagged marks a command received without a SIMPLE QUEUE TAG message.
const Untagged = -1

// Command is a command as the target received it.
type Command struct {
	LUN     uint8
	Tag     int // queue tag, or Untagged
	CDB     []byte
	DataOut []byte // bytes received in DATA OUT
}

// Response tells the target how to finish a command.
type Response struct {
	Data    []byte // DATA IN payload
	DataOut int    // DATA OUT bytes to request
	Status  uint8

	// Receive is called with the DATA OUT bytes once they have all arrived.
	Receive func(data []byte)
}

// Handler executes commands for a simulated target.
type Handler interface {
	Execute(cmd *Command) Response
}

// HandlerFunc adapts a function to [Handler].
type HandlerFunc func(cmd *Command) Response

// Execute calls f(cmd).
func (f HandlerFunc) Execute(cmd *Command) Response {
	return f(cmd)
}

type targetState uint8

const (
	stateIdle targetState = iota
	stateSelected
	stateConnected
	stateReselecting
	stateReselected
)

// nexus is one I_T_L_Q connection: everything the target knows about a command.
type nexus struct {
	lun      uint8
	tag      int
	discPriv bool
	cmd      *Command
	resp     Response
}

// step is one information phase the target will run.
type step struct {
	phase  bus.Phase
	out    []byte // bytes sent to the initiator
	in     []byte // bytes received from the initiator
	want   int    // bytes to receive; 0 in MSG OUT means "while ATN"
	urgent bool   // runs before a pending ATN is honoured
	end    bool   // finish now regardless of want/ATN
	done   func(s *step)
}

func (s *step) toInitiator() bool {
	return s.phase == bus.PhaseMessageIn || s.phase == bus.PhaseStatus || s.phase == bus.PhaseDataIn
}

// Target is a simulated SCSI target device.
//
// Behaviour flags are read when a connection starts; set them before the
// target is attached or between commands.
type Target struct {
	ID      int
	Handler Handler

	// RejectIdentify answers any IDENTIFY message with MESSAGE REJECT.
	RejectIdentify bool

	// RejectTags answers any SIMPLE QUEUE TAG message with MESSAGE REJECT.
	RejectTags bool

	// Disconnect makes the target disconnect after the COMMAND phase when
	// the initiator granted disconnect privilege and tagged the command,
	// then reselect to finish it.
	Disconnect bool

	// ReselectTag, when non-negative, replaces the queue tag sent on
	// reselection.
	ReselectTag int

	// SelectDelay is the number of line samples before BSY answers selection.
	SelectDelay int

	// ReselectDelay is the number of bus-free line samples before a
	// disconnected command reselects.
	ReselectDelay int

	// ReselectTimeout is the number of line samples the target waits for
	// the initiator to answer reselection before backing off.
	ReselectTimeout int

	bus   *Bus
	state targetState

	lines   bus.Signal
	data    uint8
	driving bool

	steps   []*step
	cur     *step
	pos     int
	latched bool

	conn      *nexus
	pending   []*nexus
	msgBuf    []byte
	refused   bool
	aborted   bool
	countdown int

	commands []Command
}

// NewTarget creates a target at the given ID that runs h.
func NewTarget(id int, h Handler) *Target {
	return &Target{
		ID:              id,
		Handler:         h,
		ReselectTag:     -1,
		ReselectDelay:   8,
		ReselectTimeout: 10000,
	}
}

// Commands returns a copy of every command the target executed.
func (t *Target) Commands() []Command {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	return append([]Command(nil), t.commands...)
}

// Pending returns the number of disconnected commands awaiting reselection.
func (t *Target) Pending() int {
	t.bus.mu.Lock()
	defer t.bus.mu.Unlock()
	return len(t.pending)
}

func (t *Target) reset() {
	t.state = stateIdle
	t.lines = 0
	t.driving = false
	t.steps = nil
	t.cur = nil
	t.conn = nil
	t.pending = nil
	t.latched = false
	t.countdown = 0
}

func (t *Target) release() {
	t.state = stateIdle
	t.lines = 0
	t.driving = false
	t.cur = nil
	t.steps = nil
	t.conn = nil
	if t.bus.conn == t {
		t.bus.conn = nil
	}
	pkg.LogDebug(pkg.ComponentSim, "bus free", "target", t.ID)
}

// selected is called once the initiator releases SEL after selection.
func (t *Target) selected() {
	t.state = stateConnected
	t.conn = &nexus{tag: Untagged}
	t.msgBuf = t.msgBuf[:0]
	t.refused = false
	t.aborted = false
	t.steps = []*step{t.commandStep()}
	t.advance()
}

// reselected is called once the initiator releases BSY after reselection.
func (t *Target) reselected() {
	t.state = stateConnected
	n := t.conn
	t.msgBuf = t.msgBuf[:0]
	t.refused = false
	t.aborted = false

	id := []byte{msgIdentify | n.lun}
	if n.tag != Untagged {
		tag := byte(n.tag)
		if t.ReselectTag >= 0 {
			tag = byte(t.ReselectTag)
		}
		id = append(id, msgSimpleTag, tag)
	}
	t.steps = append([]*step{{phase: bus.PhaseMessageIn, out: id}}, t.completionSteps(n)...)
	t.advance()
}

func (t *Target) commandStep() *step {
	return &step{
		phase: bus.PhaseCommand,
		want:  1,
		done:  t.executeCommand,
	}
}

func (t *Target) messageOutStep() *step {
	return &step{
		phase: bus.PhaseMessageOut,
		done:  t.messageOutDone,
	}
}

// advance moves to the next phase, or frees the bus when none remain.
func (t *Target) advance() {
	switch {
	case len(t.steps) > 0 && t.steps[0].urgent:
		t.cur, t.steps = t.steps[0], t.steps[1:]
	case t.bus.host.Has(bus.ATN) && (t.cur == nil || t.cur.phase != bus.PhaseMessageOut):
		t.cur = t.messageOutStep()
	case len(t.steps) > 0:
		t.cur, t.steps = t.steps[0], t.steps[1:]
	default:
		t.release()
		return
	}
	t.pos = 0
	t.raise()
}

// attention switches to MESSAGE OUT when the initiator raises ATN before
// the first byte of a phase has moved.
func (t *Target) attention() {
	s := t.cur
	if s == nil || s.phase == bus.PhaseMessageOut || t.pos != 0 || t.latched {
		return
	}
	t.steps = append([]*step{s}, t.steps...)
	t.cur = t.messageOutStep()
	t.raise()
}

// raise requests the next byte of the current phase.
func (t *Target) raise() {
	s := t.cur
	t.lines = bus.BSY | s.phase.Lines() | bus.REQ
	if s.toInitiator() {
		t.data = s.out[t.pos]
		t.driving = true
	} else {
		t.driving = false
	}
}

// acked latches the byte when the initiator asserts ACK.
func (t *Target) acked() {
	if t.cur == nil || t.lines&bus.REQ == 0 {
		return
	}
	if !t.cur.toInitiator() {
		t.cur.in = append(t.cur.in, t.bus.hostData)
	}
	t.lines &^= bus.REQ
	t.latched = true
}

// ackReleased completes the handshake when the initiator releases ACK.
func (t *Target) ackReleased() {
	if !t.latched {
		return
	}
	t.latched = false
	s := t.cur
	t.pos++

	var finished bool
	switch s.phase {
	case bus.PhaseMessageOut:
		t.messageOutByte(s)
		finished = s.end || !t.bus.host.Has(bus.ATN)
	case bus.PhaseCommand:
		if t.pos == 1 {
			s.want = cdbLength(s.in[0])
		}
		finished = t.pos >= s.want
	case bus.PhaseDataOut:
		finished = t.pos >= s.want
	default:
		finished = s.end || t.pos >= len(s.out)
	}

	if !finished {
		t.raise()
		return
	}
	if s.done != nil {
		s.done(s)
	}
	if t.state == stateConnected {
		t.advance()
	}
}

// messageOutByte inspects MESSAGE OUT bytes as each message completes.
func (t *Target) messageOutByte(s *step) {
	t.msgBuf = append(t.msgBuf, s.in[len(s.in)-1])
	if n := messageLength(t.msgBuf); n == 0 || len(t.msgBuf) < n {
		return
	}
	msg := t.msgBuf
	t.msgBuf = nil

	if t.refused {
		return
	}
	switch {
	case msg[0] == msgAbort:
		t.aborted = true
		s.end = true
	case msg[0]&msgIdentify != 0:
		if t.RejectIdentify {
			t.reject(s)
			return
		}
		t.conn.lun = msg[0] & 0x07
		t.conn.discPriv = msg[0]&msgIdentifyDisc != 0
	case msg[0] == msgSimpleTag:
		if t.RejectTags {
			t.reject(s)
			return
		}
		t.conn.tag = int(msg[1])
	}
}

func (t *Target) reject(s *step) {
	pkg.LogDebug(pkg.ComponentSim, "rejecting message", "target", t.ID)
	t.refused = true
	s.end = true
	t.steps = []*step{{phase: bus.PhaseMessageIn, out: []byte{msgReject}, urgent: true}}
}

func (t *Target) messageOutDone(s *step) {
	switch {
	case t.aborted:
		pkg.LogDebug(pkg.ComponentSim, "aborted", "target", t.ID, "tag", t.conn.tag)
		t.steps = nil
	case t.refused && !s.end:
		// the initiator finished sending after our REJECT; drop the nexus
		t.steps = nil
	}
}

func (t *Target) executeCommand(s *step) {
	n := t.conn
	cmd := &Command{LUN: n.lun, Tag: n.tag, CDB: append([]byte(nil), s.in...)}
	n.cmd = cmd
	if t.Handler != nil {
		n.resp = t.Handler.Execute(cmd)
	} else {
		n.resp = Response{Status: StatusCheckCondition}
	}

	pkg.LogDebug(pkg.ComponentSim, "command",
		"target", t.ID, "lun", n.lun, "tag", n.tag, "opcode", cmd.CDB[0])

	if t.Disconnect && n.discPriv && n.tag != Untagged {
		t.steps = []*step{{
			phase: bus.PhaseMessageIn,
			out:   []byte{msgSaveDataPointer, msgDisconnect},
			done: func(*step) {
				t.pending = append(t.pending, n)
				t.countdown = t.ReselectDelay
			},
		}}
		return
	}
	t.steps = t.completionSteps(n)
}

func (t *Target) completionSteps(n *nexus) []*step {
	var steps []*step
	switch {
	case len(n.resp.Data) > 0:
		steps = append(steps, &step{phase: bus.PhaseDataIn, out: n.resp.Data})
	case n.resp.DataOut > 0:
		steps = append(steps, &step{
			phase: bus.PhaseDataOut,
			want:  n.resp.DataOut,
			done: func(s *step) {
				n.cmd.DataOut = append([]byte(nil), s.in...)
				if n.resp.Receive != nil {
					n.resp.Receive(n.cmd.DataOut)
				}
			},
		})
	}
	return append(steps,
		&step{phase: bus.PhaseStatus, out: []byte{n.resp.Status}},
		&step{
			phase: bus.PhaseMessageIn,
			out:   []byte{msgComplete},
			done:  func(*step) { t.commands = append(t.commands, *n.cmd) },
		},
	)
}

// startReselection arbitrates and drives SEL, I/O and both IDs.
func (t *Target) startReselection() {
	t.conn, t.pending = t.pending[0], t.pending[1:]
	t.state = stateReselecting
	t.lines = bus.SEL | bus.IO
	t.data = bus.IDMask(t.ID) | bus.IDMask(t.bus.HostID)
	t.driving = true
	t.countdown = t.ReselectTimeout
	t.bus.conn = t
	pkg.LogDebug(pkg.ComponentSim, "reselecting", "target", t.ID, "tag", t.conn.tag)
}

// abandonReselection puts the command back in the queue and frees the bus.
func (t *Target) abandonReselection() {
	n := t.conn
	t.release()
	t.pending = append([]*nexus{n}, t.pending...)
	t.countdown = t.ReselectDelay
	pkg.LogDebug(pkg.ComponentSim, "reselection timeout", "target", t.ID)
}

// cdbLength returns the CDB size implied by the operation code's group.
func cdbLength(opcode byte) int {
	switch opcode >> 5 {
	case 1, 2:
		return 10
	case 4:
		return 16
	case 5:
		return 12
	default:
		return 6
	}
}

func messageLength(msg []byte) int {
	switch {
	case msg[0] == msgExtended:
		if len(msg) < 2 {
			return 2
		}
		return int(msg[1]) + 2
	case msg[0] >= 0x20 && msg[0] <= 0x2F:
		return 2
	default:
		return 1
	}
}
