package sim

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/ardnew/uasbridge/bus"
)

const testHost = 7

// initiator is a minimal hand-driven initiator for exercising targets.
type initiator struct {
	t *testing.T
	b *Bus
}

func (in *initiator) await(cond func(bus.Signal) bool) bus.Signal {
	in.t.Helper()
	s, err := bus.Await(in.b, cond, 1000, 0)
	if err != nil {
		in.t.Fatalf("await: %v (lines %v)", err, s)
	}
	return s
}

func (in *initiator) selectTarget(id int, atn bool) bool {
	in.b.Assert(bus.BSY)
	bus.Drive(in.b, bus.IDMask(testHost))
	in.b.Assert(bus.SEL)
	if atn {
		in.b.Assert(bus.ATN)
	}
	bus.Drive(in.b, bus.IDMask(testHost)|bus.IDMask(id))
	in.b.Release(bus.BSY)
	if _, err := bus.Await(in.b, bus.Asserted(bus.BSY), 50, 0); err != nil {
		in.b.Release(bus.SEL | bus.ATN)
		in.b.ReleaseData()
		return false
	}
	in.b.Release(bus.SEL)
	in.b.ReleaseData()
	return true
}

// phase waits for REQ and returns the requested phase, or false at bus free.
func (in *initiator) phase() (bus.Phase, bool) {
	in.t.Helper()
	s := in.await(func(s bus.Signal) bool { return s.Has(bus.REQ) || !s.Has(bus.BSY) })
	if !s.Has(bus.BSY) {
		return 0, false
	}
	return bus.PhaseOf(s), true
}

func (in *initiator) read() byte {
	in.t.Helper()
	in.await(bus.Asserted(bus.REQ))
	v := in.b.Data()
	in.b.Assert(bus.ACK)
	in.await(bus.Released(bus.REQ))
	in.b.Release(bus.ACK)
	return v
}

func (in *initiator) write(v byte, last bool) {
	in.t.Helper()
	in.await(bus.Asserted(bus.REQ))
	if last {
		in.b.Release(bus.ATN)
	}
	bus.Drive(in.b, v)
	in.b.Assert(bus.ACK)
	in.await(bus.Released(bus.REQ))
	in.b.Release(bus.ACK)
	in.b.ReleaseData()
}

func newBus(targets ...*Target) *Bus {
	b := New(testHost)
	for _, t := range targets {
		b.Attach(t)
	}
	return b
}

func TestSelectAbsentTarget(t *testing.T) {
	b := newBus(NewTarget(2, NewDisk(4, 512)))
	in := &initiator{t: t, b: b}
	if in.selectTarget(3, false) {
		t.Fatal("absent target answered selection")
	}
	if !b.Free() {
		t.Error("bus not free after failed selection")
	}
}

func TestSelectDelay(t *testing.T) {
	tgt := NewTarget(1, NewDisk(4, 512))
	tgt.SelectDelay = 10
	b := newBus(tgt)
	in := &initiator{t: t, b: b}
	if !in.selectTarget(1, false) {
		t.Fatal("target did not answer selection")
	}
	if p, ok := in.phase(); !ok || p != bus.PhaseCommand {
		t.Fatalf("phase = %v, %v; want COMMAND", p, ok)
	}
}

func TestUntaggedRead(t *testing.T) {
	disk := NewDisk(4, 512)
	tgt := NewTarget(0, disk)
	b := newBus(tgt)
	in := &initiator{t: t, b: b}

	if !in.selectTarget(0, false) {
		t.Fatal("selection failed")
	}

	var got []byte
	var status byte
	var msgs []byte
	cdb := []byte{opInquiry, 0, 0, 0, 36, 0}
	for {
		p, ok := in.phase()
		if !ok {
			break
		}
		switch p {
		case bus.PhaseCommand:
			for i, c := range cdb {
				in.write(c, i == len(cdb)-1)
			}
		case bus.PhaseDataIn:
			got = append(got, in.read())
		case bus.PhaseStatus:
			status = in.read()
		case bus.PhaseMessageIn:
			msgs = append(msgs, in.read())
		default:
			t.Fatalf("unexpected phase %v", p)
		}
	}

	if len(got) != 36 || !bytes.Equal(got[8:16], []byte("UASBRDG ")) {
		t.Errorf("inquiry data = %q", got)
	}
	if status != StatusGood {
		t.Errorf("status = %#x", status)
	}
	if !bytes.Equal(msgs, []byte{msgComplete}) {
		t.Errorf("messages = %x", msgs)
	}
	cmds := tgt.Commands()
	if len(cmds) != 1 || cmds[0].Tag != Untagged || cmds[0].LUN != 0 {
		t.Errorf("commands = %+v", cmds)
	}
	if !b.Free() {
		t.Error("bus not free")
	}
}

func TestRejectIdentify(t *testing.T) {
	tgt := NewTarget(4, NewDisk(4, 512))
	tgt.RejectIdentify = true
	b := newBus(tgt)
	in := &initiator{t: t, b: b}

	if !in.selectTarget(4, true) {
		t.Fatal("selection failed")
	}
	if p, _ := in.phase(); p != bus.PhaseMessageOut {
		t.Fatalf("phase = %v; want MSG OUT", p)
	}
	in.write(msgIdentify|msgIdentifyDisc, false)

	if p, _ := in.phase(); p != bus.PhaseMessageIn {
		t.Fatalf("phase = %v; want MSG IN", p)
	}
	if m := in.read(); m != msgReject {
		t.Fatalf("message = %#x; want REJECT", m)
	}

	// ATN is still asserted, so the target takes the remaining bytes.
	if p, _ := in.phase(); p != bus.PhaseMessageOut {
		t.Fatalf("phase = %v; want MSG OUT", p)
	}
	in.write(msgNop, false)
	in.write(msgNop, true)

	if _, ok := in.phase(); ok {
		t.Fatal("target kept the bus after rejecting")
	}
	if len(tgt.Commands()) != 0 {
		t.Error("rejected nexus executed a command")
	}
}

func TestDisconnectReselect(t *testing.T) {
	tgt := NewTarget(5, NewDisk(4, 512))
	tgt.Disconnect = true
	tgt.ReselectDelay = 3
	b := newBus(tgt)
	in := &initiator{t: t, b: b}

	if !in.selectTarget(5, true) {
		t.Fatal("selection failed")
	}
	in.phase()
	in.write(msgIdentify|msgIdentifyDisc|2, false)
	in.write(msgSimpleTag, false)
	in.write(0x11, true)

	if p, _ := in.phase(); p != bus.PhaseCommand {
		t.Fatalf("phase = %v; want COMMAND", p)
	}
	for i, c := range []byte{opTestUnitReady, 0, 0, 0, 0, 0} {
		in.write(c, i == 5)
	}
	var msgs []byte
	for {
		p, ok := in.phase()
		if !ok {
			break
		}
		if p != bus.PhaseMessageIn {
			t.Fatalf("phase = %v; want MSG IN", p)
		}
		msgs = append(msgs, in.read())
	}
	if !bytes.Equal(msgs, []byte{msgSaveDataPointer, msgDisconnect}) {
		t.Fatalf("messages = %x", msgs)
	}
	if tgt.Pending() != 1 {
		t.Fatalf("pending = %d", tgt.Pending())
	}

	s := in.await(func(s bus.Signal) bool { return s.Has(bus.SEL | bus.IO) })
	if d := b.Data(); d != bus.IDMask(5)|bus.IDMask(testHost) {
		t.Fatalf("reselection data = %#x (lines %v)", d, s)
	}
	in.b.Assert(bus.BSY)
	in.await(bus.Released(bus.SEL))
	in.b.Release(bus.BSY)

	msgs = msgs[:0]
	var status byte
	for {
		p, ok := in.phase()
		if !ok {
			break
		}
		switch p {
		case bus.PhaseMessageIn:
			msgs = append(msgs, in.read())
		case bus.PhaseStatus:
			status = in.read()
		default:
			t.Fatalf("unexpected phase %v", p)
		}
	}
	want := []byte{msgIdentify | 2, msgSimpleTag, 0x11, msgComplete}
	if !bytes.Equal(msgs, want) {
		t.Errorf("messages = %x; want %x", msgs, want)
	}
	if status != StatusGood {
		t.Errorf("status = %#x", status)
	}
	cmds := tgt.Commands()
	if len(cmds) != 1 || cmds[0].Tag != 0x11 || cmds[0].LUN != 2 {
		t.Errorf("commands = %+v", cmds)
	}
}

func TestReselectionTimeout(t *testing.T) {
	tgt := NewTarget(3, NewDisk(4, 512))
	tgt.ReselectTimeout = 5
	tgt.ReselectDelay = 0
	b := newBus(tgt)
	b.mu.Lock()
	tgt.pending = []*nexus{{tag: 1, cmd: &Command{}}}
	b.mu.Unlock()

	s := b.Lines()
	if !s.Has(bus.SEL | bus.IO) {
		t.Fatalf("lines = %v; want reselection", s)
	}
	for i := 0; i < 5; i++ {
		s = b.Lines()
	}
	if s.Has(bus.SEL) {
		t.Fatalf("lines = %v; reselection not abandoned", s)
	}
	if tgt.Pending() != 1 {
		t.Errorf("pending = %d; want command requeued", tgt.Pending())
	}
}

func TestReset(t *testing.T) {
	tgt := NewTarget(1, NewDisk(4, 512))
	b := newBus(tgt)
	in := &initiator{t: t, b: b}
	if !in.selectTarget(1, false) {
		t.Fatal("selection failed")
	}
	b.Assert(bus.RST)
	b.Release(bus.RST)
	if !b.Free() || b.Lines() != 0 {
		t.Errorf("bus busy after reset: %v", b.Lines())
	}
}

func TestDelayAccumulates(t *testing.T) {
	b := New(testHost)
	b.Delay(bus.DefaultBusSettle)
	b.Delay(bus.DefaultBusSettle)
	if got := b.Now(); got != 2*bus.DefaultBusSettle {
		t.Errorf("Now() = %v", got)
	}
}

func TestDisk(t *testing.T) {
	d := NewDisk(8, 512)

	w := d.Execute(&Command{CDB: []byte{opWrite10, 0, 0, 0, 0, 2, 0, 0, 1, 0}})
	if w.DataOut != 512 || w.Receive == nil {
		t.Fatalf("write response = %+v", w)
	}
	w.Receive(bytes.Repeat([]byte{0xA5}, 512))

	r := d.Execute(&Command{CDB: []byte{opRead10, 0, 0, 0, 0, 2, 0, 0, 1, 0}})
	if r.Status != StatusGood || !bytes.Equal(r.Data, bytes.Repeat([]byte{0xA5}, 512)) {
		t.Errorf("read back mismatch, status %#x", r.Status)
	}

	c := d.Execute(&Command{CDB: []byte{opReadCapacity10, 0, 0, 0, 0, 0, 0, 0, 0, 0}})
	if want := []byte{0, 0, 0, 7, 0, 0, 2, 0}; !bytes.Equal(c.Data, want) {
		t.Errorf("capacity = %x; want %x", c.Data, want)
	}

	bad := d.Execute(&Command{CDB: []byte{opRead10, 0, 0, 0, 0, 8, 0, 0, 1, 0}})
	if bad.Status != StatusCheckCondition {
		t.Errorf("out-of-range read status = %#x", bad.Status)
	}
	sense := d.Execute(&Command{CDB: []byte{opRequestSense, 0, 0, 0, 18, 0}})
	if sense.Data[2] != 0x05 || sense.Data[12] != 0x21 {
		t.Errorf("sense = %x", sense.Data)
	}
}

func TestCDBLength(t *testing.T) {
	tests := []struct {
		opcode byte
		want   int
	}{
		{opTestUnitReady, 6},
		{opInquiry, 6},
		{opRead10, 10},
		{0x5A, 10},
		{0x88, 16},
		{0xA0, 12},
		{0xE0, 6},
	}
	for _, tt := range tests {
		if got := cdbLength(tt.opcode); got != tt.want {
			t.Errorf("cdbLength(%#x) = %d; want %d", tt.opcode, got, tt.want)
		}
	}
}

func TestDiskWriteProtect(t *testing.T) {
	m := NewMemoryStorage(4, 512)
	m.SetReadOnly(true)
	d := NewDiskOn(m)

	w := d.Execute(&Command{CDB: []byte{opWrite10, 0, 0, 0, 0, 0, 0, 0, 1, 0}})
	if w.Status != StatusCheckCondition || w.Receive != nil {
		t.Fatalf("write to protected medium = %+v", w)
	}
	sense := d.Execute(&Command{CDB: []byte{opRequestSense, 0, 0, 0, 18, 0}})
	if sense.Data[2] != senseDataProtect || sense.Data[12] != ascWriteProtect {
		t.Errorf("sense = %x", sense.Data)
	}
}

func TestFileStorage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "disk.img")
	if err := os.WriteFile(path, make([]byte, 4*512+100), 0o644); err != nil {
		t.Fatal(err)
	}
	fs, err := OpenFileStorage(path, 512, false)
	if err != nil {
		t.Fatal(err)
	}
	defer fs.Close()
	if fs.Blocks() != 4 {
		t.Fatalf("Blocks() = %d; want 4", fs.Blocks())
	}

	d := NewDiskOn(fs)
	w := d.Execute(&Command{CDB: []byte{opWrite10, 0, 0, 0, 0, 3, 0, 0, 1, 0}})
	w.Receive(bytes.Repeat([]byte{0x3C}, 512))

	img, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img[3*512:4*512], bytes.Repeat([]byte{0x3C}, 512)) {
		t.Error("image not updated")
	}

	buf := make([]byte, 512)
	if err := fs.ReadBlocks(4, 1, buf); !errors.Is(err, ErrOutOfRange) {
		t.Errorf("ReadBlocks past end = %v; want ErrOutOfRange", err)
	}
}
