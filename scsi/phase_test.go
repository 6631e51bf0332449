package scsi

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ardnew/uasbridge/bus"
	"github.com/ardnew/uasbridge/pkg"
)

// mockTransceiver holds fixed line levels and records every drive call.
type mockTransceiver struct {
	lines bus.Signal
	data  uint8
	calls []string
}

func (m *mockTransceiver) Lines() bus.Signal { return m.lines }
func (m *mockTransceiver) Assert(bus.Signal) { m.calls = append(m.calls, "assert") }
func (m *mockTransceiver) Release(bus.Signal) { m.calls = append(m.calls, "release") }
func (m *mockTransceiver) Data() uint8 { return m.data }
func (m *mockTransceiver) WriteData(uint8, bool) { m.calls = append(m.calls, "write") }
func (m *mockTransceiver) ReleaseData() { m.calls = append(m.calls, "release data") }
func (m *mockTransceiver) Delay(time.Duration) {}

func TestDispatchReservedPhase(t *testing.T) {
	for _, p := range []bus.Phase{bus.PhaseReserved2, bus.PhaseReserved3} {
		m := &mockTransceiver{lines: bus.BSY | bus.REQ | p.Lines()}
		e, err := New(testConfig(ModeUAS), m, nil)
		if err != nil {
			t.Fatal(err)
		}
		x := &xfer{target: 0}
		if err := e.dispatch(context.Background(), x); !errors.Is(err, pkg.ErrUnknownPhase) {
			t.Errorf("%v: dispatch() = %v; want ErrUnknownPhase", p, err)
		}
		if len(m.calls) != 0 {
			t.Errorf("%v: bus touched: %v", p, m.calls)
		}
	}
}

func TestDispatchBusFree(t *testing.T) {
	m := &mockTransceiver{lines: bus.REQ | bus.CD}
	e, err := New(testConfig(ModeUAS), m, nil)
	if err != nil {
		t.Fatal(err)
	}
	if err := e.dispatch(context.Background(), &xfer{}); !errors.Is(err, pkg.ErrDisconnected) {
		t.Errorf("dispatch() = %v; want ErrDisconnected", err)
	}
}

func TestPhaseLinesRoundTrip(t *testing.T) {
	m := &mockTransceiver{}
	e, _ := New(testConfig(ModeUAS), m, nil)
	for p := bus.Phase(0); p < 8; p++ {
		m.lines = bus.BSY | p.Lines()
		if got := e.phase(); got != p {
			t.Errorf("phase() = %v; want %v", got, p)
		}
	}
}
