package scsi

import (
	"bytes"
	"errors"
	"log/slog"
	"math/rand"
	"strings"
	"testing"

	"github.com/ardnew/uasbridge/pkg"
)

func TestTagAllocateRelease(t *testing.T) {
	tt := NewTagTable()

	a, err := tt.Allocate(100)
	if err != nil {
		t.Fatal(err)
	}
	b, err := tt.Allocate(200)
	if err != nil {
		t.Fatal(err)
	}
	if a.Index == b.Index {
		t.Fatalf("two tags share index %d", a.Index)
	}
	if tt.Len() != 2 {
		t.Errorf("Len() = %d; want 2", tt.Len())
	}

	got, ok := tt.Lookup(b.Index)
	if !ok || got.HostTag != 200 {
		t.Errorf("Lookup(%d) = %+v, %v", b.Index, got, ok)
	}

	tt.Release(a.Index)
	tt.Release(a.Index)
	if tt.Len() != 1 {
		t.Errorf("Len() = %d after double release; want 1", tt.Len())
	}
	if _, ok := tt.Lookup(a.Index); ok {
		t.Error("released tag still valid")
	}

	// the host may reuse a tag once it is released
	if _, err := tt.Allocate(100); err != nil {
		t.Errorf("Allocate(100) after release = %v", err)
	}
}

func TestTagInUse(t *testing.T) {
	tt := NewTagTable()
	if _, err := tt.Allocate(7); err != nil {
		t.Fatal(err)
	}
	if _, err := tt.Allocate(7); !errors.Is(err, pkg.ErrTagInUse) {
		t.Errorf("duplicate Allocate() = %v; want ErrTagInUse", err)
	}
}

func TestTagExhaustion(t *testing.T) {
	tt := NewTagTable()
	for i := 0; i < TagCapacity; i++ {
		if _, err := tt.Allocate(uint32(i)); err != nil {
			t.Fatalf("Allocate(%d) = %v", i, err)
		}
	}
	if _, err := tt.Allocate(TagCapacity); !errors.Is(err, pkg.ErrTagExhausted) {
		t.Fatalf("Allocate on full table = %v; want ErrTagExhausted", err)
	}

	tt.Release(42)
	tag, err := tt.Allocate(9999)
	if err != nil {
		t.Fatalf("Allocate after release = %v", err)
	}
	if tag.Index != 42 {
		t.Errorf("reused index %d; want 42", tag.Index)
	}

	tt.Reset()
	if tt.Len() != 0 {
		t.Errorf("Len() after Reset = %d", tt.Len())
	}
}

func TestTagRandomSequence(t *testing.T) {
	rng := rand.New(rand.NewSource(1))
	tt := NewTagTable()
	live := make(map[uint32]uint8)

	for i := 0; i < 20000; i++ {
		host := uint32(rng.Intn(400))
		if idx, ok := live[host]; ok {
			if rng.Intn(2) == 0 {
				tt.Release(idx)
				delete(live, host)
				continue
			}
			if _, err := tt.Allocate(host); !errors.Is(err, pkg.ErrTagInUse) {
				t.Fatalf("step %d: duplicate host tag %d admitted: %v", i, host, err)
			}
			continue
		}

		tag, err := tt.Allocate(host)
		if len(live) == TagCapacity {
			if !errors.Is(err, pkg.ErrTagExhausted) {
				t.Fatalf("step %d: Allocate on full table = %v", i, err)
			}
			continue
		}
		if err != nil {
			t.Fatalf("step %d: Allocate(%d) = %v with %d live", i, host, err, len(live))
		}
		live[host] = tag.Index
	}

	seen := make(map[uint32]bool)
	for i := 0; i < TagCapacity; i++ {
		tag, ok := tt.Lookup(uint8(i))
		if !ok {
			continue
		}
		if seen[tag.HostTag] {
			t.Fatalf("host tag %d valid twice", tag.HostTag)
		}
		seen[tag.HostTag] = true
	}
	if len(seen) != len(live) || tt.Len() != len(live) {
		t.Errorf("table holds %d tags (Len %d); want %d", len(seen), tt.Len(), len(live))
	}
}

func TestSessionDegradation(t *testing.T) {
	s := NewSession(DefaultHostID)
	want := Capabilities{Identify: true, Tags: true, Disconnect: true, Sync: true}
	if s.Capabilities() != want {
		t.Fatalf("initial capabilities = %+v", s.Capabilities())
	}
	if s.Bound() {
		t.Error("new session bound")
	}

	s.DisableTags()
	s.Reset()
	s.Bind(3)
	if s.Capabilities().Tags {
		t.Error("tags re-enabled by reset")
	}
	s.DisableIdentify()
	s.DisableIdentify()
	if c := s.Capabilities(); c.Identify || c.Tags || !c.Disconnect {
		t.Errorf("capabilities = %+v", c)
	}
	if s.Target() != 3 || s.HostMask() != 0x80 {
		t.Errorf("target %d mask %#x", s.Target(), s.HostMask())
	}
}

func TestSessionLogsEachDowngradeOnce(t *testing.T) {
	var buf bytes.Buffer
	original := pkg.DefaultLogger
	level := pkg.GetLogLevel()
	defer func() {
		pkg.SetLogger(original)
		pkg.SetLogLevel(level)
	}()
	pkg.SetLogLevel(slog.LevelInfo)
	pkg.SetLogger(pkg.NewLogger(&buf, &slog.HandlerOptions{Level: slog.LevelInfo}))

	s := NewSession(DefaultHostID)
	for i := 0; i < 2; i++ {
		s.DisableIdentify()
		s.DisableTags()
		s.DisableDisconnect()
	}

	out := buf.String()
	for _, msg := range []string{"identify disabled", "tagged queuing disabled", "disconnect disabled"} {
		if n := strings.Count(out, msg); n != 1 {
			t.Errorf("%q logged %d times; want 1", msg, n)
		}
	}
	if s.Capabilities().Disconnect {
		t.Error("disconnect still enabled")
	}
}
