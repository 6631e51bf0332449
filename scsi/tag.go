package scsi

import (
	"github.com/ardnew/uasbridge/pkg"
)

// TagCapacity is the number of commands that may be in flight at once.
const TagCapacity = 256

// Tag is one in-flight command.
type Tag struct {
	HostTag uint32 // tag chosen by the USB host
	Index   uint8  // queue tag sent to the target

	valid          bool
	readReadySent  bool
	writeReadySent bool

	lun      uint8
	expected uint32
}

// TagTable maps target queue tags to host tags. Allocation takes the oldest
// free index, so a released slot is reused last.
type TagTable struct {
	entries [TagCapacity]Tag
	free    [TagCapacity]uint8
	head    int
	nfree   int
	byHost  map[uint32]uint8
}

// NewTagTable creates an empty table.
func NewTagTable() *TagTable {
	t := &TagTable{}
	t.Reset()
	return t
}

// Reset releases every tag.
func (t *TagTable) Reset() {
	for i := range t.entries {
		t.entries[i] = Tag{Index: uint8(i)}
		t.free[i] = uint8(i)
	}
	t.head = 0
	t.nfree = TagCapacity
	t.byHost = make(map[uint32]uint8)
}

// Allocate reserves a slot for hostTag.
func (t *TagTable) Allocate(hostTag uint32) (*Tag, error) {
	if _, dup := t.byHost[hostTag]; dup {
		return nil, pkg.ErrTagInUse
	}
	if t.nfree == 0 {
		return nil, pkg.ErrTagExhausted
	}
	idx := t.free[t.head]
	t.head = (t.head + 1) % TagCapacity
	t.nfree--

	e := &t.entries[idx]
	*e = Tag{HostTag: hostTag, Index: idx, valid: true}
	t.byHost[hostTag] = idx
	pkg.LogDebug(pkg.ComponentTag, "allocated", "hostTag", hostTag, "index", idx)
	return e, nil
}

// Lookup returns the valid entry at index.
func (t *TagTable) Lookup(index uint8) (*Tag, bool) {
	e := &t.entries[index]
	if !e.valid {
		return nil, false
	}
	return e, true
}

// Release frees the slot at index. Releasing a free slot does nothing.
func (t *TagTable) Release(index uint8) {
	e := &t.entries[index]
	if !e.valid {
		return
	}
	delete(t.byHost, e.HostTag)
	pkg.LogDebug(pkg.ComponentTag, "released", "hostTag", e.HostTag, "index", index)
	*e = Tag{Index: index}
	t.free[(t.head+t.nfree)%TagCapacity] = index
	t.nfree++
}

// Len returns the number of tags in flight.
func (t *TagTable) Len() int {
	return TagCapacity - t.nfree
}
