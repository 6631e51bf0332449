package scsi

// xfer is one logical command as it crosses the bus.
type xfer struct {
	target int
	lun    uint8
	cdb    [16]byte
	cdbPos int

	tag     *Tag
	hostTag uint32

	out      [16]byte
	outCount int
	outPos   int

	in      [16]byte
	inCount int

	expected uint32
	actual   uint32

	status     uint8
	statusSent bool

	disconnectOK bool
	retry        bool
	completed    bool
	aborted      bool
}

// newXfer creates the transfer for an admitted request.
func newXfer(req *request, tag *Tag) *xfer {
	return &xfer{
		target:   Unbound,
		lun:      req.lun,
		cdb:      req.cdb,
		tag:      tag,
		hostTag:  req.hostTag,
		expected: req.expected,
	}
}

// bind attaches x to a tag resolved from a target's queue tag message.
func (x *xfer) bind(tag *Tag) {
	x.tag = tag
	x.hostTag = tag.HostTag
	x.expected = tag.expected
	x.lun = tag.lun
}

// rearm clears the per-attempt state.
func (x *xfer) rearm() {
	x.cdbPos = 0
	x.inCount = 0
	x.actual = 0
	x.retry = false
	x.disconnectOK = false
}
