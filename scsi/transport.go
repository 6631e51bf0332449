package scsi

import (
	"context"
	"fmt"

	"github.com/ardnew/uasbridge/pkg"
	"github.com/ardnew/uasbridge/usb"
	"github.com/ardnew/uasbridge/usb/class/msc"
	"github.com/ardnew/uasbridge/usb/class/uas"
)

// OpReportLuns is the REPORT LUNS operation code.
const OpReportLuns = 0xA0

// reportLunsSize is the synthetic REPORT LUNS reply: a list length of 8
// followed by one all-zero LUN entry.
const reportLunsSize = 8

// request is an inbound command descriptor in transport-neutral form.
type request struct {
	hostTag  uint32
	lun      uint8
	cdb      [16]byte
	expected uint32
}

// transport adapts the engine to one USB mass-storage protocol.
type transport interface {
	// parse decodes a command descriptor received from the host.
	parse(buf []byte, req *request) error

	// intercept answers req without the bus and reports whether it did.
	intercept(ctx context.Context, req *request) (bool, error)

	readReady(ctx context.Context, hostTag uint32) error
	writeReady(ctx context.Context, hostTag uint32) error

	// status reports command completion to the host.
	status(ctx context.Context, hostTag, expected, actual uint32, status uint8) error

	// dataOutQueue is where write data from the host arrives.
	dataOutQueue() usb.QueueID
}

type marshaler interface {
	MarshalTo(buf []byte) int
}

// send marshals m into a transmit frame and submits it on ep.
func send(ctx context.Context, fs FrameService, ep uint8, m marshaler) error {
	f, err := fs.Acquire(ctx, usb.TxFree)
	if err != nil {
		return err
	}
	n := 0
	if m != nil {
		if n = m.MarshalTo(f.Bytes()); n == 0 {
			fs.Release(usb.TxFree, f)
			return pkg.ErrBufferTooSmall
		}
	}
	if err := fs.Transmit(ep, f, n); err != nil {
		fs.Release(usb.TxFree, f)
		return fmt.Errorf("transmit on %#02x: %w", ep, err)
	}
	return nil
}

// reportLuns is the fixed reply to REPORT LUNS.
type reportLuns struct{}

func (reportLuns) MarshalTo(buf []byte) int {
	if len(buf) < reportLunsSize {
		return 0
	}
	clear(buf[:reportLunsSize])
	buf[3] = reportLunsSize
	return reportLunsSize
}

// uasTransport speaks USB Attached SCSI: commands and status on their own
// pipes, data announced per tag with READ READY and WRITE READY.
type uasTransport struct {
	fs FrameService
}

func (u *uasTransport) parse(buf []byte, req *request) error {
	var iu uas.CommandIU
	if err := uas.ParseCommandIU(buf, &iu); err != nil {
		return err
	}
	*req = request{hostTag: uint32(iu.Tag), lun: iu.Lun(), cdb: iu.CDB}
	return nil
}

func (u *uasTransport) intercept(ctx context.Context, req *request) (bool, error) {
	if req.cdb[0] != OpReportLuns {
		return false, nil
	}
	pkg.LogDebug(pkg.ComponentUAS, "report luns", "hostTag", req.hostTag)
	if err := u.readReady(ctx, req.hostTag); err != nil {
		return true, err
	}
	if err := send(ctx, u.fs, usb.EPDataIn, reportLuns{}); err != nil {
		return true, err
	}
	return true, u.status(ctx, req.hostTag, 0, 0, StatusGood)
}

func (u *uasTransport) readReady(ctx context.Context, hostTag uint32) error {
	return send(ctx, u.fs, usb.EPStatus, uas.NewReadReady(uint16(hostTag)))
}

func (u *uasTransport) writeReady(ctx context.Context, hostTag uint32) error {
	return send(ctx, u.fs, usb.EPStatus, uas.NewWriteReady(uint16(hostTag)))
}

func (u *uasTransport) status(ctx context.Context, hostTag, _, _ uint32, status uint8) error {
	pkg.LogDebug(pkg.ComponentUAS, "sense", "hostTag", hostTag, "status", status)
	return send(ctx, u.fs, usb.EPStatus, uas.NewSenseIU(uint16(hostTag), status))
}

func (u *uasTransport) dataOutQueue() usb.QueueID {
	return usb.RxDataOut
}

// botTransport speaks Bulk-Only Transport: one command at a time, with
// write data on the command pipe and status on the data-in pipe.
type botTransport struct {
	fs FrameService
}

func (b *botTransport) parse(buf []byte, req *request) error {
	var cbw msc.CommandBlockWrapper
	if err := msc.ParseCBW(buf, &cbw); err != nil {
		return err
	}
	*req = request{
		hostTag:  cbw.Tag,
		lun:      cbw.LUN,
		cdb:      cbw.CB,
		expected: cbw.DataTransferLength,
	}
	return nil
}

func (b *botTransport) intercept(context.Context, *request) (bool, error) {
	return false, nil
}

func (b *botTransport) readReady(context.Context, uint32) error {
	return nil
}

func (b *botTransport) writeReady(context.Context, uint32) error {
	return nil
}

func (b *botTransport) status(ctx context.Context, hostTag, expected, actual uint32, status uint8) error {
	// a failed command that moved less than the host expected ends its data
	// stage with a zero-length packet
	if status != StatusGood && expected != actual {
		if err := send(ctx, b.fs, usb.EPDataIn, nil); err != nil {
			return err
		}
	}
	csw := msc.NewCSW(hostTag, expected, actual, status)
	pkg.LogDebug(pkg.ComponentMSC, "csw",
		"tag", hostTag, "residue", csw.DataResidue, "status", csw.Status)
	return send(ctx, b.fs, usb.EPDataIn, csw)
}

func (b *botTransport) dataOutQueue() usb.QueueID {
	return usb.RxCommand
}
