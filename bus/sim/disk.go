package sim

import (
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ardnew/uasbridge/pkg"
)

// SCSI operation codes handled by [Disk].
const (
	opTestUnitReady  = 0x00
	opRequestSense   = 0x03
	opInquiry        = 0x12
	opReadCapacity10 = 0x25
	opRead10         = 0x28
	opWrite10        = 0x2A
)

// Sense keys and additional sense codes reported by [Disk].
const (
	senseDataProtect    = 0x07
	senseIllegalRequest = 0x05
	senseMediumError    = 0x03

	ascInvalidOpcode = 0x20
	ascLBAOutOfRange = 0x21
	ascWriteProtect  = 0x27
	ascUnrecovered   = 0x11
)

// Disk is a direct-access device for simulated targets.
type Disk struct {
	mutex   sync.Mutex
	storage Storage
	sense   [3]byte // key, ASC, ASCQ of the last failure
}

// NewDisk creates a RAM disk of blocks × blockSize bytes.
func NewDisk(blocks, blockSize int) *Disk {
	return NewDiskOn(NewMemoryStorage(blocks, blockSize))
}

// NewDiskOn creates a disk on s.
func NewDiskOn(s Storage) *Disk {
	return &Disk{storage: s}
}

// Storage returns the disk's medium.
func (d *Disk) Storage() Storage {
	return d.storage
}

// Bytes returns a copy of the whole medium.
func (d *Disk) Bytes() []byte {
	s := d.storage
	buf := make([]byte, s.Blocks()*s.BlockSize())
	if err := s.ReadBlocks(0, s.Blocks(), buf); err != nil {
		pkg.LogWarn(pkg.ComponentSim, "medium read failed", "error", err)
	}
	return buf
}

// Execute implements [Handler].
func (d *Disk) Execute(cmd *Command) Response {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	cdb := cmd.CDB
	switch cdb[0] {
	case opTestUnitReady:
		return d.good(nil)

	case opRequestSense:
		rs := make([]byte, 18)
		rs[0] = 0x70
		rs[2] = d.sense[0]
		rs[7] = 10
		rs[12] = d.sense[1]
		rs[13] = d.sense[2]
		d.sense = [3]byte{}
		return Response{Data: rs[:min(int(cdb[4]), len(rs))]}

	case opInquiry:
		inq := make([]byte, 36)
		inq[2] = 0x02 // SCSI-2
		inq[3] = 0x02
		inq[4] = 31
		inq[7] = 0x02 // CmdQue
		copy(inq[8:], "UASBRDG ")
		copy(inq[16:], "SIM DISK        ")
		copy(inq[32:], "0001")
		return d.good(inq[:min(int(cdb[4]), len(inq))])

	case opReadCapacity10:
		rc := make([]byte, 8)
		binary.BigEndian.PutUint32(rc[0:], uint32(d.storage.Blocks()-1))
		binary.BigEndian.PutUint32(rc[4:], uint32(d.storage.BlockSize()))
		return d.good(rc)

	case opRead10:
		lba, n := extent(cdb)
		buf := make([]byte, n*d.storage.BlockSize())
		if err := d.storage.ReadBlocks(lba, n, buf); err != nil {
			return d.failed(err)
		}
		return d.good(buf)

	case opWrite10:
		lba, n := extent(cdb)
		if lba+n > d.storage.Blocks() {
			return d.fail(senseIllegalRequest, ascLBAOutOfRange)
		}
		if d.storage.ReadOnly() {
			return d.fail(senseDataProtect, ascWriteProtect)
		}
		return Response{
			DataOut: n * d.storage.BlockSize(),
			Receive: func(b []byte) {
				if err := d.storage.WriteBlocks(lba, n, b); err != nil {
					pkg.LogWarn(pkg.ComponentSim, "medium write failed", "lba", lba, "error", err)
				}
			},
		}
	}
	return d.fail(senseIllegalRequest, ascInvalidOpcode)
}

func extent(cdb []byte) (lba, n int) {
	return int(binary.BigEndian.Uint32(cdb[2:6])), int(binary.BigEndian.Uint16(cdb[7:9]))
}

func (d *Disk) good(data []byte) Response {
	d.sense = [3]byte{}
	return Response{Data: data, Status: StatusGood}
}

func (d *Disk) fail(key, asc byte) Response {
	d.sense = [3]byte{key, asc, 0}
	return Response{Status: StatusCheckCondition}
}

func (d *Disk) failed(err error) Response {
	if errors.Is(err, ErrOutOfRange) {
		return d.fail(senseIllegalRequest, ascLBAOutOfRange)
	}
	return d.fail(senseMediumError, ascUnrecovered)
}
