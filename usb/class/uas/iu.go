package uas

import (
	"encoding/binary"

	"github.com/ardnew/uasbridge/pkg"
)

// CommandIU is a Command information unit.
type CommandIU struct {
	ID        uint8
	Tag       uint16
	PrioAttr  uint8
	AddCDBLen uint8 // additional CDB length in 4-byte words
	LUN       [8]byte
	CDB       [16]byte
}

// ParseCommandIU parses a Command IU from raw bytes.
// It returns [pkg.ErrShortRequest] if data is shorter than [CommandIUSize] and
// [pkg.ErrBadSignature] if the IU identifier is not [IUCommand].
func ParseCommandIU(data []byte, out *CommandIU) error {
	if len(data) < CommandIUSize {
		return pkg.ErrShortRequest
	}
	if data[0] != IUCommand {
		return pkg.ErrBadSignature
	}
	out.ID = data[0]
	out.Tag = binary.BigEndian.Uint16(data[2:4])
	out.PrioAttr = data[4]
	out.AddCDBLen = data[6] >> 2
	copy(out.LUN[:], data[8:16])
	copy(out.CDB[:], data[16:32])
	return nil
}

// MarshalTo writes the IU to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (iu *CommandIU) MarshalTo(buf []byte) int {
	if len(buf) < CommandIUSize {
		return 0
	}
	buf[0] = IUCommand
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], iu.Tag)
	buf[4] = iu.PrioAttr
	buf[5] = 0
	buf[6] = iu.AddCDBLen << 2
	buf[7] = 0
	copy(buf[8:16], iu.LUN[:])
	copy(buf[16:32], iu.CDB[:])
	return CommandIUSize
}

// NewCommandIU creates a SIMPLE task for cdb on a single-level LUN.
func NewCommandIU(tag uint16, lun uint8, cdb []byte) *CommandIU {
	iu := &CommandIU{ID: IUCommand, Tag: tag, PrioAttr: TaskSimple}
	iu.LUN[1] = lun
	copy(iu.CDB[:], cdb)
	return iu
}

// Lun returns the logical unit addressed by a single-level LUN field.
func (iu *CommandIU) Lun() uint8 {
	return iu.LUN[1]
}

// ResponseIU is a READ READY or WRITE READY information unit.
type ResponseIU struct {
	ID           uint8 // IUReadReady or IUWriteReady
	Tag          uint16
	Info         [3]byte
	ResponseCode uint8
}

// NewReadReady creates a READ READY IU for tag.
func NewReadReady(tag uint16) *ResponseIU {
	return &ResponseIU{ID: IUReadReady, Tag: tag}
}

// NewWriteReady creates a WRITE READY IU for tag.
func NewWriteReady(tag uint16) *ResponseIU {
	return &ResponseIU{ID: IUWriteReady, Tag: tag}
}

// MarshalTo writes the IU to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (iu *ResponseIU) MarshalTo(buf []byte) int {
	if len(buf) < ResponseIUSize {
		return 0
	}
	buf[0] = iu.ID
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], iu.Tag)
	copy(buf[4:7], iu.Info[:])
	buf[7] = iu.ResponseCode
	return ResponseIUSize
}

// ParseResponseIU parses a READ READY or WRITE READY IU.
func ParseResponseIU(data []byte, out *ResponseIU) error {
	if len(data) < 4 {
		return pkg.ErrShortRequest
	}
	if data[0] != IUReadReady && data[0] != IUWriteReady {
		return pkg.ErrBadSignature
	}
	out.ID = data[0]
	out.Tag = binary.BigEndian.Uint16(data[2:4])
	if len(data) >= ResponseIUSize {
		copy(out.Info[:], data[4:7])
		out.ResponseCode = data[7]
	}
	return nil
}

// SenseIU is a Sense information unit.
type SenseIU struct {
	Tag             uint16
	StatusQualifier uint16
	Status          uint8
	Sense           []byte
}

// NewSenseIU creates a Sense IU with no sense data.
func NewSenseIU(tag uint16, status uint8) *SenseIU {
	return &SenseIU{Tag: tag, Status: status}
}

// Size returns the encoded length.
func (iu *SenseIU) Size() int {
	n := len(iu.Sense)
	if n > MaxSenseLength {
		n = MaxSenseLength
	}
	return SenseIUSize + n
}

// MarshalTo writes the IU to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (iu *SenseIU) MarshalTo(buf []byte) int {
	size := iu.Size()
	if len(buf) < size {
		return 0
	}
	buf[0] = IUSense
	buf[1] = 0
	binary.BigEndian.PutUint16(buf[2:4], iu.Tag)
	binary.BigEndian.PutUint16(buf[4:6], iu.StatusQualifier)
	buf[6] = iu.Status
	clear(buf[7:14])
	binary.BigEndian.PutUint16(buf[14:16], uint16(size-SenseIUSize))
	copy(buf[16:size], iu.Sense)
	return size
}

// ParseSenseIU parses a Sense IU. The returned Sense aliases data.
func ParseSenseIU(data []byte, out *SenseIU) error {
	if len(data) < SenseIUSize {
		return pkg.ErrShortRequest
	}
	if data[0] != IUSense {
		return pkg.ErrBadSignature
	}
	out.Tag = binary.BigEndian.Uint16(data[2:4])
	out.StatusQualifier = binary.BigEndian.Uint16(data[4:6])
	out.Status = data[6]
	n := int(binary.BigEndian.Uint16(data[14:16]))
	if SenseIUSize+n > len(data) {
		n = len(data) - SenseIUSize
	}
	out.Sense = data[SenseIUSize : SenseIUSize+n]
	return nil
}
