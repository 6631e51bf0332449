package msc

import (
	"encoding/binary"

	"github.com/ardnew/uasbridge/pkg"
)

// CommandBlockWrapper represents a Command Block Wrapper in Bulk-Only Transport.
type CommandBlockWrapper struct {
	Signature          uint32   // Must be CBWSignature (0x43425355)
	Tag                uint32   // Command block tag
	DataTransferLength uint32   // Number of bytes to transfer in data phase
	Flags              uint8    // Direction flag (bit 7: 0=Out, 1=In)
	LUN                uint8    // Logical Unit Number (bits 0-3)
	CBLength           uint8    // Command block length (1-16)
	CB                 [16]byte // Command block (SCSI CDB)
}

// ParseCBW parses a Command Block Wrapper from raw bytes.
// It returns [pkg.ErrShortRequest] if data is shorter than [CBWSize] and
// [pkg.ErrBadSignature] if the signature does not match.
func ParseCBW(data []byte, out *CommandBlockWrapper) error {
	if len(data) < CBWSize {
		return pkg.ErrShortRequest
	}

	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CBWSignature {
		return pkg.ErrBadSignature
	}

	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataTransferLength = binary.LittleEndian.Uint32(data[8:12])
	out.Flags = data[12]
	out.LUN = data[13] & 0x0F
	out.CBLength = data[14] & 0x1F
	copy(out.CB[:], data[15:31])

	return nil
}

// MarshalTo writes the wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (cbw *CommandBlockWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CBWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], cbw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], cbw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], cbw.DataTransferLength)
	buf[12] = cbw.Flags
	buf[13] = cbw.LUN & 0x0F
	buf[14] = cbw.CBLength & 0x1F
	copy(buf[15:31], cbw.CB[:])

	return CBWSize
}

// NewCBW creates a wrapper for cdb expecting length bytes of data.
func NewCBW(tag uint32, lun uint8, length uint32, in bool, cdb []byte) *CommandBlockWrapper {
	cbw := &CommandBlockWrapper{
		Signature:          CBWSignature,
		Tag:                tag,
		DataTransferLength: length,
		LUN:                lun,
	}
	if in {
		cbw.Flags = CBWFlagDataIn
	}
	cbw.CBLength = uint8(copy(cbw.CB[:], cdb))
	return cbw
}

// IsDataIn returns true if the data phase is device-to-host (IN).
func (cbw *CommandBlockWrapper) IsDataIn() bool {
	return cbw.Flags&CBWFlagDataIn != 0
}

// CommandStatusWrapper represents a Command Status Wrapper in Bulk-Only Transport.
type CommandStatusWrapper struct {
	Signature   uint32 // Must be CSWSignature (0x53425355)
	Tag         uint32 // Must match the CBW tag
	DataResidue uint32 // Difference between expected and actual data transfer
	Status      uint8  // Command status (CSWStatus*)
}

// MarshalTo writes the Command Status Wrapper to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (csw *CommandStatusWrapper) MarshalTo(buf []byte) int {
	if len(buf) < CSWSize {
		return 0
	}

	binary.LittleEndian.PutUint32(buf[0:4], csw.Signature)
	binary.LittleEndian.PutUint32(buf[4:8], csw.Tag)
	binary.LittleEndian.PutUint32(buf[8:12], csw.DataResidue)
	buf[12] = csw.Status

	return CSWSize
}

// ParseCSW parses a Command Status Wrapper from raw bytes.
func ParseCSW(data []byte, out *CommandStatusWrapper) error {
	if len(data) < CSWSize {
		return pkg.ErrShortRequest
	}
	out.Signature = binary.LittleEndian.Uint32(data[0:4])
	if out.Signature != CSWSignature {
		return pkg.ErrBadSignature
	}
	out.Tag = binary.LittleEndian.Uint32(data[4:8])
	out.DataResidue = binary.LittleEndian.Uint32(data[8:12])
	out.Status = data[12]
	return nil
}

// NewCSW creates a status wrapper for a command that expected expected bytes
// and moved actual. The residue is clamped at zero; any nonzero SCSI status
// maps to [CSWStatusFailed].
func NewCSW(tag, expected, actual uint32, status uint8) *CommandStatusWrapper {
	csw := &CommandStatusWrapper{
		Signature: CSWSignature,
		Tag:       tag,
		Status:    CSWStatusGood,
	}
	if expected > actual {
		csw.DataResidue = expected - actual
	}
	if status != 0 {
		csw.Status = CSWStatusFailed
	}
	return csw
}
