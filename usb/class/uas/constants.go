package uas

// Information unit identifiers.
const (
	IUCommand    = 0x01
	IUSense      = 0x03
	IUResponse   = 0x04
	IUTaskMgmt   = 0x05
	IUReadReady  = 0x06
	IUWriteReady = 0x07
)

// Information unit sizes.
const (
	CommandIUSize  = 32 // Command IU with a 16-byte CDB
	ResponseIUSize = 8  // READ READY / WRITE READY
	SenseIUSize    = 16 // Sense IU header without sense data
	MaxSenseLength = 96
)

// Task attributes (prio_attr bits 0-2).
const (
	TaskSimple      = 0x00
	TaskHeadOfQueue = 0x01
	TaskOrdered     = 0x02
	TaskACA         = 0x04
)
