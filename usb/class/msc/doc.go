// Package msc implements the Bulk-Only Transport wrappers of the USB Mass
// Storage Class.
//
// A host sends each SCSI command in a 31-byte Command Block Wrapper on the
// bulk OUT pipe, moves data on the bulk pipes, then collects a 13-byte
// Command Status Wrapper from the bulk IN pipe:
//
//	Host                       Device
//	  | -------- CBW -------->  |
//	  | <------- DATA ------->  |   (optional, direction per CBW flags)
//	  | <------- CSW ---------  |
//
// Codecs follow the zero-allocation pattern: [ParseCBW] fills a caller-owned
// struct and the MarshalTo methods write into caller buffers.
package msc
