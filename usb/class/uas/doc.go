// Package uas implements the information units of USB Attached SCSI.
//
// UAS carries each SCSI command as a Command IU on the command pipe. The
// device answers on the status pipe with a READ READY or WRITE READY IU
// before moving data for a tag, and a Sense IU when the command completes.
// Tags let many commands be outstanding at once.
package uas
