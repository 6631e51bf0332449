// Package fifo provides a USB controller over named pipes (FIFOs), so a
// bridge and a host process on the same machine can exchange bulk transfers
// without hardware.
//
// # Directory Structure
//
// The bridge creates a unique subdirectory under a shared bus directory,
// with one FIFO per endpoint:
//
//	/tmp/uas-bus/
//	└── bridge-<uuid>/
//	    ├── ep1_out   # command pipe (host → bridge)
//	    ├── ep2_in    # status pipe (bridge → host)
//	    ├── ep3_in    # data-in pipe (bridge → host)
//	    └── ep4_out   # data-out pipe (host → bridge)
//
// # Message Format
//
// Every transfer is one message:
//
//	[type:1][length:2 LE][payload:length]
//
// A zero length is a zero-length packet.
//
// # Usage
//
//	ctrl := fifo.NewController("/tmp/uas-bus")
//	if err := ctrl.Init(); err != nil { ... }
//	svc, _ := usb.NewService(usb.DefaultConfig(), ctrl)
//	ctrl.Attach(svc)
//	go ctrl.Run(ctx)
//
// The host side uses [Dial] to find the bridge directory, then [Host.Send]
// and [Host.Recv].
package fifo
