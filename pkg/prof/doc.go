// Package prof captures runtime profiles of a running bridge.
//
// Profiling is compiled in only with the "profile" build tag:
//
//	go build -tags profile ./examples/fifo-hal/uas-bridge
//
// Without the tag [Start] returns a capture whose Stop does nothing, so
// callers keep their profiling flags unconditionally.
//
// A capture streams a CPU profile for its whole lifetime and writes the
// requested snapshot profiles (heap, goroutine, block, mutex) when stopped:
//
//	c, err := prof.Start(prof.Options{CPU: "cpu.prof", Block: "block.prof"})
//	if err != nil {
//		return err
//	}
//	defer c.Stop()
//
// Block and mutex sampling are enabled only while a capture that asked for
// them is running. The engine's hot path is the REQ/ACK loop and the frame
// queues, and those two profiles show where it waits.
package prof
