package fifo

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ardnew/uasbridge/pkg"
)

// Message types.
const (
	msgData = 0x02 // bulk payload
)

// headerSize is the message header length: type (1) + length (2).
const headerSize = 3

// MaxPayload is the largest payload one message can carry.
const MaxPayload = 0xFFFF

// dirPrefix names bridge subdirectories inside the bus directory.
const dirPrefix = "bridge-"

// readPoll bounds each blocking read so cancellation is noticed.
const readPoll = 100 * time.Millisecond

// Endpoints a bridge exposes.
var endpoints = []uint8{0x01, 0x82, 0x83, 0x04}

// endpointFile returns the FIFO name for an endpoint address.
func endpointFile(ep uint8) string {
	dir := "out"
	if ep&0x80 != 0 {
		dir = "in"
	}
	return fmt.Sprintf("ep%d_%s", ep&0x0F, dir)
}

// createFIFO creates a named pipe, replacing any stale file.
func createFIFO(dir, name string) error {
	path := filepath.Join(dir, name)
	os.Remove(path)
	if err := unix.Mkfifo(path, 0o666); err != nil {
		return fmt.Errorf("mkfifo %s: %w", name, err)
	}
	return nil
}

// openFIFO opens a named pipe for both directions without blocking on the
// other end, so the runtime poller can manage it.
func openFIFO(dir, name string) (*os.File, error) {
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_NONBLOCK|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", name, err)
	}
	return f, nil
}

// readFull reads exactly len(buf) bytes, waking periodically to check ctx.
func readFull(ctx context.Context, f *os.File, buf []byte) error {
	total := 0
	for total < len(buf) {
		if err := ctx.Err(); err != nil {
			return err
		}
		f.SetReadDeadline(time.Now().Add(readPoll))
		n, err := f.Read(buf[total:])
		total += n
		if err != nil {
			if os.IsTimeout(err) {
				continue
			}
			if err == io.EOF && total < len(buf) {
				return io.ErrUnexpectedEOF
			}
			return err
		}
	}
	return nil
}

// readMessage reads one message into buf and returns its payload length.
func readMessage(ctx context.Context, f *os.File, buf []byte) (int, error) {
	var header [headerSize]byte
	if err := readFull(ctx, f, header[:]); err != nil {
		return 0, err
	}
	if header[0] != msgData {
		return 0, pkg.ErrProtocol
	}
	n := int(binary.LittleEndian.Uint16(header[1:3]))
	if n > len(buf) {
		// drain the payload so the stream stays framed
		io.CopyN(io.Discard, f, int64(n))
		return 0, pkg.ErrBufferTooSmall
	}
	if n == 0 {
		return 0, nil
	}
	if err := readFull(ctx, f, buf[:n]); err != nil {
		return 0, err
	}
	return n, nil
}

// writeMessage writes data as one message.
func writeMessage(f *os.File, data []byte) error {
	if len(data) > MaxPayload {
		return pkg.ErrBufferTooSmall
	}
	msg := make([]byte, headerSize+len(data))
	msg[0] = msgData
	binary.LittleEndian.PutUint16(msg[1:3], uint16(len(data)))
	copy(msg[headerSize:], data)
	_, err := f.Write(msg)
	return err
}
