package usb

// Endpoint addresses, including the direction bit.
const (
	EPCommand uint8 = 0x01 // command OUT (BOT bulk OUT)
	EPStatus  uint8 = 0x82 // status IN
	EPDataIn  uint8 = 0x83 // data IN (BOT bulk IN)
	EPDataOut uint8 = 0x04 // data OUT
)

// QueueID names one of the service's FIFO queues.
type QueueID uint8

// Queues.
const (
	TxFree QueueID = iota
	RxCommand
	RxDataOut
	numQueues
)

// String returns the queue name.
func (q QueueID) String() string {
	switch q {
	case TxFree:
		return "tx-free"
	case RxCommand:
		return "rx-command"
	case RxDataOut:
		return "rx-data-out"
	default:
		return "unknown"
	}
}

// Frame is a transfer buffer.
type Frame struct {
	buf []byte
	n   int
}

// NewFrame allocates a frame with size bytes of capacity.
func NewFrame(size int) *Frame {
	return &Frame{buf: make([]byte, size)}
}

// Bytes returns the whole buffer, for filling before a transmit.
func (f *Frame) Bytes() []byte {
	return f.buf
}

// Len returns the number of bytes the last receive placed in the frame.
func (f *Frame) Len() int {
	return f.n
}

// Data returns the received bytes.
func (f *Frame) Data() []byte {
	return f.buf[:f.n]
}

// SetLen records a completed receive of n bytes.
func (f *Frame) SetLen(n int) {
	if n < 0 {
		n = 0
	}
	if n > len(f.buf) {
		n = len(f.buf)
	}
	f.n = n
}
