package usb

import (
	"context"

	"github.com/ardnew/uasbridge/pkg"
)

// Queue is a FIFO of frames. One goroutine may append while another removes.
type Queue struct {
	ch chan *Frame
}

// NewQueue creates a queue holding up to n frames.
func NewQueue(n int) *Queue {
	return &Queue{ch: make(chan *Frame, n)}
}

// Put appends f. It returns [pkg.ErrNoResources] if the queue is full, which
// means more frames exist than the queue was sized for.
func (q *Queue) Put(f *Frame) error {
	select {
	case q.ch <- f:
		return nil
	default:
		return pkg.ErrNoResources
	}
}

// Get removes the oldest frame, blocking until one is available or ctx is done.
func (q *Queue) Get(ctx context.Context) (*Frame, error) {
	select {
	case f := <-q.ch:
		return f, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryGet removes the oldest frame if there is one.
func (q *Queue) TryGet() (*Frame, bool) {
	select {
	case f := <-q.ch:
		return f, true
	default:
		return nil, false
	}
}

// Len returns the number of queued frames.
func (q *Queue) Len() int {
	return len(q.ch)
}
