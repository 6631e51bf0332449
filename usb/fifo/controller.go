package fifo

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	uuid "github.com/satori/go.uuid"
	"golang.org/x/sync/errgroup"

	"github.com/ardnew/uasbridge/pkg"
	"github.com/ardnew/uasbridge/usb"
)

// armDepth bounds the number of frames armed on one OUT endpoint.
const armDepth = 64

// Completer receives transfer completions. [*usb.Service] implements it.
type Completer interface {
	ReceiveComplete(ep uint8, f *usb.Frame, n int)
	TransmitComplete(ep uint8, f *usb.Frame)
}

// Controller implements [usb.Controller] over named pipes.
type Controller struct {
	busDir string
	dir    string
	id     string

	files map[uint8]*os.File
	armed map[uint8]chan *usb.Frame

	mutex     sync.RWMutex
	completer Completer
	initDone  bool
	running   bool
}

// NewController creates a controller that will publish under busDir.
func NewController(busDir string) *Controller {
	return &Controller{
		busDir: busDir,
		files:  make(map[uint8]*os.File),
		armed:  make(map[uint8]chan *usb.Frame),
	}
}

// Init creates the bridge directory and opens one FIFO per endpoint.
func (c *Controller) Init() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.initDone {
		return pkg.ErrAlreadyRunning
	}

	c.id = uuid.NewV4().String()
	c.dir = filepath.Join(c.busDir, dirPrefix+c.id)
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("create bridge dir: %w", err)
	}

	for _, ep := range endpoints {
		name := endpointFile(ep)
		if err := createFIFO(c.dir, name); err != nil {
			c.cleanup()
			return err
		}
		f, err := openFIFO(c.dir, name)
		if err != nil {
			c.cleanup()
			return err
		}
		c.files[ep] = f
		if ep&0x80 == 0 {
			c.armed[ep] = make(chan *usb.Frame, armDepth)
		}
	}

	c.initDone = true
	pkg.LogInfo(pkg.ComponentFIFO, "fifo controller initialized", "dir", c.dir)
	return nil
}

// Attach sets the completion target.
func (c *Controller) Attach(comp Completer) {
	c.mutex.Lock()
	c.completer = comp
	c.mutex.Unlock()
}

// Dir returns the bridge directory.
func (c *Controller) Dir() string {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return c.dir
}

// Receive arms ep to fill f with the next message the host sends.
func (c *Controller) Receive(ep uint8, f *usb.Frame) error {
	c.mutex.RLock()
	ch, ok := c.armed[ep]
	c.mutex.RUnlock()
	if !ok {
		return pkg.ErrInvalidEndpoint
	}
	select {
	case ch <- f:
		return nil
	default:
		return pkg.ErrNoResources
	}
}

// Transmit writes the first n bytes of f to ep and completes the frame.
func (c *Controller) Transmit(ep uint8, f *usb.Frame, n int) error {
	c.mutex.RLock()
	file, ok := c.files[ep]
	comp := c.completer
	c.mutex.RUnlock()
	if !ok || ep&0x80 == 0 {
		return pkg.ErrInvalidEndpoint
	}
	if err := writeMessage(file, f.Bytes()[:n]); err != nil {
		return fmt.Errorf("transmit ep %#02x: %w", ep, err)
	}
	if comp != nil {
		comp.TransmitComplete(ep, f)
	}
	return nil
}

// Run delivers host messages to armed frames until ctx is done. Each OUT
// endpoint has its own reader goroutine.
func (c *Controller) Run(ctx context.Context) error {
	c.mutex.Lock()
	if !c.initDone {
		c.mutex.Unlock()
		return pkg.ErrNotRunning
	}
	if c.running {
		c.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	c.running = true
	c.mutex.Unlock()

	defer func() {
		c.mutex.Lock()
		c.running = false
		c.mutex.Unlock()
	}()

	g, ctx := errgroup.WithContext(ctx)
	for ep := range c.armed {
		ep := ep
		g.Go(func() error { return c.pump(ctx, ep) })
	}
	err := g.Wait()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return nil
	}
	return err
}

// pump moves messages from one OUT endpoint FIFO into armed frames.
func (c *Controller) pump(ctx context.Context, ep uint8) error {
	c.mutex.RLock()
	file := c.files[ep]
	armed := c.armed[ep]
	c.mutex.RUnlock()

	for {
		var f *usb.Frame
		select {
		case f = <-armed:
		case <-ctx.Done():
			return ctx.Err()
		}

		n, err := readMessage(ctx, file, f.Bytes())
		if err != nil {
			// keep the frame armed for the next message
			select {
			case armed <- f:
			default:
			}
			if errors.Is(err, pkg.ErrBufferTooSmall) || errors.Is(err, pkg.ErrProtocol) {
				pkg.LogWarn(pkg.ComponentFIFO, "dropped message", "ep", ep, "error", err)
				continue
			}
			return err
		}

		pkg.LogDebug(pkg.ComponentFIFO, "received", "ep", ep, "len", n)
		c.mutex.RLock()
		comp := c.completer
		c.mutex.RUnlock()
		if comp != nil {
			comp.ReceiveComplete(ep, f, n)
		}
	}
}

// Close closes every FIFO and removes the bridge directory.
func (c *Controller) Close() error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.cleanup()
	c.initDone = false
	pkg.LogInfo(pkg.ComponentFIFO, "fifo controller closed")
	return nil
}

func (c *Controller) cleanup() {
	for ep, f := range c.files {
		f.Close()
		delete(c.files, ep)
	}
	if c.dir != "" {
		os.RemoveAll(c.dir)
	}
}

var _ usb.Controller = (*Controller)(nil)
