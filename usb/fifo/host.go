package fifo

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ardnew/uasbridge/pkg"
)

// pollInterval is how often Dial rescans the bus directory.
const pollInterval = 50 * time.Millisecond

// Host is the host end of a bridge's FIFOs.
type Host struct {
	dir   string
	files map[uint8]*os.File
	mutex sync.Mutex
}

// Dial waits for a bridge directory to appear under busDir and opens its
// endpoint FIFOs.
func Dial(ctx context.Context, busDir string) (*Host, error) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		if dir, ok := findBridge(busDir); ok {
			h, err := openHost(dir)
			if err == nil {
				return h, nil
			}
			// the bridge creates its FIFOs after the directory
			if !errors.Is(err, fs.ErrNotExist) {
				return nil, err
			}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func findBridge(busDir string) (string, bool) {
	entries, err := os.ReadDir(busDir)
	if err != nil {
		return "", false
	}
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), dirPrefix) {
			return filepath.Join(busDir, e.Name()), true
		}
	}
	return "", false
}

func openHost(dir string) (*Host, error) {
	h := &Host{dir: dir, files: make(map[uint8]*os.File)}
	for _, ep := range endpoints {
		f, err := openFIFO(dir, endpointFile(ep))
		if err != nil {
			h.Close()
			return nil, err
		}
		h.files[ep] = f
	}
	pkg.LogInfo(pkg.ComponentFIFO, "connected to bridge", "dir", dir)
	return h, nil
}

// Dir returns the bridge directory.
func (h *Host) Dir() string {
	return h.dir
}

// Send writes data to an OUT endpoint as one transfer.
func (h *Host) Send(ep uint8, data []byte) error {
	f, err := h.file(ep, false)
	if err != nil {
		return err
	}
	return writeMessage(f, data)
}

// Recv reads one transfer from an IN endpoint into buf.
func (h *Host) Recv(ctx context.Context, ep uint8, buf []byte) (int, error) {
	f, err := h.file(ep, true)
	if err != nil {
		return 0, err
	}
	return readMessage(ctx, f, buf)
}

func (h *Host) file(ep uint8, in bool) (*os.File, error) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	f, ok := h.files[ep]
	if !ok || (ep&0x80 != 0) != in {
		return nil, fmt.Errorf("endpoint %#02x: %w", ep, pkg.ErrInvalidEndpoint)
	}
	return f, nil
}

// Close closes the FIFOs. The bridge owns the directory.
func (h *Host) Close() error {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	for ep, f := range h.files {
		f.Close()
		delete(h.files, ep)
	}
	return nil
}
