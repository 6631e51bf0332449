//go:build profile

package prof

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/pprof"
	"os"
	"runtime"
	rpprof "runtime/pprof"
	"sync"
	"time"

	"github.com/ardnew/uasbridge/pkg"
)

var (
	activeMutex sync.Mutex
	active      *Capture
)

// Capture is a running profile session.
type Capture struct {
	opts    Options
	cpuFile *os.File
	server  *http.Server
	once    sync.Once
	err     error
}

// Start begins a capture. Only one capture runs at a time.
func Start(opts Options) (*Capture, error) {
	activeMutex.Lock()
	defer activeMutex.Unlock()
	if active != nil {
		return nil, ErrActive
	}

	c := &Capture{opts: opts}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		if err := rpprof.StartCPUProfile(f); err != nil {
			f.Close()
			return nil, fmt.Errorf("cpu profile: %w", err)
		}
		c.cpuFile = f
	}
	if opts.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	if opts.HTTP != "" {
		if err := c.serve(opts.HTTP); err != nil {
			c.stopCPU()
			return nil, err
		}
	}

	active = c
	pkg.LogInfo(pkg.ComponentEngine, "profiling started", "cpu", opts.CPU, "http", opts.HTTP)
	return c, nil
}

func (c *Capture) serve(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("pprof listener: %w", err)
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	c.server = &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		if err := c.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			pkg.LogWarn(pkg.ComponentEngine, "pprof server stopped", "error", err)
		}
	}()
	return nil
}

func (c *Capture) stopCPU() {
	if c.cpuFile == nil {
		return
	}
	rpprof.StopCPUProfile()
	c.cpuFile.Close()
	c.cpuFile = nil
}

// Stop ends the CPU profile, writes the snapshot profiles and shuts down the
// HTTP endpoint. Later calls return the first result.
func (c *Capture) Stop() error {
	c.once.Do(func() {
		c.stopCPU()
		for _, s := range c.opts.snapshots() {
			if err := writeSnapshot(s); err != nil {
				c.err = errors.Join(c.err, err)
			}
		}
		if c.opts.Block != "" {
			runtime.SetBlockProfileRate(0)
		}
		if c.opts.Mutex != "" {
			runtime.SetMutexProfileFraction(0)
		}
		if c.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			c.server.Shutdown(ctx)
			cancel()
		}

		activeMutex.Lock()
		if active == c {
			active = nil
		}
		activeMutex.Unlock()
		pkg.LogInfo(pkg.ComponentEngine, "profiling stopped")
	})
	return c.err
}

func writeSnapshot(s snapshot) error {
	p := rpprof.Lookup(s.name)
	if p == nil {
		return fmt.Errorf("%s profile: unknown", s.name)
	}
	f, err := os.Create(s.path)
	if err != nil {
		return fmt.Errorf("%s profile: %w", s.name, err)
	}
	defer f.Close()
	if s.name == "heap" {
		runtime.GC()
	}
	return p.WriteTo(f, 0)
}
