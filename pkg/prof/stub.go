//go:build !profile

package prof

import "github.com/ardnew/uasbridge/pkg"

// Capture is a running profile session. This build has profiling disabled.
type Capture struct{}

// Start returns an inert capture. Requested profiles are logged and ignored.
func Start(opts Options) (*Capture, error) {
	if opts.Enabled() {
		pkg.LogWarn(pkg.ComponentEngine, "profiling requested but not compiled in; rebuild with -tags profile")
	}
	return &Capture{}, nil
}

// Stop does nothing.
func (c *Capture) Stop() error { return nil }
