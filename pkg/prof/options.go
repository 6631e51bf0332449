package prof

import "errors"

// ErrActive is returned by [Start] while another capture is running.
var ErrActive = errors.New("profile capture already active")

// Options names the output file of each profile. Empty paths are skipped.
type Options struct {
	CPU       string
	Heap      string
	Goroutine string
	Block     string
	Mutex     string

	// HTTP, if set, serves /debug/pprof/ on this address for the lifetime
	// of the capture.
	HTTP string
}

// Enabled reports whether any profile was requested.
func (o Options) Enabled() bool {
	return o.CPU != "" || o.Heap != "" || o.Goroutine != "" ||
		o.Block != "" || o.Mutex != "" || o.HTTP != ""
}

// snapshots lists the snapshot profiles in the order Stop writes them.
func (o Options) snapshots() []snapshot {
	var s []snapshot
	for _, p := range []snapshot{
		{"heap", o.Heap},
		{"goroutine", o.Goroutine},
		{"block", o.Block},
		{"mutex", o.Mutex},
	} {
		if p.path != "" {
			s = append(s, p)
		}
	}
	return s
}

type snapshot struct {
	name string
	path string
}
