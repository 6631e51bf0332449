// Package pkg provides shared utilities for the uasbridge packages.
//
// It contains:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel errors for bus, tag and transport failures
//   - Component identifiers for log filtering
//
// # Logging
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentEngine, "target bound", "id", 6)
//
// # Errors
//
//	if errors.Is(err, pkg.ErrSelectionTimeout) {
//	    // try the next ID
//	}
package pkg
