// File: api/debug.go
// Author: momentics <momentics@gmail.com>
//
// Live introspection surface for a running engine: pool counters,
// neighbor cache snapshots, backend capabilities.

package api

// Debug exposes runtime introspection over an engine's internals.
// control.DebugProbes is the concrete implementation; engine.Init
// registers the stack's standard probes on it.
type Debug interface {
	// DumpState runs every registered probe and returns its output
	// keyed by probe name.
	DumpState() map[string]any

	// RegisterProbe adds a named probe; fn is invoked on every
	// DumpState call and must be cheap and non-blocking.
	RegisterProbe(name string, fn func() any)
}
