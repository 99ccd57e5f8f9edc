// Package control
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration and debug introspection for an engine: engine
// tunables (buffer counts, MTU cap, neighbor timers, ephemeral port
// base) live in a ConfigStore that can be updated while the engine
// runs, and DebugProbes exposes live state (pool stats, neighbor cache
// snapshot, ring backend features) for diagnostics.
//
// Provides concurrent-safe state handling primitives including:
//   - Immutable snapshot config reads and atomic updates
//   - Runtime observers for hot-reload
//   - State export, debug hooks, and probe registration
package control
