// Package memgate implements the memory-pressure gate collaborator: the
// core only consumes a boolean "may launch now?" answer (§1's "memory
// pressure gate" is out of scope for policy ownership), but something has
// to compute that answer from live system state, the way the teacher's
// internal/metrics package reports memory/swap over HTTP.
package memgate

import (
	"github.com/shirou/gopsutil/v3/mem"
)

// Gate answers whether a new application launch should proceed.
type Gate interface {
	MayLaunch() (bool, string)
}

// Thresholds are read from the settings store by the caller and passed in
// here rather than memgate depending on the settings package directly,
// keeping this package's only dependency the metrics source itself.
type Thresholds struct {
	MinAvailable uint64
	MaxSwapUsed  uint64
}

// SystemGate reads live memory/swap via gopsutil.
type SystemGate struct {
	Thresholds Thresholds
}

// New returns a SystemGate configured with the given thresholds.
func New(t Thresholds) *SystemGate {
	return &SystemGate{Thresholds: t}
}

// MayLaunch reports false with a human-readable reason when available
// memory is below MinAvailable or swap usage exceeds MaxSwapUsed.
func (g *SystemGate) MayLaunch() (bool, string) {
	vmem, err := mem.VirtualMemory()
	if err != nil {
		// Fail open: a metrics read failure must never block every launch.
		return true, ""
	}
	if g.Thresholds.MinAvailable > 0 && vmem.Available < g.Thresholds.MinAvailable {
		return false, "available memory below configured minimum"
	}

	swap, err := mem.SwapMemory()
	if err == nil && g.Thresholds.MaxSwapUsed > 0 && swap.Used > g.Thresholds.MaxSwapUsed {
		return false, "swap usage above configured maximum"
	}

	return true, ""
}
