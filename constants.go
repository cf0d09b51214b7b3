package axidma

import "github.com/ehrlich-b/go-axidma/internal/hw"

// Re-export hardware constants for public API
const (
	// BDAlignment is the minimum descriptor alignment.
	BDAlignment = hw.BDAlignment

	// BDSize is the per-descriptor stride in ring memory.
	BDSize = hw.BDSize

	// MaxCoalesce is the largest interrupt coalescing threshold.
	MaxCoalesce = hw.MaxCoalesce

	// MaxDelay is the largest interrupt delay timer value.
	MaxDelay = hw.MaxDelay

	// ResetTimeout is the number of polls Reset performs before
	// giving up.
	ResetTimeout = hw.ResetTimeout
)

// hwBufferAlign is the alignment AllocBuffer applies: cache-line sized,
// which also satisfies the word alignment required without DRE.
const hwBufferAlign = 64
