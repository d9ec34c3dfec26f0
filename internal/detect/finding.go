// Package detect diagnoses synchronization hazards from the derived
// resource-allocation graph and the engine snapshot: deadlocks
// (graph cycles), bottlenecks (sustained contention), and unsafe
// shared-memory access (overlapping unlocked accesses).
//
// Detectors run after every step. Findings accumulate append-only and
// are deduplicated by a stable key, so a hazard that persists across
// steps is reported exactly once.
package detect

// Kind enumerates hazard categories.
type Kind string

const (
	KindDeadlock   Kind = "DEADLOCK"
	KindBottleneck Kind = "BOTTLENECK"
	KindUnsafe     Kind = "UNSAFE_ACCESS"
)

// Level is the qualitative severity of a finding.
type Level string

const (
	LevelLow    Level = "LOW"
	LevelMedium Level = "MEDIUM"
	LevelHigh   Level = "HIGH"
)

// Finding is one detected hazard. Immutable once appended.
type Finding struct {
	ID   string `json:"id"`
	Kind Kind   `json:"kind"`
	// Level is the qualitative grade; Severity is the numeric
	// multiplier fed to the risk scorer, with 1.0 as baseline.
	Level       Level    `json:"level"`
	Severity    float64  `json:"severity"`
	Processes   []string `json:"processes"`
	Resources   []string `json:"resources"`
	FromStep    int      `json:"from_step"`
	ToStep      int      `json:"to_step"`
	Explanation string   `json:"explanation"`

	key string // dedupe key, stable across steps
}

func levelFor(severity float64) Level {
	switch {
	case severity >= 3:
		return LevelHigh
	case severity >= 1.5:
		return LevelMedium
	default:
		return LevelLow
	}
}
