package detect

import (
	"fmt"
	"sort"

	"github.com/synclab/ipcsim/internal/scenario"
	"github.com/synclab/ipcsim/internal/sim"
)

// unsafeDetector scans shared-memory access logs for overlapping
// accesses from different processes where at least one is a WRITE and
// at least one lacked a covering lock. WRITE/WRITE conflicts are HIGH,
// READ/WRITE MEDIUM.
type unsafeDetector struct{}

func (d *unsafeDetector) observe(snap *sim.Snapshot) []Finding {
	var out []Finding
	for _, r := range snap.Resources {
		if r.Kind != scenario.KindSHM || len(r.AccessLog) < 2 {
			continue
		}
		log := r.AccessLog
		for i := 0; i < len(log); i++ {
			for j := i + 1; j < len(log); j++ {
				a, b := log[i], log[j]
				if a.PID == b.PID {
					continue
				}
				if a.Mode != scenario.ModeWrite && b.Mode != scenario.ModeWrite {
					continue
				}
				if a.Locked && b.Locked {
					continue
				}
				if !overlaps(a, b) {
					continue
				}

				level, sev := LevelMedium, 1.0
				if a.Mode == scenario.ModeWrite && b.Mode == scenario.ModeWrite {
					level, sev = LevelHigh, 1.5
				}
				procs := []string{a.PID, b.PID}
				sort.Strings(procs)
				out = append(out, Finding{
					Kind:      KindUnsafe,
					Level:     level,
					Severity:  sev,
					Processes: procs,
					Resources: []string{r.ID},
					FromStep:  min(a.Step, b.Step),
					ToStep:    max(a.Step+a.Duration, b.Step+b.Duration),
					Explanation: fmt.Sprintf("overlapping access to %s: %s %s at step %d (%s), %s %s at step %d (%s)",
						r.ID,
						a.PID, a.Mode, a.Step, lockLabel(a.Locked),
						b.PID, b.Mode, b.Step, lockLabel(b.Locked)),
					key: fmt.Sprintf("UNSAFE_ACCESS|%s|%s@%d|%s@%d", r.ID, a.PID, a.Step, b.PID, b.Step),
				})
			}
		}
	}
	return out
}

// overlaps treats an access as spanning [step, step+duration] inclusive.
func overlaps(a, b sim.AccessRecord) bool {
	return a.Step <= b.Step+b.Duration && b.Step <= a.Step+a.Duration
}

func lockLabel(locked bool) string {
	if locked {
		return "locked"
	}
	return "no lock"
}
