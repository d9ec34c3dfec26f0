package detect

import (
	"fmt"
	"strings"

	"github.com/synclab/ipcsim/internal/rag"
)

// bottleneckDetector flags resources under sustained contention: more
// than waiters processes blocked on the resource for more than window
// consecutive steps. Deadlock takes precedence; a resource on a
// reported cycle is never also a bottleneck.
type bottleneckDetector struct {
	waiters int
	window  int

	episodes map[string]*episode
}

// episode tracks one contiguous run of qualifying steps for a resource.
type episode struct {
	start      int
	consec     int
	maxWaiters int
	reported   bool
}

func newBottleneckDetector(waiters, window int) *bottleneckDetector {
	return &bottleneckDetector{
		waiters:  waiters,
		window:   window,
		episodes: make(map[string]*episode),
	}
}

func (d *bottleneckDetector) observe(g *rag.Graph, step int, deadlocked map[string]bool) []Finding {
	var out []Finding
	for _, rid := range g.Resources() {
		requesters := g.Requesters(rid)
		n := len(requesters)

		if n <= d.waiters || deadlocked[rid] {
			delete(d.episodes, rid)
			continue
		}

		ep := d.episodes[rid]
		if ep == nil {
			ep = &episode{start: step}
			d.episodes[rid] = ep
		}
		ep.consec++
		if n > ep.maxWaiters {
			ep.maxWaiters = n
		}
		if ep.reported || ep.consec <= d.window {
			continue
		}
		ep.reported = true

		// Severity scales with waiters x duration, normalized so a
		// just-qualifying episode lands at 1.0 and graded from there.
		sev := float64(ep.maxWaiters*ep.consec) / float64((d.waiters+1)*(d.window+1))
		expl := fmt.Sprintf("%d processes waited on %s for %d consecutive steps",
			ep.maxWaiters, rid, ep.consec)
		if holders := g.Holders(rid); len(holders) > 0 {
			expl += fmt.Sprintf(" while held by %s", strings.Join(holders, ", "))
		}
		out = append(out, Finding{
			Kind:        KindBottleneck,
			Level:       levelFor(sev),
			Severity:    sev,
			Processes:   requesters,
			Resources:   []string{rid},
			FromStep:    ep.start,
			ToStep:      step,
			Explanation: expl,
			key:         fmt.Sprintf("BOTTLENECK|%s|%d", rid, ep.start),
		})
	}
	return out
}
