// Package risk aggregates findings into a single score and category.
//
// The score is the weighted sum of finding severities; deadlocks are
// categorically severe, so any deadlock finding forces HIGH regardless
// of the numeric score.
package risk

import (
	"gonum.org/v1/gonum/stat"

	"github.com/synclab/ipcsim/internal/config"
	"github.com/synclab/ipcsim/internal/detect"
)

// Category is the qualitative risk grade.
type Category string

const (
	CategoryLow    Category = "LOW"
	CategoryMedium Category = "MEDIUM"
	CategoryHigh   Category = "HIGH"
)

// Contention summarizes per-resource block pressure, for explanation
// alongside the score.
type Contention struct {
	TotalBlocks int     `json:"total_blocks"`
	MeanBlocks  float64 `json:"mean_blocks"`
	MaxBlocks   int     `json:"max_blocks"`
}

// Snapshot is the risk evaluation at one step.
type Snapshot struct {
	Score      float64    `json:"score"`
	Category   Category   `json:"category"`
	Contention Contention `json:"contention"`
}

// Score computes the current risk from all accumulated findings and
// the per-resource block counts. Deterministic: same findings, same
// snapshot.
func Score(findings []detect.Finding, blockCounts map[string]int, cfg config.RiskConfig) Snapshot {
	var score float64
	deadlocked := false
	for _, f := range findings {
		switch f.Kind {
		case detect.KindDeadlock:
			deadlocked = true
			score += cfg.WeightDeadlock * f.Severity
		case detect.KindUnsafe:
			score += cfg.WeightUnsafe * f.Severity
		case detect.KindBottleneck:
			score += cfg.WeightBottleneck * f.Severity
		}
	}

	category := CategoryLow
	switch {
	case deadlocked:
		// A single deadlock is categorically severe, whatever the
		// weighted score says.
		category = CategoryHigh
	case score >= cfg.HighThreshold:
		category = CategoryHigh
	case score >= cfg.MediumThreshold:
		category = CategoryMedium
	}

	return Snapshot{
		Score:      score,
		Category:   category,
		Contention: contention(blockCounts),
	}
}

func contention(blockCounts map[string]int) Contention {
	if len(blockCounts) == 0 {
		return Contention{}
	}
	var c Contention
	counts := make([]float64, 0, len(blockCounts))
	for _, n := range blockCounts {
		counts = append(counts, float64(n))
		c.TotalBlocks += n
		if n > c.MaxBlocks {
			c.MaxBlocks = n
		}
	}
	c.MeanBlocks = stat.Mean(counts, nil)
	return c
}
