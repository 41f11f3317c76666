package policy

import (
	"sort"

	"github.com/promopilot/promopilot/internal/curve"
)

// Rollup aggregates the outcomes a policy would yield when read off one
// curve store: the unweighted arithmetic mean of every metric across
// segments. Fallbacks counts segments where the policy was unset or stale
// and the lowest available level was used instead.
type Rollup struct {
	Metrics   map[string]float64 `json:"metrics"`
	Segments  int                `json:"segments"`
	Fallbacks int                `json:"fallbacks"`
}

// MetricNames returns the rollup's metric names in lexicographic order.
func (r Rollup) MetricNames() []string {
	names := make([]string, 0, len(r.Metrics))
	for name := range r.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Evaluate reads the chosen level for every segment the store knows about
// off that store's curves and rolls the outcomes up. A segment absent from
// the policy, or assigned a level the store has no point for, falls back to
// the segment's lowest level; evaluation therefore always produces a result,
// and the fallback count makes drift between policy-generation time and
// evaluation time observable. A zero-segment store rolls up to zero for
// every metric.
func Evaluate(store *curve.Store, policy PolicyMap) Rollup {
	rollup := Rollup{Metrics: make(map[string]float64)}

	segments := store.Segments()
	if len(segments) == 0 {
		return rollup
	}

	sums := make(map[string]float64)
	for _, segment := range segments {
		c, _ := store.Curve(segment)

		point := c.First()
		level, assigned := policy[segment]
		if assigned {
			if p, ok := c.PointAt(level); ok {
				point = p
			} else {
				rollup.Fallbacks++
			}
		} else {
			rollup.Fallbacks++
		}

		for metric, value := range point.Metrics {
			sums[metric] += value
		}
	}

	rollup.Segments = len(segments)
	for metric, sum := range sums {
		rollup.Metrics[metric] = sum / float64(len(segments))
	}
	return rollup
}
