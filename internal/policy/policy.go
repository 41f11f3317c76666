// Package policy implements the decision core: utility scoring of
// dose-response points, per-segment policy optimization under a level cap,
// policy evaluation with documented fallbacks, and the naive-vs-corrected
// impact comparison.
package policy

import (
	"errors"
	"fmt"
	"sort"

	"github.com/promopilot/promopilot/internal/curve"
)

// ErrConfiguration indicates a business-policy configuration problem, such as
// a utility weight referencing a metric the data does not carry or a
// non-positive scaling factor. These fail immediately, never silently default.
var ErrConfiguration = errors.New("configuration error")

// Weights maps outcome-metric names to signed utility weights. Held constant
// for the lifetime of one decision run.
type Weights map[string]float64

// PolicyMap maps segment names to the chosen treatment level. Segments the
// cap made unselectable are absent; evaluation applies an explicit fallback
// for them rather than failing.
type PolicyMap map[string]int

// Equal reports whether two policies assign identical levels to an identical
// segment set.
func (p PolicyMap) Equal(other PolicyMap) bool {
	if len(p) != len(other) {
		return false
	}
	for segment, level := range p {
		otherLevel, ok := other[segment]
		if !ok || otherLevel != level {
			return false
		}
	}
	return true
}

// Segments returns the policy's segment names in lexicographic order.
func (p PolicyMap) Segments() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Utility scores one dose-response point as the weighted sum of its metrics.
// Metrics present in the point but absent from the weights contribute zero.
// A weight naming a metric the point does not carry is a configuration error:
// the caller asked the engine to optimize something the data cannot express.
func Utility(p curve.Point, w Weights) (float64, error) {
	var score float64
	for metric, weight := range w {
		value, ok := p.Metrics[metric]
		if !ok {
			return 0, fmt.Errorf("%w: utility weight references metric %q absent from data at level %d", ErrConfiguration, metric, p.Level)
		}
		score += value * weight
	}
	return score, nil
}

// Optimize selects, independently for every segment in the store, the
// treatment level with the greatest utility among points at or below the cap.
// Segments with no point under the cap are omitted from the result. Utility
// ties break to the lowest level; the rule is applied against the store's
// ascending-level ordering, not whatever order the producer emitted.
func Optimize(store *curve.Store, cap int, w Weights) (PolicyMap, error) {
	policy := make(PolicyMap)

	for _, segment := range store.Segments() {
		c, _ := store.Curve(segment)

		chosen := -1
		var best float64
		for _, p := range c.Points {
			if p.Level > cap {
				continue
			}
			score, err := Utility(p, w)
			if err != nil {
				return nil, fmt.Errorf("segment %q: %w", segment, err)
			}
			// Strictly greater keeps the lower level on ties; points arrive
			// in ascending level order.
			if chosen < 0 || score > best {
				chosen = p.Level
				best = score
			}
		}

		if chosen < 0 {
			continue
		}
		policy[segment] = chosen
	}

	return policy, nil
}
