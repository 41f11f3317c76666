package policy

import (
	"fmt"
	"sort"

	"github.com/promopilot/promopilot/internal/curve"
)

// Assumptions carries the external business assumptions a comparison is
// scaled against. ScalingFactor is the expected weekly observation volume;
// PerUnit is the fixed observation denominator the curve metrics are
// expressed against (e.g. per 10,000 observations); AnnualWeeks converts
// weekly projections to annual ones.
type Assumptions struct {
	LevelCap      int     `json:"levelCap"`
	ScalingFactor float64 `json:"scalingFactor"`
	PerUnit       float64 `json:"perUnit"`
	AnnualWeeks   float64 `json:"annualWeeks"`
	Weights       Weights `json:"weights"`
}

// Validate rejects non-positive conversion factors up front so scaled
// projections are never silently wrong.
func (a Assumptions) Validate() error {
	if a.ScalingFactor <= 0 {
		return fmt.Errorf("%w: scaling factor must be positive, got %v", ErrConfiguration, a.ScalingFactor)
	}
	if a.PerUnit <= 0 {
		return fmt.Errorf("%w: per-unit denominator must be positive, got %v", ErrConfiguration, a.PerUnit)
	}
	if a.AnnualWeeks <= 0 {
		return fmt.Errorf("%w: annual weeks must be positive, got %v", ErrConfiguration, a.AnnualWeeks)
	}
	return nil
}

// ImpactSummary is a read-only snapshot of the incremental business impact
// of switching from the naive-optimal policy to the corrected-optimal policy,
// with both policies read off the corrected curve store.
type ImpactSummary struct {
	ArtifactVersion string             `json:"artifactVersion"`
	Naive           Rollup             `json:"naive"`
	Corrected       Rollup             `json:"corrected"`
	Deltas          map[string]float64 `json:"deltas"`
	Weekly          map[string]float64 `json:"weekly"`
	Annual          map[string]float64 `json:"annual"`
	ChangedSegments []string           `json:"changedSegments"`
	ChangedCount    int                `json:"changedCount"`
	StaleFallbacks  int                `json:"staleFallbacks"`
}

// Compare evaluates both policies against the corrected store and produces
// signed per-metric deltas plus weekly and annual projections. Evaluating
// the naive policy on the corrected curves, rather than on the naive curves,
// is the point of the comparison: it isolates the value of correcting for
// assignment bias from the value of merely re-measuring.
func Compare(correctedStore *curve.Store, naivePolicy, correctedPolicy PolicyMap, assumptions Assumptions) (*ImpactSummary, error) {
	if err := assumptions.Validate(); err != nil {
		return nil, err
	}
	if correctedStore.Method() != curve.MethodCorrected {
		return nil, fmt.Errorf("%w: comparison requires the corrected store, got method %q", ErrConfiguration, correctedStore.Method())
	}

	naiveRollup := Evaluate(correctedStore, naivePolicy)
	correctedRollup := Evaluate(correctedStore, correctedPolicy)

	summary := &ImpactSummary{
		ArtifactVersion: correctedStore.ArtifactVersion(),
		Naive:           naiveRollup,
		Corrected:       correctedRollup,
		Deltas:          make(map[string]float64),
		Weekly:          make(map[string]float64),
		Annual:          make(map[string]float64),
		StaleFallbacks:  naiveRollup.Fallbacks + correctedRollup.Fallbacks,
	}

	// Curve metrics are expressed against the per-unit denominator, so the
	// weekly projection is the delta scaled by how many per-unit blocks of
	// observations a week carries.
	unitsPerWeek := assumptions.ScalingFactor / assumptions.PerUnit
	for _, metric := range metricUnion(naiveRollup, correctedRollup) {
		delta := correctedRollup.Metrics[metric] - naiveRollup.Metrics[metric]
		summary.Deltas[metric] = delta
		summary.Weekly[metric] = delta * unitsPerWeek
		summary.Annual[metric] = delta * unitsPerWeek * assumptions.AnnualWeeks
	}

	// Segments the cap removed from both policies are not "changed".
	for segment, correctedLevel := range correctedPolicy {
		naiveLevel, ok := naivePolicy[segment]
		if !ok || naiveLevel != correctedLevel {
			summary.ChangedSegments = append(summary.ChangedSegments, segment)
		}
	}
	sort.Strings(summary.ChangedSegments)
	summary.ChangedCount = len(summary.ChangedSegments)

	return summary, nil
}

func metricUnion(rollups ...Rollup) []string {
	seen := make(map[string]struct{})
	for _, r := range rollups {
		for metric := range r.Metrics {
			seen[metric] = struct{}{}
		}
	}
	names := make([]string, 0, len(seen))
	for name := range seen {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
