// Package narrative renders an impact comparison into stable, human-readable
// decision artifacts: a recommendation line, an evidence line, a policy-diff
// line, and an exportable bundle. Rendering is pure formatting; every number
// and every ordering decision is taken from the inputs, never recomputed.
package narrative

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/promopilot/promopilot/internal/policy"
	"github.com/promopilot/promopilot/pkg/constants"
)

// PolicyEntry is one segment→level assignment in sorted-export form.
type PolicyEntry struct {
	Segment string `json:"segment"`
	Level   int    `json:"level"`
}

// Bundle is the versioned, self-describing export snapshot. It carries
// everything needed to reproduce the rendered report, so a persisted bundle
// round-trips: decode it and render again, and the text is identical.
type Bundle struct {
	SchemaVersion   int                `json:"schemaVersion"`
	GeneratedAt     time.Time          `json:"generatedAt"`
	Objective       string             `json:"objective"`
	PrimaryMetric   string             `json:"primaryMetric"`
	UnitLabel       string             `json:"unitLabel"`
	Assumptions     policy.Assumptions `json:"assumptions"`
	NaivePolicy     []PolicyEntry      `json:"naivePolicy"`
	CorrectedPolicy []PolicyEntry      `json:"correctedPolicy"`
	Impact          policy.ImpactSummary `json:"impact"`
}

// Report holds the rendered decision artifacts.
type Report struct {
	Recommendation string `json:"recommendation"`
	Evidence       string `json:"evidence"`
	Diff           string `json:"diff"`
	Bundle         Bundle `json:"bundle"`
}

// Options carries the fixed business context a report is rendered under.
type Options struct {
	Objective     string
	PrimaryMetric string
	UnitLabel     string
	GeneratedAt   time.Time
}

// Render builds the export bundle from the comparison outputs and derives
// the report text from the bundle alone.
func Render(summary *policy.ImpactSummary, naive, corrected policy.PolicyMap, assumptions policy.Assumptions, opts Options) Report {
	bundle := Bundle{
		SchemaVersion:   constants.ExportSchemaVersion,
		GeneratedAt:     opts.GeneratedAt.UTC(),
		Objective:       opts.Objective,
		PrimaryMetric:   opts.PrimaryMetric,
		UnitLabel:       opts.UnitLabel,
		Assumptions:     assumptions,
		NaivePolicy:     policyEntries(naive),
		CorrectedPolicy: policyEntries(corrected),
		Impact:          *summary,
	}
	return FromBundle(bundle)
}

// FromBundle renders a report from a decoded export bundle. Rendering reads
// only bundle fields, which is what makes persisted bundles reproducible.
func FromBundle(b Bundle) Report {
	return Report{
		Recommendation: recommendationLine(b),
		Evidence:       evidenceLine(b),
		Diff:           diffLine(b),
		Bundle:         b,
	}
}

func policyEntries(p policy.PolicyMap) []PolicyEntry {
	entries := make([]PolicyEntry, 0, len(p))
	for _, segment := range p.Segments() {
		entries = append(entries, PolicyEntry{Segment: segment, Level: p[segment]})
	}
	return entries
}

func recommendationLine(b Bundle) string {
	weekly := b.Impact.Weekly[b.PrimaryMetric]
	annual := b.Impact.Annual[b.PrimaryMetric]
	return fmt.Sprintf(
		"Switching to the bias-corrected policy projects %+.2f %s per week (%+.2f per year) at a level cap of %d.",
		weekly, b.PrimaryMetric, annual, b.Assumptions.LevelCap,
	)
}

func evidenceLine(b Bundle) string {
	return fmt.Sprintf(
		"Both policies evaluated on the corrected dose-response curves (artifact %s): %s %.2f vs %.2f %s; %d of %d segments change level; %d stale-policy fallbacks.",
		b.Impact.ArtifactVersion,
		b.PrimaryMetric,
		b.Impact.Naive.Metrics[b.PrimaryMetric],
		b.Impact.Corrected.Metrics[b.PrimaryMetric],
		b.UnitLabel,
		b.Impact.ChangedCount,
		len(b.CorrectedPolicy),
		b.Impact.StaleFallbacks,
	)
}

func diffLine(b Bundle) string {
	if b.Impact.ChangedCount == 0 {
		return "No segment-level action changes; any measured gain comes from re-ranking under the corrected curves, not from new actions."
	}

	naiveLevels := make(map[string]int, len(b.NaivePolicy))
	for _, entry := range b.NaivePolicy {
		naiveLevels[entry.Segment] = entry.Level
	}
	correctedLevels := make(map[string]int, len(b.CorrectedPolicy))
	for _, entry := range b.CorrectedPolicy {
		correctedLevels[entry.Segment] = entry.Level
	}

	changed := append([]string(nil), b.Impact.ChangedSegments...)
	sort.Strings(changed)

	parts := make([]string, 0, len(changed))
	for _, segment := range changed {
		from := "unset"
		if level, ok := naiveLevels[segment]; ok {
			from = fmt.Sprintf("%d", level)
		}
		parts = append(parts, fmt.Sprintf("%s: %s -> %d", segment, from, correctedLevels[segment]))
	}
	return fmt.Sprintf("Changed segments: %s.", strings.Join(parts, "; "))
}
