// Package artifact loads the precomputed dose-response artifacts produced by
// the offline estimation pipeline and exposes them to the engine as immutable
// curve stores. The engine consumes the estimator's output only; nothing here
// trains or re-estimates anything.
package artifact

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/promopilot/promopilot/internal/curve"
)

// Artifact file names within the artifact directory.
const (
	ManifestFile     = "manifest.json"
	DoseResponseFile = "dose_response.json"
	BaselineFile     = "policy_baselines.json"
)

// WarningCorrectedUnavailable is attached when corrected artifacts are
// missing and callers fall back to the naive method.
const WarningCorrectedUnavailable = "corrected artifacts unavailable; falling back to naive policy"

// Manifest describes an artifact bundle.
type Manifest struct {
	ArtifactVersion string   `json:"artifact_version"`
	ArtifactHash    string   `json:"artifact_hash,omitempty"`
	HasCorrected    bool     `json:"has_corrected"`
	TreatmentLevels []int    `json:"treatment_levels"`
	Segmentations   []string `json:"segmentations"`
}

// MetricSummary is one estimated metric at one level: the per-observation
// mean and its confidence bounds.
type MetricSummary struct {
	Mean   float64 `json:"mean"`
	CILow  float64 `json:"ci_low"`
	CIHigh float64 `json:"ci_high"`
}

// LevelSummaries maps a stringified treatment level to its per-metric
// summaries, the way the producer serializes them.
type LevelSummaries map[string]map[string]MetricSummary

// SegmentMethods maps an estimation method tag to its level summaries for
// one segment.
type SegmentMethods map[string]LevelSummaries

// Segmentation maps segment values (e.g. loyalty tiers) to their per-method
// payloads.
type Segmentation map[string]SegmentMethods

type doseResponseDoc struct {
	ArtifactVersion string                  `json:"artifact_version"`
	TreatmentLevels []int                   `json:"treatment_levels"`
	Baseline        baselineDoc             `json:"baseline"`
	Segmentations   map[string]Segmentation `json:"segmentations"`
}

type baselineDoc struct {
	Name  string `json:"name"`
	Level int    `json:"policy_level"`
}

// Artifacts is one decoded artifact bundle.
type Artifacts struct {
	Manifest Manifest
	Baseline curve.Baseline

	doc doseResponseDoc
}

// Load reads and decodes the artifact bundle under dir.
func Load(dir string) (*Artifacts, error) {
	var manifest Manifest
	if err := readJSON(filepath.Join(dir, ManifestFile), &manifest); err != nil {
		return nil, fmt.Errorf("missing or unreadable artifacts in %s: %w", dir, err)
	}

	var doc doseResponseDoc
	if err := readJSON(filepath.Join(dir, DoseResponseFile), &doc); err != nil {
		return nil, fmt.Errorf("missing or unreadable artifacts in %s: %w", dir, err)
	}

	baseline := curve.Baseline{Name: doc.Baseline.Name, Level: doc.Baseline.Level}
	var baselineOverride baselineDoc
	if err := readJSON(filepath.Join(dir, BaselineFile), &baselineOverride); err == nil {
		baseline = curve.Baseline{Name: baselineOverride.Name, Level: baselineOverride.Level}
	}
	if baseline.Name == "" {
		baseline.Name = "current_policy"
	}
	baseline.Level = snapToLevels(baseline.Level, doc.TreatmentLevels)

	if doc.ArtifactVersion == "" {
		doc.ArtifactVersion = manifest.ArtifactVersion
	}

	return &Artifacts{Manifest: manifest, Baseline: baseline, doc: doc}, nil
}

func readJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to parse %s: %w", filepath.Base(path), err)
	}
	return nil
}

// Version returns the artifact version identifier.
func (a *Artifacts) Version() string {
	if a.doc.ArtifactVersion != "" {
		return a.doc.ArtifactVersion
	}
	return a.Manifest.ArtifactVersion
}

// TreatmentLevels returns the discrete level set the artifacts cover.
func (a *Artifacts) TreatmentLevels() []int {
	levels := append([]int(nil), a.doc.TreatmentLevels...)
	sort.Ints(levels)
	return levels
}

// Segmentations returns the available segmentation dimensions in
// lexicographic order.
func (a *Artifacts) Segmentations() []string {
	names := make([]string, 0, len(a.doc.Segmentations))
	for name := range a.doc.Segmentations {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// HasCorrected reports whether corrected-method artifacts are present.
func (a *Artifacts) HasCorrected() bool {
	return a.Manifest.HasCorrected
}

// StorePair builds the naive and corrected curve stores for one segmentation
// dimension. Metric means are converted from per-observation values to the
// per-unit denominator the engine's curves are expressed against, and the
// confidence bounds of primaryMetric are carried onto each point. When
// corrected artifacts are absent the corrected store is nil and a warning is
// attached; callers choose whether that is a fallback or a hard failure.
func (a *Artifacts) StorePair(segmentBy, primaryMetric string, perUnit float64) (*curve.Store, *curve.Store, []string, error) {
	segmentation, ok := a.doc.Segmentations[segmentBy]
	if !ok {
		return nil, nil, nil, fmt.Errorf("unsupported segmentation %q in artifacts", segmentBy)
	}

	naiveCurves, err := a.buildCurves(segmentation, curve.MethodNaive, primaryMetric, perUnit)
	if err != nil {
		return nil, nil, nil, err
	}
	naive, err := curve.NewStore(curve.MethodNaive, a.Version(), a.Baseline, naiveCurves, nil)
	if err != nil {
		return nil, nil, nil, err
	}

	var warnings []string
	var corrected *curve.Store
	if a.Manifest.HasCorrected {
		correctedCurves, err := a.buildCurves(segmentation, curve.MethodCorrected, primaryMetric, perUnit)
		if err != nil {
			warnings = append(warnings, WarningCorrectedUnavailable)
		} else {
			corrected, err = curve.NewStore(curve.MethodCorrected, a.Version(), a.Baseline, correctedCurves, nil)
			if err != nil {
				return nil, nil, nil, err
			}
		}
	} else {
		warnings = append(warnings, WarningCorrectedUnavailable)
	}

	return naive, corrected, warnings, nil
}

func (a *Artifacts) buildCurves(segmentation Segmentation, method, primaryMetric string, perUnit float64) ([]curve.SegmentCurve, error) {
	segments := make([]string, 0, len(segmentation))
	for segment := range segmentation {
		segments = append(segments, segment)
	}
	sort.Strings(segments)

	curves := make([]curve.SegmentCurve, 0, len(segments))
	for _, segment := range segments {
		levels, ok := segmentation[segment][method]
		if !ok {
			return nil, fmt.Errorf("method %q missing in artifact for segment %s", method, segment)
		}

		points := make([]curve.Point, 0, len(levels))
		for levelKey, metrics := range levels {
			level, err := strconv.Atoi(levelKey)
			if err != nil {
				return nil, fmt.Errorf("segment %s: invalid treatment level %q", segment, levelKey)
			}

			point := curve.Point{Level: level, Metrics: make(map[string]float64, len(metrics))}
			for metric, summary := range metrics {
				point.Metrics[metric] = summary.Mean * perUnit
			}
			primary, ok := metrics[primaryMetric]
			if !ok {
				return nil, fmt.Errorf("segment %s level %d: primary metric %q missing from artifact", segment, level, primaryMetric)
			}
			point.CILow = primary.CILow * perUnit
			point.CIHigh = primary.CIHigh * perUnit

			points = append(points, point)
		}

		curves = append(curves, curve.SegmentCurve{Segment: segment, Points: points})
	}
	return curves, nil
}

// snapToLevels moves a baseline level onto the nearest available treatment
// level; upstream baselines occasionally reference retired levels.
func snapToLevels(level int, levels []int) int {
	if len(levels) == 0 {
		return level
	}
	nearest := levels[0]
	for _, candidate := range levels[1:] {
		if abs(candidate-level) < abs(nearest-level) {
			nearest = candidate
		}
	}
	return nearest
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
