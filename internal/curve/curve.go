// Package curve defines the immutable dose-response curve store consumed by
// the policy decision engine. A store holds, per segment, the expected
// outcomes at each discrete treatment level as estimated by one method.
package curve

import (
	"errors"
	"fmt"
	"sort"
)

// Method tags identify which estimation method produced a store.
const (
	MethodNaive     = "naive"
	MethodCorrected = "corrected"
)

// ErrEmptyCurve indicates a segment arrived with zero dose-response points.
// No fallback level can exist for such a segment, so ingestion fails fast.
var ErrEmptyCurve = errors.New("segment curve has no points")

// Point is one estimated outcome at one treatment level for one segment.
// Metrics maps outcome-metric names (e.g. "bookings", "net_value") to their
// per-observation expected values. CILow and CIHigh bound the primary
// displayed metric.
type Point struct {
	Level   int
	Metrics map[string]float64
	CILow   float64
	CIHigh  float64
}

// SegmentCurve is the ascending-level-ordered sequence of points for one
// named segment.
type SegmentCurve struct {
	Segment string
	Points  []Point
}

// First returns the lowest-level point. Valid stores guarantee at least one
// point per segment.
func (c SegmentCurve) First() Point {
	return c.Points[0]
}

// PointAt returns the point at the given level, if present.
func (c SegmentCurve) PointAt(level int) (Point, bool) {
	for _, p := range c.Points {
		if p.Level == level {
			return p, true
		}
	}
	return Point{}, false
}

// Baseline describes the reference policy the curves were measured against.
type Baseline struct {
	Name  string `json:"name"`
	Level int    `json:"level"`
}

// Store is an immutable per-segment collection of dose-response curves for
// one estimation method. The engine never mutates a store after ingestion.
type Store struct {
	method          string
	artifactVersion string
	baseline        Baseline
	warnings        []string
	curves          map[string]SegmentCurve
}

// NewStore validates and ingests segment curves into a store. Points are
// copied and sorted by ascending level so downstream ordering never depends
// on how the producer happened to emit them. A store with zero segments is
// valid; a segment with zero points is not.
func NewStore(method, artifactVersion string, baseline Baseline, curves []SegmentCurve, warnings []string) (*Store, error) {
	if method != MethodNaive && method != MethodCorrected {
		return nil, fmt.Errorf("unknown estimation method %q", method)
	}

	byName := make(map[string]SegmentCurve, len(curves))
	for _, c := range curves {
		if c.Segment == "" {
			return nil, fmt.Errorf("segment curve with empty name")
		}
		if _, exists := byName[c.Segment]; exists {
			return nil, fmt.Errorf("duplicate segment %q", c.Segment)
		}
		if len(c.Points) == 0 {
			return nil, fmt.Errorf("segment %q: %w", c.Segment, ErrEmptyCurve)
		}

		points := make([]Point, len(c.Points))
		copy(points, c.Points)
		sort.Slice(points, func(i, j int) bool { return points[i].Level < points[j].Level })

		seen := make(map[int]struct{}, len(points))
		for _, p := range points {
			if _, dup := seen[p.Level]; dup {
				return nil, fmt.Errorf("segment %q has duplicate level %d", c.Segment, p.Level)
			}
			seen[p.Level] = struct{}{}
		}

		byName[c.Segment] = SegmentCurve{Segment: c.Segment, Points: points}
	}

	return &Store{
		method:          method,
		artifactVersion: artifactVersion,
		baseline:        baseline,
		warnings:        append([]string(nil), warnings...),
		curves:          byName,
	}, nil
}

// Method returns the estimation method tag.
func (s *Store) Method() string { return s.method }

// ArtifactVersion returns the identifier of the artifact the store was built from.
func (s *Store) ArtifactVersion() string { return s.artifactVersion }

// Baseline returns the reference policy descriptor.
func (s *Store) Baseline() Baseline { return s.baseline }

// Warnings returns any producer warnings attached at ingestion.
func (s *Store) Warnings() []string { return append([]string(nil), s.warnings...) }

// Len returns the number of segments in the store.
func (s *Store) Len() int { return len(s.curves) }

// Segments returns the segment names in lexicographic order.
func (s *Store) Segments() []string {
	names := make([]string, 0, len(s.curves))
	for name := range s.curves {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Curve returns the curve for the named segment.
func (s *Store) Curve(segment string) (SegmentCurve, bool) {
	c, ok := s.curves[segment]
	return c, ok
}
