package policy

import (
	"testing"

	"github.com/promopilot/promopilot/internal/curve"
)

func TestEvaluateRollsUpMeanAcrossSegments(t *testing.T) {
	store := mustStore(t, curve.MethodCorrected, []curve.SegmentCurve{
		{
			Segment: "gold",
			Points: []curve.Point{
				{Level: 0, Metrics: map[string]float64{"bookings": 100, "net_value": 40}},
				{Level: 10, Metrics: map[string]float64{"bookings": 140, "net_value": 60}},
			},
		},
		{
			Segment: "silver",
			Points: []curve.Point{
				{Level: 0, Metrics: map[string]float64{"bookings": 60, "net_value": 20}},
				{Level: 10, Metrics: map[string]float64{"bookings": 80, "net_value": 10}},
			},
		},
	})

	rollup := Evaluate(store, PolicyMap{"gold": 10, "silver": 0})

	if rollup.Segments != 2 {
		t.Fatalf("expected 2 segments, got %d", rollup.Segments)
	}
	if rollup.Fallbacks != 0 {
		t.Fatalf("expected no fallbacks, got %d", rollup.Fallbacks)
	}
	if rollup.Metrics["bookings"] != 100 { // (140 + 60) / 2
		t.Fatalf("expected mean bookings 100, got %v", rollup.Metrics["bookings"])
	}
	if rollup.Metrics["net_value"] != 40 { // (60 + 20) / 2
		t.Fatalf("expected mean net_value 40, got %v", rollup.Metrics["net_value"])
	}
}

func TestEvaluateUnsetSegmentFallsBackToLowestLevel(t *testing.T) {
	curves := []curve.SegmentCurve{
		{
			Segment: "S",
			Points: []curve.Point{
				{Level: 0, Metrics: map[string]float64{"bookings": 50}},
				{Level: 5, Metrics: map[string]float64{"bookings": 70}},
				{Level: 10, Metrics: map[string]float64{"bookings": 90}},
			},
		},
	}

	implicit := Evaluate(mustStore(t, curve.MethodCorrected, curves), PolicyMap{})
	explicit := Evaluate(mustStore(t, curve.MethodCorrected, curves), PolicyMap{"S": 0})

	if implicit.Metrics["bookings"] != explicit.Metrics["bookings"] {
		t.Fatalf("expected fallback rollup %v to equal explicit level-0 rollup %v",
			implicit.Metrics["bookings"], explicit.Metrics["bookings"])
	}
	if implicit.Fallbacks != 1 {
		t.Fatalf("expected 1 fallback for unset segment, got %d", implicit.Fallbacks)
	}
	if explicit.Fallbacks != 0 {
		t.Fatalf("expected no fallback for explicit selection, got %d", explicit.Fallbacks)
	}
}

func TestEvaluateStaleLevelFallsBackToLowestLevel(t *testing.T) {
	store := mustStore(t, curve.MethodCorrected, []curve.SegmentCurve{
		{
			Segment: "gold",
			Points: []curve.Point{
				{Level: 0, Metrics: map[string]float64{"bookings": 50}},
				{Level: 10, Metrics: map[string]float64{"bookings": 90}},
			},
		},
	})

	// Level 7 was never estimated; a stale policy referencing it reads the
	// lowest level instead.
	rollup := Evaluate(store, PolicyMap{"gold": 7})

	if rollup.Metrics["bookings"] != 50 {
		t.Fatalf("expected fallback to level 0 outcome 50, got %v", rollup.Metrics["bookings"])
	}
	if rollup.Fallbacks != 1 {
		t.Fatalf("expected 1 stale fallback, got %d", rollup.Fallbacks)
	}
}

func TestEvaluateZeroSegmentStoreYieldsZeroMetrics(t *testing.T) {
	store := mustStore(t, curve.MethodCorrected, nil)

	rollup := Evaluate(store, PolicyMap{})

	if rollup.Segments != 0 {
		t.Fatalf("expected 0 segments, got %d", rollup.Segments)
	}
	if len(rollup.Metrics) != 0 {
		t.Fatalf("expected no metrics, got %v", rollup.Metrics)
	}
	// Absent metrics read as zero, which is the defined roll-up for an
	// empty store.
	if rollup.Metrics["bookings"] != 0 {
		t.Fatalf("expected zero bookings, got %v", rollup.Metrics["bookings"])
	}
}

func TestEvaluateIgnoresPolicySegmentsAbsentFromStore(t *testing.T) {
	store := mustStore(t, curve.MethodCorrected, []curve.SegmentCurve{
		{
			Segment: "gold",
			Points: []curve.Point{
				{Level: 0, Metrics: map[string]float64{"bookings": 50}},
			},
		},
	})

	rollup := Evaluate(store, PolicyMap{"gold": 0, "retired_segment": 20})

	if rollup.Segments != 1 {
		t.Fatalf("expected evaluation over 1 store segment, got %d", rollup.Segments)
	}
	if rollup.Metrics["bookings"] != 50 {
		t.Fatalf("expected bookings 50, got %v", rollup.Metrics["bookings"])
	}
}
