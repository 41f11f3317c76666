package engine

import (
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/promopilot/promopilot/internal/artifact"
	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/policy"
	"github.com/promopilot/promopilot/pkg/testutil"
	"go.uber.org/zap"
)

func loadFixture(t *testing.T, fix testutil.ArtifactFixture) *artifact.Artifacts {
	t.Helper()
	dir := testutil.WriteArtifacts(t, fix)
	artifacts, err := artifact.Load(dir)
	if err != nil {
		t.Fatalf("failed to load fixture artifacts: %v", err)
	}
	return artifacts
}

func testObjective() config.Objective {
	return config.Objective{
		Name:             "bookings",
		PrimaryMetric:    "bookings",
		Weights:          map[string]float64{"bookings": 1.0},
		SegmentDimension: "loyalty_tier",
		LevelSet:         []int{0, 5, 10},
		UnitLabel:        "bookings per 10k sessions",
	}
}

func testAssumptions() policy.Assumptions {
	return policy.Assumptions{
		LevelCap:      10,
		ScalingFactor: 20000,
		PerUnit:       10000,
		AnnualWeeks:   52,
		Weights:       policy.Weights{"bookings": 1.0},
	}
}

func TestRunFullPipeline(t *testing.T) {
	artifacts := loadFixture(t, testutil.DefaultFixture())
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	decision, err := Run(zap.NewNop(), artifacts, testObjective(), testAssumptions(), now)
	if err != nil {
		t.Fatalf("pipeline failed: %v", err)
	}

	wantNaive := policy.PolicyMap{"bronze": 0, "gold": 10}
	if !reflect.DeepEqual(decision.NaivePolicy, wantNaive) {
		t.Fatalf("unexpected naive policy %v", decision.NaivePolicy)
	}
	wantCorrected := policy.PolicyMap{"bronze": 10, "gold": 10}
	if !reflect.DeepEqual(decision.CorrectedPolicy, wantCorrected) {
		t.Fatalf("unexpected corrected policy %v", decision.CorrectedPolicy)
	}

	summary := decision.Summary
	if summary.Naive.Metrics["bookings"] != 92.5 {
		t.Fatalf("expected naive mean 92.5 on corrected curves, got %v", summary.Naive.Metrics["bookings"])
	}
	if summary.Corrected.Metrics["bookings"] != 107.5 {
		t.Fatalf("expected corrected mean 107.5, got %v", summary.Corrected.Metrics["bookings"])
	}
	if summary.Deltas["bookings"] != 15 {
		t.Fatalf("expected delta 15, got %v", summary.Deltas["bookings"])
	}
	if summary.Weekly["bookings"] != 30 {
		t.Fatalf("expected weekly impact 30, got %v", summary.Weekly["bookings"])
	}
	if summary.Annual["bookings"] != 1560 {
		t.Fatalf("expected annual impact 1560, got %v", summary.Annual["bookings"])
	}
	if !reflect.DeepEqual(summary.ChangedSegments, []string{"bronze"}) {
		t.Fatalf("expected bronze to change, got %v", summary.ChangedSegments)
	}
	if summary.StaleFallbacks != 0 {
		t.Fatalf("expected no stale fallbacks, got %d", summary.StaleFallbacks)
	}
	if summary.ArtifactVersion != "v-fix-1" {
		t.Fatalf("unexpected artifact version %s", summary.ArtifactVersion)
	}

	if !strings.Contains(decision.Report.Recommendation, "+30.00") {
		t.Fatalf("expected weekly impact in recommendation, got %q", decision.Report.Recommendation)
	}
	if !decision.Report.Bundle.GeneratedAt.Equal(now) {
		t.Fatalf("expected bundle timestamp %v, got %v", now, decision.Report.Bundle.GeneratedAt)
	}
	if len(decision.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %v", decision.Warnings)
	}
}

func TestRunRequiresCorrectedArtifacts(t *testing.T) {
	fix := testutil.DefaultFixture()
	fix.HasCorrected = false
	artifacts := loadFixture(t, fix)

	_, err := Run(nil, artifacts, testObjective(), testAssumptions(), time.Now())
	if err == nil {
		t.Fatalf("expected precondition error without corrected artifacts")
	}
	if !strings.Contains(err.Error(), "corrected artifacts unavailable") {
		t.Fatalf("unexpected error %v", err)
	}
}

func TestRunRejectsBrokenAssumptions(t *testing.T) {
	artifacts := loadFixture(t, testutil.DefaultFixture())

	assumptions := testAssumptions()
	assumptions.ScalingFactor = -1

	_, err := Run(nil, artifacts, testObjective(), assumptions, time.Now())
	if !errors.Is(err, policy.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
}

func TestRunSurfacesWeightErrors(t *testing.T) {
	artifacts := loadFixture(t, testutil.DefaultFixture())

	assumptions := testAssumptions()
	assumptions.Weights = policy.Weights{"latency": 1.0}

	_, err := Run(nil, artifacts, testObjective(), assumptions, time.Now())
	if !errors.Is(err, policy.ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration for unknown weighted metric, got %v", err)
	}
}
