// Package engine wires the policy decision pipeline together: artifact
// stores in, optimized policies, impact comparison, and rendered narrative
// out. Both the CLI and the HTTP server drive decisions through this package.
package engine

import (
	"fmt"
	"time"

	"github.com/promopilot/promopilot/internal/artifact"
	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/curve"
	"github.com/promopilot/promopilot/internal/narrative"
	"github.com/promopilot/promopilot/internal/policy"
	"go.uber.org/zap"
)

// Decision is the complete outcome of one decision run for one objective.
type Decision struct {
	Objective       config.Objective
	Assumptions     policy.Assumptions
	Naive           *curve.Store
	Corrected       *curve.Store
	NaivePolicy     policy.PolicyMap
	CorrectedPolicy policy.PolicyMap
	Summary         *policy.ImpactSummary
	Report          narrative.Report
	Warnings        []string
}

// Run executes the full pipeline: build both curve stores for the objective's
// segmentation, optimize each independently, compare both optimal policies on
// the corrected curves, and render the decision artifacts. Both stores must
// be available; a missing corrected store is a precondition failure, not a
// degraded mode.
func Run(logger *zap.Logger, artifacts *artifact.Artifacts, objective config.Objective, assumptions policy.Assumptions, now time.Time) (*Decision, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := assumptions.Validate(); err != nil {
		return nil, err
	}

	naive, corrected, warnings, err := artifacts.StorePair(objective.SegmentDimension, objective.PrimaryMetric, assumptions.PerUnit)
	if err != nil {
		return nil, err
	}
	if corrected == nil {
		return nil, fmt.Errorf("corrected artifacts unavailable for segmentation %q; impact comparison requires both methods", objective.SegmentDimension)
	}

	naivePolicy, err := policy.Optimize(naive, assumptions.LevelCap, assumptions.Weights)
	if err != nil {
		return nil, fmt.Errorf("naive policy optimization failed: %w", err)
	}
	correctedPolicy, err := policy.Optimize(corrected, assumptions.LevelCap, assumptions.Weights)
	if err != nil {
		return nil, fmt.Errorf("corrected policy optimization failed: %w", err)
	}

	summary, err := policy.Compare(corrected, naivePolicy, correctedPolicy, assumptions)
	if err != nil {
		return nil, err
	}

	report := narrative.Render(summary, naivePolicy, correctedPolicy, assumptions, narrative.Options{
		Objective:     objective.Name,
		PrimaryMetric: objective.PrimaryMetric,
		UnitLabel:     objective.UnitLabel,
		GeneratedAt:   now,
	})

	logger.Info("decision computed",
		zap.String("op", "engine.Run"),
		zap.String("objective", objective.Name),
		zap.String("segmentBy", objective.SegmentDimension),
		zap.Int("levelCap", assumptions.LevelCap),
		zap.Int("segments", corrected.Len()),
		zap.Int("changedSegments", summary.ChangedCount),
		zap.Int("staleFallbacks", summary.StaleFallbacks),
	)

	return &Decision{
		Objective:       objective,
		Assumptions:     assumptions,
		Naive:           naive,
		Corrected:       corrected,
		NaivePolicy:     naivePolicy,
		CorrectedPolicy: correctedPolicy,
		Summary:         summary,
		Report:          report,
		Warnings:        warnings,
	}, nil
}
