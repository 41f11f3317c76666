// Package testutil provides common utility functions for testing.
package testutil

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

// ArtifactFixture controls the shape of a generated artifact bundle.
type ArtifactFixture struct {
	Version       string
	HasCorrected  bool
	BaselineLevel int
}

// DefaultFixture is the bundle most tests want: both estimation methods
// present, baseline at level 5.
func DefaultFixture() ArtifactFixture {
	return ArtifactFixture{Version: "v-fix-1", HasCorrected: true, BaselineLevel: 5}
}

// WriteArtifacts writes a small but complete artifact bundle into a temp
// directory and returns its path. The fixture covers one segmentation
// (loyalty_tier) with two segments and three treatment levels; means are
// per-observation rates, so a per-unit factor of 10000 yields round
// outcome values (e.g. 0.0110 becomes 110).
func WriteArtifacts(t *testing.T, fix ArtifactFixture) string {
	t.Helper()
	dir := t.TempDir()

	manifest := map[string]interface{}{
		"artifact_version": fix.Version,
		"artifact_hash":    "deadbeef",
		"has_corrected":    fix.HasCorrected,
		"treatment_levels": []int{0, 5, 10},
		"segmentations":    []string{"loyalty_tier"},
	}
	writeJSONFile(t, filepath.Join(dir, "manifest.json"), manifest)

	naive := map[string]interface{}{
		"bronze": levelGrid([3]float64{0.0100, 0.0095, 0.0090}),
		"gold":   levelGrid([3]float64{0.0080, 0.0090, 0.0095}),
	}
	corrected := map[string]interface{}{
		"bronze": levelGrid([3]float64{0.0080, 0.0100, 0.0110}),
		"gold":   levelGrid([3]float64{0.0090, 0.0095, 0.0105}),
	}

	segmentation := make(map[string]interface{})
	for segment, grid := range naive {
		methods := map[string]interface{}{"naive": grid}
		if fix.HasCorrected {
			methods["corrected"] = corrected[segment]
		}
		segmentation[segment] = methods
	}

	doseResponse := map[string]interface{}{
		"artifact_version": fix.Version,
		"treatment_levels": []int{0, 5, 10},
		"baseline": map[string]interface{}{
			"name":         "current_policy",
			"policy_level": fix.BaselineLevel,
		},
		"segmentations": map[string]interface{}{
			"loyalty_tier": segmentation,
		},
	}
	writeJSONFile(t, filepath.Join(dir, "dose_response.json"), doseResponse)

	return dir
}

// levelGrid builds the per-level metric summaries for one segment. The three
// means map to levels 0, 5, and 10; refunds stay constant so utility tests
// can exercise a negatively weighted metric without changing the argmax.
func levelGrid(bookings [3]float64) map[string]interface{} {
	grid := make(map[string]interface{}, 3)
	levels := []string{"0", "5", "10"}
	for i, level := range levels {
		grid[level] = map[string]interface{}{
			"bookings": map[string]float64{
				"mean":    bookings[i],
				"ci_low":  bookings[i] - 0.0005,
				"ci_high": bookings[i] + 0.0005,
			},
			"refunds": map[string]float64{
				"mean":    0.0010,
				"ci_low":  0.0005,
				"ci_high": 0.0015,
			},
		}
	}
	return grid
}

func writeJSONFile(t *testing.T, path string, v interface{}) {
	t.Helper()
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("failed to marshal fixture %s: %v", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("failed to write fixture %s: %v", filepath.Base(path), err)
	}
}
