package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/promopilot/promopilot/internal/artifact"
	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/narrative"
	"github.com/promopilot/promopilot/pkg/testutil"
	"go.uber.org/zap"
)

func testConfiguration() *config.Configuration {
	return &config.Configuration{
		Objectives: []config.Objective{
			{
				Name:             "bookings",
				PrimaryMetric:    "bookings",
				Weights:          map[string]float64{"bookings": 1.0},
				SegmentDimension: "loyalty_tier",
				LevelSet:         []int{0, 5, 10},
				UnitLabel:        "bookings per 10k sessions",
			},
		},
		Assumptions: config.Assumptions{
			LevelCap:      10,
			ScalingFactor: 20000,
			PerUnit:       10000,
			AnnualWeeks:   52,
		},
	}
}

func newTestHandler(t *testing.T, fix testutil.ArtifactFixture) http.Handler {
	t.Helper()
	dir := testutil.WriteArtifacts(t, fix)
	cache := artifact.NewCache(dir, 0)
	return NewHandler(zap.NewNop(), testConfiguration(), cache, &Config{MaxBodyBytes: 1 << 20}, "test")
}

func postJSON(t *testing.T, h http.Handler, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("failed to marshal request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeJSON(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

func TestHealthz(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	decodeJSON(t, rec, &body)
	if body["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", body)
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("expected a request ID header")
	}
}

func TestRequestIDPropagation(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "req-42")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if got := rec.Header().Get("X-Request-Id"); got != "req-42" {
		t.Fatalf("expected caller request ID to round-trip, got %q", got)
	}
}

func TestMetadata(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/metadata", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body metadataResponse
	decodeJSON(t, rec, &body)
	if body.ArtifactVersion != "v-fix-1" {
		t.Fatalf("unexpected artifact version %s", body.ArtifactVersion)
	}
	if !reflect.DeepEqual(body.Objectives, []string{"bookings"}) {
		t.Fatalf("unexpected objectives %v", body.Objectives)
	}
	if !reflect.DeepEqual(body.TreatmentLevels, []int{0, 5, 10}) {
		t.Fatalf("unexpected levels %v", body.TreatmentLevels)
	}
	if !reflect.DeepEqual(body.Segmentations, []string{"loyalty_tier"}) {
		t.Fatalf("unexpected segmentations %v", body.Segmentations)
	}
	if !body.HasCorrected {
		t.Fatalf("expected corrected artifacts")
	}
}

func TestRecommendCorrected(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := postJSON(t, h, "/api/v1/recommend", recommendRequest{
		Objective: "bookings",
		MaxLevel:  10,
		SegmentBy: "loyalty_tier",
		Method:    "corrected",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body recommendResponse
	decodeJSON(t, rec, &body)

	if body.MethodUsed != "corrected" {
		t.Fatalf("expected corrected method, got %s", body.MethodUsed)
	}
	if body.Baseline.Level != 5 {
		t.Fatalf("expected baseline level 5, got %d", body.Baseline.Level)
	}
	if len(body.Segments) != 2 {
		t.Fatalf("expected 2 segment recommendations, got %d", len(body.Segments))
	}

	bronze := body.Segments[0]
	if bronze.Segment != "bronze" || bronze.RecommendedLevel != 10 {
		t.Fatalf("unexpected bronze recommendation %+v", bronze)
	}
	if bronze.Expected["bookings"] != 110 {
		t.Fatalf("expected bronze bookings 110, got %v", bronze.Expected["bookings"])
	}
	// Baseline sits at level 5 (corrected bronze bookings 100).
	if bronze.DeltaVsBaseline["bookings"] != 10 {
		t.Fatalf("expected bronze delta 10 vs baseline, got %v", bronze.DeltaVsBaseline["bookings"])
	}
	if bronze.LevelDelta != 5 {
		t.Fatalf("expected bronze level delta 5, got %d", bronze.LevelDelta)
	}

	if len(body.DoseResponse) != 2 {
		t.Fatalf("expected dose-response curves for both segments, got %d", len(body.DoseResponse))
	}
	if len(body.DoseResponse[0].Points) != 3 {
		t.Fatalf("expected 3 chart points, got %d", len(body.DoseResponse[0].Points))
	}
	if body.RequestID == "" {
		t.Fatalf("expected request ID in response body")
	}
}

func TestRecommendCappedAtLowerLevel(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := postJSON(t, h, "/api/v1/recommend", recommendRequest{
		Objective: "bookings",
		MaxLevel:  5,
		SegmentBy: "loyalty_tier",
		Method:    "corrected",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body recommendResponse
	decodeJSON(t, rec, &body)
	for _, s := range body.Segments {
		if s.RecommendedLevel > 5 {
			t.Fatalf("segment %s recommendation %d exceeds the cap", s.Segment, s.RecommendedLevel)
		}
	}
}

func TestRecommendValidation(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	tests := []struct {
		name string
		req  recommendRequest
	}{
		{"unknown objective", recommendRequest{Objective: "latency", MaxLevel: 10, SegmentBy: "loyalty_tier", Method: "naive"}},
		{"unknown method", recommendRequest{Objective: "bookings", MaxLevel: 10, SegmentBy: "loyalty_tier", Method: "bayesian"}},
		{"unknown segmentation", recommendRequest{Objective: "bookings", MaxLevel: 10, SegmentBy: "region", Method: "naive"}},
		{"level outside the set", recommendRequest{Objective: "bookings", MaxLevel: 7, SegmentBy: "loyalty_tier", Method: "naive"}},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			rec := postJSON(t, h, "/api/v1/recommend", test.req)
			if rec.Code != http.StatusUnprocessableEntity {
				t.Fatalf("expected 422, got %d: %s", rec.Code, rec.Body.String())
			}
			var body map[string]string
			decodeJSON(t, rec, &body)
			if body["error"] == "" {
				t.Fatalf("expected an error message")
			}
		})
	}
}

func TestRecommendMalformedBody(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/recommend", strings.NewReader("{not json"))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestRecommendFallsBackToNaive(t *testing.T) {
	fix := testutil.DefaultFixture()
	fix.HasCorrected = false
	h := newTestHandler(t, fix)

	rec := postJSON(t, h, "/api/v1/recommend", recommendRequest{
		Objective: "bookings",
		MaxLevel:  10,
		SegmentBy: "loyalty_tier",
		Method:    "corrected",
	})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body recommendResponse
	decodeJSON(t, rec, &body)
	if body.MethodUsed != "naive" {
		t.Fatalf("expected naive fallback, got %s", body.MethodUsed)
	}
	found := false
	for _, w := range body.Warnings {
		if w == artifact.WarningCorrectedUnavailable {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected fallback warning, got %v", body.Warnings)
	}
}

func TestImpact(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := postJSON(t, h, "/api/v1/impact", impactRequest{Objective: "bookings"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var body impactResponse
	decodeJSON(t, rec, &body)

	if body.Impact.Weekly["bookings"] != 30 {
		t.Fatalf("expected weekly impact 30, got %v", body.Impact.Weekly["bookings"])
	}
	if body.Impact.Annual["bookings"] != 1560 {
		t.Fatalf("expected annual impact 1560, got %v", body.Impact.Annual["bookings"])
	}
	if !reflect.DeepEqual(body.Impact.ChangedSegments, []string{"bronze"}) {
		t.Fatalf("expected bronze to change, got %v", body.Impact.ChangedSegments)
	}
	if !strings.Contains(body.Recommendation, "+30.00") {
		t.Fatalf("expected weekly impact in recommendation, got %q", body.Recommendation)
	}
	if body.Evidence == "" || body.Diff == "" {
		t.Fatalf("expected evidence and diff narratives")
	}
}

func TestImpactMaxLevelOverrideValidated(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	bad := 7
	rec := postJSON(t, h, "/api/v1/impact", impactRequest{Objective: "bookings", MaxLevel: &bad})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422 for level outside the set, got %d", rec.Code)
	}

	capped := 5
	rec = postJSON(t, h, "/api/v1/impact", impactRequest{Objective: "bookings", MaxLevel: &capped})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 for capped request, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestExportBundle(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := postJSON(t, h, "/api/v1/export", impactRequest{Objective: "bookings"})

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if got := rec.Header().Get("Content-Disposition"); !strings.Contains(got, "attachment") {
		t.Fatalf("expected attachment disposition, got %q", got)
	}

	var bundle narrative.Bundle
	decodeJSON(t, rec, &bundle)
	if bundle.SchemaVersion != 1 {
		t.Fatalf("unexpected schema version %d", bundle.SchemaVersion)
	}
	if bundle.Objective != "bookings" {
		t.Fatalf("unexpected objective %s", bundle.Objective)
	}
	if bundle.Impact.Weekly["bookings"] != 30 {
		t.Fatalf("expected weekly impact 30 in bundle, got %v", bundle.Impact.Weekly["bookings"])
	}

	// The bundle alone reproduces the narratives.
	report := narrative.FromBundle(bundle)
	if !strings.Contains(report.Recommendation, "+30.00") {
		t.Fatalf("expected reproducible recommendation, got %q", report.Recommendation)
	}
}

func TestMethodNotAllowed(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/recommend", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	h := newTestHandler(t, testutil.DefaultFixture())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 from metrics endpoint, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "promopilot_requests_total") {
		t.Fatalf("expected request counter in metrics exposition")
	}
}
