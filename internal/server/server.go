// Package server exposes the policy decision engine over HTTP: metadata and
// recommendation endpoints mirroring the offline artifact shapes, plus the
// naive-vs-corrected impact comparison and export bundle.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/promopilot/promopilot/internal/artifact"
	"github.com/promopilot/promopilot/internal/config"
	"github.com/promopilot/promopilot/internal/curve"
	"github.com/promopilot/promopilot/internal/engine"
	"github.com/promopilot/promopilot/internal/policy"
	"github.com/promopilot/promopilot/pkg/validation"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type handler struct {
	logger       *zap.Logger
	conf         *config.Configuration
	cache        *artifact.Cache
	metrics      *Metrics
	version      string
	maxBodyBytes int64
	now          func() time.Time

	respMu    sync.Mutex
	respCache map[string]*recommendResponse
}

// NewHandler constructs the HTTP handler that serves the decision API.
func NewHandler(logger *zap.Logger, conf *config.Configuration, cache *artifact.Cache, serverConf *Config, version string) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	maxBodyBytes := int64(0)
	if serverConf != nil {
		maxBodyBytes = serverConf.MaxBodyBytes
	}

	h := &handler{
		logger:       logger,
		conf:         conf,
		cache:        cache,
		metrics:      NewMetrics(),
		version:      version,
		maxBodyBytes: maxBodyBytes,
		now:          time.Now,
		respCache:    make(map[string]*recommendResponse),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", h.instrument("healthz", h.handleHealthz))
	mux.HandleFunc("/api/v1/metadata", h.instrument("metadata", h.handleMetadata))
	mux.HandleFunc("/api/v1/recommend", h.instrument("recommend", h.handleRecommend))
	mux.HandleFunc("/api/v1/impact", h.instrument("impact", h.handleImpact))
	mux.HandleFunc("/api/v1/export", h.instrument("export", h.handleExport))
	mux.HandleFunc("/api/version", h.instrument("version", h.handleVersion))
	mux.Handle("/metrics", promhttp.HandlerFor(h.metrics.Registry(), promhttp.HandlerOpts{}))

	return mux
}

// statusRecorder captures the response status for logging and metrics.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (h *handler) instrument(endpoint string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := h.now()

		requestID := r.Header.Get("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		w.Header().Set("X-Request-Id", requestID)
		r = r.WithContext(withRequestID(r.Context(), requestID))

		if h.maxBodyBytes > 0 && r.Body != nil {
			r.Body = http.MaxBytesReader(w, r.Body, h.maxBodyBytes)
		}

		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next(recorder, r)

		elapsed := time.Since(start)
		h.metrics.ObserveRequest(endpoint, fmt.Sprintf("%d", recorder.status), elapsed.Seconds())
		h.logger.Info("request completed",
			zap.String("op", "server."+endpoint),
			zap.String("requestId", requestID),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", recorder.status),
			zap.Duration("duration", elapsed),
		)
	}
}

type requestIDKey struct{}

func withRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

func requestIDFrom(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey{}).(string); ok {
		return id
	}
	return ""
}

func (h *handler) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) handleVersion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]string{"version": h.version})
}

type metadataResponse struct {
	ArtifactVersion string   `json:"artifactVersion"`
	Objectives      []string `json:"objectives"`
	TreatmentLevels []int    `json:"treatmentLevels"`
	Segmentations   []string `json:"segmentations"`
	HasCorrected    bool     `json:"hasCorrected"`
}

func (h *handler) handleMetadata(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	artifacts, err := h.cache.Get()
	if err != nil {
		h.respondErrorWithOp(w, http.StatusServiceUnavailable, err.Error(), "server.metadata")
		return
	}

	h.writeJSON(w, http.StatusOK, metadataResponse{
		ArtifactVersion: artifacts.Version(),
		Objectives:      h.conf.ObjectiveNames(),
		TreatmentLevels: artifacts.TreatmentLevels(),
		Segmentations:   artifacts.Segmentations(),
		HasCorrected:    artifacts.HasCorrected(),
	})
}

type recommendRequest struct {
	Objective string `json:"objective"`
	MaxLevel  int    `json:"maxLevel"`
	SegmentBy string `json:"segmentBy"`
	Method    string `json:"method"`
}

type segmentRecommendation struct {
	Segment          string             `json:"segment"`
	RecommendedLevel int                `json:"recommendedLevel"`
	Expected         map[string]float64 `json:"expected"`
	DeltaVsBaseline  map[string]float64 `json:"deltaVsBaseline"`
	LevelDelta       int                `json:"levelDelta"`
}

type chartPoint struct {
	Level   int                `json:"level"`
	Metrics map[string]float64 `json:"metrics"`
	CILow   float64            `json:"ciLow"`
	CIHigh  float64            `json:"ciHigh"`
}

type segmentDoseResponse struct {
	Segment string       `json:"segment"`
	Points  []chartPoint `json:"points"`
}

type recommendResponse struct {
	ArtifactVersion string                  `json:"artifactVersion"`
	MethodUsed      string                  `json:"methodUsed"`
	Segments        []segmentRecommendation `json:"segments"`
	DoseResponse    []segmentDoseResponse   `json:"doseResponse"`
	Baseline        curve.Baseline          `json:"baseline"`
	Warnings        []string                `json:"warnings,omitempty"`
	RequestID       string                  `json:"requestId,omitempty"`
}

func (h *handler) handleRecommend(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	var req recommendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err), "server.recommend")
		return
	}

	artifacts, err := h.cache.Get()
	if err != nil {
		h.respondErrorWithOp(w, http.StatusServiceUnavailable, err.Error(), "server.recommend")
		return
	}

	objective, ok := h.conf.Objective(req.Objective)
	if !ok {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("invalid objective %q; must be one of %v", req.Objective, h.conf.ObjectiveNames()), "server.recommend")
		return
	}
	if err := validation.ValidateChoice("method", req.Method, []string{curve.MethodNaive, curve.MethodCorrected}); err != nil {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), "server.recommend")
		return
	}
	if err := validation.ValidateChoice("segmentBy", req.SegmentBy, artifacts.Segmentations()); err != nil {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), "server.recommend")
		return
	}
	if err := validation.ValidateLevel(req.MaxLevel, artifacts.TreatmentLevels()); err != nil {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), "server.recommend")
		return
	}

	naive, corrected, warnings, err := artifacts.StorePair(req.SegmentBy, objective.PrimaryMetric, h.conf.Assumptions.PerUnit)
	if err != nil {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), "server.recommend")
		return
	}

	store := naive
	methodUsed := curve.MethodNaive
	if req.Method == curve.MethodCorrected {
		if corrected != nil {
			store = corrected
			methodUsed = curve.MethodCorrected
		}
		// Missing corrected artifacts fail safely to the naive curves; the
		// attached warning tells the caller which method actually answered.
	}

	cacheKey := fmt.Sprintf("%s|%d|%s|%s|%s", req.Objective, req.MaxLevel, req.SegmentBy, methodUsed, artifacts.Version())
	if cached := h.cachedRecommendation(cacheKey); cached != nil {
		response := *cached
		response.RequestID = requestIDFrom(r.Context())
		h.writeJSON(w, http.StatusOK, response)
		return
	}

	policyMap, err := policy.Optimize(store, req.MaxLevel, policy.Weights(objective.Weights))
	if err != nil {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), "server.recommend")
		return
	}

	response := buildRecommendResponse(store, policyMap, methodUsed, warnings)
	h.storeRecommendation(cacheKey, response)

	out := *response
	out.RequestID = requestIDFrom(r.Context())
	h.writeJSON(w, http.StatusOK, out)
}

func (h *handler) cachedRecommendation(key string) *recommendResponse {
	h.respMu.Lock()
	defer h.respMu.Unlock()
	return h.respCache[key]
}

func (h *handler) storeRecommendation(key string, response *recommendResponse) {
	h.respMu.Lock()
	defer h.respMu.Unlock()
	h.respCache[key] = response
}

func buildRecommendResponse(store *curve.Store, policyMap policy.PolicyMap, methodUsed string, warnings []string) *recommendResponse {
	baseline := store.Baseline()
	response := &recommendResponse{
		ArtifactVersion: store.ArtifactVersion(),
		MethodUsed:      methodUsed,
		Baseline:        baseline,
		Warnings:        warnings,
	}

	for _, segment := range store.Segments() {
		c, _ := store.Curve(segment)

		chart := segmentDoseResponse{Segment: segment}
		for _, p := range c.Points {
			chart.Points = append(chart.Points, chartPoint{
				Level:   p.Level,
				Metrics: p.Metrics,
				CILow:   p.CILow,
				CIHigh:  p.CIHigh,
			})
		}
		response.DoseResponse = append(response.DoseResponse, chart)

		level, ok := policyMap[segment]
		if !ok {
			continue
		}
		chosen, _ := c.PointAt(level)

		basePoint := c.First()
		if p, found := c.PointAt(baseline.Level); found {
			basePoint = p
		}

		delta := make(map[string]float64, len(chosen.Metrics))
		for metric, value := range chosen.Metrics {
			delta[metric] = value - basePoint.Metrics[metric]
		}

		response.Segments = append(response.Segments, segmentRecommendation{
			Segment:          segment,
			RecommendedLevel: level,
			Expected:         chosen.Metrics,
			DeltaVsBaseline:  delta,
			LevelDelta:       level - basePoint.Level,
		})
	}

	return response
}

type impactRequest struct {
	Objective string `json:"objective"`
	MaxLevel  *int   `json:"maxLevel,omitempty"`
}

type impactResponse struct {
	Impact         policy.ImpactSummary `json:"impact"`
	Recommendation string               `json:"recommendation"`
	Evidence       string               `json:"evidence"`
	Diff           string               `json:"diff"`
	Warnings       []string             `json:"warnings,omitempty"`
	RequestID      string               `json:"requestId,omitempty"`
}

func (h *handler) handleImpact(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.runDecision(w, r, "server.impact")
	if !ok {
		return
	}

	h.metrics.ObserveStaleFallbacks(decision.Summary.StaleFallbacks)

	h.writeJSON(w, http.StatusOK, impactResponse{
		Impact:         *decision.Summary,
		Recommendation: decision.Report.Recommendation,
		Evidence:       decision.Report.Evidence,
		Diff:           decision.Report.Diff,
		Warnings:       decision.Warnings,
		RequestID:      requestIDFrom(r.Context()),
	})
}

func (h *handler) handleExport(w http.ResponseWriter, r *http.Request) {
	decision, ok := h.runDecision(w, r, "server.export")
	if !ok {
		return
	}

	w.Header().Set("Content-Disposition", "attachment; filename=policy-bundle.json")
	h.writeJSON(w, http.StatusOK, decision.Report.Bundle)
}

func (h *handler) runDecision(w http.ResponseWriter, r *http.Request, op string) (*engine.Decision, bool) {
	if r.Method != http.MethodPost {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return nil, false
	}

	var req impactRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondErrorWithOp(w, http.StatusBadRequest, fmt.Sprintf("failed to decode request: %v", err), op)
		return nil, false
	}

	artifacts, err := h.cache.Get()
	if err != nil {
		h.respondErrorWithOp(w, http.StatusServiceUnavailable, err.Error(), op)
		return nil, false
	}

	objective, ok := h.conf.Objective(req.Objective)
	if !ok {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity,
			fmt.Sprintf("invalid objective %q; must be one of %v", req.Objective, h.conf.ObjectiveNames()), op)
		return nil, false
	}

	assumptions := h.conf.EngineAssumptions(objective)
	if req.MaxLevel != nil {
		if err := validation.ValidateLevel(*req.MaxLevel, artifacts.TreatmentLevels()); err != nil {
			h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), op)
			return nil, false
		}
		assumptions.LevelCap = *req.MaxLevel
	}

	decision, err := engine.Run(h.logger, artifacts, objective, assumptions, h.now())
	if err != nil {
		h.respondErrorWithOp(w, http.StatusUnprocessableEntity, err.Error(), op)
		return nil, false
	}
	return decision, true
}

func (h *handler) respondErrorWithOp(w http.ResponseWriter, status int, msg string, op string) {
	h.logger.Error("request failed",
		zap.String("op", op),
		zap.Int("status", status),
		zap.String("error", msg),
	)

	h.writeJSON(w, status, map[string]string{"error": msg})
}

func (h *handler) writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Error("failed to write JSON response", zap.Error(err))
	}
}
