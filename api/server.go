package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/docutag/taxonomy"
	"github.com/docutag/taxonomy/db"
	"github.com/docutag/taxonomy/matcher"
	"github.com/docutag/taxonomy/models"
	"github.com/docutag/taxonomy/storage"
)

// maxBodyBytes bounds request bodies
const maxBodyBytes = 64 << 20

// Server represents the API server
type Server struct {
	service     *taxonomy.Service
	db          *db.DB
	store       storage.Store
	gatherer    prometheus.Gatherer
	logger      *slog.Logger
	addr        string
	server      *http.Server
	mux         *http.ServeMux
	corsEnabled bool
}

// Config contains server configuration
type Config struct {
	Addr        string
	CORSEnabled bool
}

// DefaultConfig returns default server configuration
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		CORSEnabled: true,
	}
}

// Option customizes a Server
type Option func(*Server)

// WithDB enables persistence of hierarchy and match runs
func WithDB(database *db.DB) Option {
	return func(s *Server) {
		s.db = database
	}
}

// WithStorage enables report export
func WithStorage(store storage.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// WithGatherer sets the registry served at /metrics. Defaults to prometheus.DefaultGatherer.
func WithGatherer(g prometheus.Gatherer) Option {
	return func(s *Server) {
		s.gatherer = g
	}
}

// WithLogger sets the request logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// NewServer creates a new API server
func NewServer(config Config, service *taxonomy.Service, opts ...Option) (*Server, error) {
	if service == nil {
		return nil, fmt.Errorf("taxonomy service is required")
	}

	s := &Server{
		service:     service,
		gatherer:    prometheus.DefaultGatherer,
		logger:      slog.Default(),
		addr:        config.Addr,
		mux:         http.NewServeMux(),
		corsEnabled: config.CORSEnabled,
	}
	for _, opt := range opts {
		opt(s)
	}

	// Register routes
	s.registerRoutes()

	// Create HTTP server
	s.server = &http.Server{
		Addr:         config.Addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // Allow time for large match batches
		IdleTimeout:  120 * time.Second,
	}

	return s, nil
}

// registerRoutes sets up all API routes
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	s.mux.HandleFunc("/api/hierarchy", s.handleHierarchy)
	s.mux.HandleFunc("/api/hierarchy/", s.handleGetHierarchy) // Handles /api/hierarchy/{id}
	s.mux.HandleFunc("/api/match", s.handleMatch)
	s.mux.HandleFunc("/api/match/", s.handleGetMatch) // Handles /api/match/{id}
	s.mux.HandleFunc("/api/score", s.handleScore)
	s.mux.HandleFunc("/api/reports/", s.handleReport) // Handles /api/reports/{key}
}

// Handler returns the instrumented root handler
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.middleware(s.mux), "taxonomy-api")
}

// DB returns the database, or nil when persistence is disabled
func (s *Server) DB() *db.DB {
	return s.db
}

// Start starts the API server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	if err := s.server.Shutdown(ctx); err != nil {
		return err
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// statusRecorder captures the response status for logging
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// middleware applies common middleware to all routes
func (s *Server) middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// CORS headers
		if s.corsEnabled {
			w.Header().Set("Access-Control-Allow-Origin", "*")
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusOK)
				return
			}
		}

		// Skip health and metrics endpoints to reduce noise
		if r.URL.Path == "/health" || r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.logger.InfoContext(r.Context(), "request completed",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	count := 0
	if s.db != nil {
		var err error
		count, err = s.db.Count()
		if err != nil {
			respondError(w, http.StatusInternalServerError, "failed to get count")
			return
		}
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"status": "healthy",
		"count":  count,
		"time":   time.Now(),
	})
}

// HierarchyRequest represents a hierarchy build request
type HierarchyRequest struct {
	Records []models.RawURLRecord `json:"records"`
	Persist bool                  `json:"persist"`
	Export  bool                  `json:"export"`
}

// HierarchyResponse represents a hierarchy build response
type HierarchyResponse struct {
	RunID     string                  `json:"run_id,omitempty"`
	ReportKey string                  `json:"report_key,omitempty"`
	Result    *models.HierarchyResult `json:"result"`
}

// handleHierarchy builds a hierarchy on POST and lists persisted runs on GET
func (s *Server) handleHierarchy(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.handleBuildHierarchy(w, r)
	case http.MethodGet:
		s.handleListHierarchies(w, r)
	default:
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *Server) handleBuildHierarchy(w http.ResponseWriter, r *http.Request) {
	var req HierarchyRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Records == nil {
		respondError(w, http.StatusBadRequest, "records is required")
		return
	}
	if !s.checkCollaborators(w, req.Persist, req.Export) {
		return
	}

	result, err := s.service.BuildHierarchy(r.Context(), req.Records)
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	resp := HierarchyResponse{Result: result}
	runID := uuid.New().String()

	if req.Persist {
		if err := s.db.SaveHierarchy(runID, result); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to save hierarchy", "run_id", runID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save hierarchy")
			return
		}
		resp.RunID = runID
	}

	if req.Export {
		key, err := s.export(r.Context(), storage.KindHierarchy, runID, result)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "failed to export hierarchy", "run_id", runID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to export hierarchy")
			return
		}
		resp.ReportKey = key
	}

	respondJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListHierarchies(w http.ResponseWriter, r *http.Request) {
	if s.db == nil {
		respondError(w, http.StatusNotFound, "persistence is not configured")
		return
	}

	// Parse pagination parameters
	limit := 20
	offset := 0

	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		fmt.Sscanf(offsetStr, "%d", &offset)
	}

	// Enforce reasonable limits
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	runs, err := s.db.ListRuns(limit, offset)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"runs":   runs,
		"limit":  limit,
		"offset": offset,
	})
}

// handleGetHierarchy retrieves a persisted hierarchy by run ID
func (s *Server) handleGetHierarchy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/hierarchy/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if s.db == nil {
		respondError(w, http.StatusNotFound, "persistence is not configured")
		return
	}

	result, err := s.db.GetHierarchy(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if result == nil {
		respondError(w, http.StatusNotFound, "hierarchy not found")
		return
	}

	respondJSON(w, http.StatusOK, result)
}

// MatchRequest represents a match batch request. Sources are URL strings or
// metric records with a payload.
type MatchRequest struct {
	Sources           []json.RawMessage `json:"sources"`
	Targets           []string          `json:"targets"`
	MinConfidence     *float64          `json:"min_confidence,omitempty"`
	RequireSameDomain *bool             `json:"require_same_domain,omitempty"`
	Persist           bool              `json:"persist"`
	Export            bool              `json:"export"`
}

// MatchResponse represents a match batch response
type MatchResponse struct {
	RunID     string `json:"run_id,omitempty"`
	ReportKey string `json:"report_key,omitempty"`
	*taxonomy.MatchOutput
}

// parseSources decodes sources, reporting whether any carried a metric payload
func parseSources(raw []json.RawMessage) ([]models.MetricRecord, bool, error) {
	records := make([]models.MetricRecord, 0, len(raw))
	hasPayload := false
	for i, msg := range raw {
		var url string
		if err := json.Unmarshal(msg, &url); err == nil {
			records = append(records, models.MetricRecord{URL: url})
			continue
		}
		var record models.MetricRecord
		if err := json.Unmarshal(msg, &record); err != nil {
			return nil, false, fmt.Errorf("source %d must be a URL string or a metric record", i)
		}
		hasPayload = true
		records = append(records, record)
	}
	return records, hasPayload, nil
}

// handleMatch matches a batch of sources onto targets
func (s *Server) handleMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req MatchRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Sources == nil || req.Targets == nil {
		respondError(w, http.StatusBadRequest, "sources and targets are required")
		return
	}
	records, hasPayload, err := parseSources(req.Sources)
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !s.checkCollaborators(w, req.Persist, req.Export) {
		return
	}

	opts := taxonomy.MatchOptions{
		MinConfidence:     req.MinConfidence,
		RequireSameDomain: req.RequireSameDomain,
	}

	var out *taxonomy.MatchOutput
	if hasPayload {
		out, err = s.service.MatchMetrics(r.Context(), records, req.Targets, opts)
	} else {
		out, err = s.service.Match(r.Context(), matcher.SourceURLs(records), req.Targets, opts)
	}
	if err != nil {
		s.respondServiceError(w, r, err)
		return
	}

	resp := MatchResponse{MatchOutput: out}
	runID := uuid.New().String()

	if req.Persist {
		if err := s.db.SaveMatchRun(runID, out.Matches, out.Report); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to save match run", "run_id", runID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to save match run")
			return
		}
		resp.RunID = runID
	}

	if req.Export {
		key, err := s.export(r.Context(), storage.KindUnmatched, runID, out.Report)
		if err != nil {
			s.logger.ErrorContext(r.Context(), "failed to export unmatched report", "run_id", runID, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to export report")
			return
		}
		resp.ReportKey = key
	}

	respondJSON(w, http.StatusOK, resp)
}

// handleGetMatch retrieves a persisted match run by ID
func (s *Server) handleGetMatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/match/")
	if id == "" {
		respondError(w, http.StatusBadRequest, "id is required")
		return
	}
	if s.db == nil {
		respondError(w, http.StatusNotFound, "persistence is not configured")
		return
	}

	run, err := s.db.GetMatchRun(id)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "database error")
		return
	}
	if run == nil {
		respondError(w, http.StatusNotFound, "match run not found")
		return
	}

	respondJSON(w, http.StatusOK, run)
}

// handleReport serves or deletes an exported report by its storage key
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodDelete {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	key := strings.TrimPrefix(r.URL.Path, "/api/reports/")
	if key == "" {
		respondError(w, http.StatusBadRequest, "key is required")
		return
	}
	if s.store == nil {
		respondError(w, http.StatusNotFound, "report export is not configured")
		return
	}

	if r.Method == http.MethodDelete {
		if err := s.store.DeleteReport(r.Context(), key); err != nil {
			s.logger.ErrorContext(r.Context(), "failed to delete report", "key", key, "error", err)
			respondError(w, http.StatusInternalServerError, "failed to delete report")
			return
		}
		w.WriteHeader(http.StatusNoContent)
		return
	}

	data, err := s.store.ReadReport(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		respondError(w, http.StatusNotFound, "report not found")
		return
	}
	if err != nil {
		s.logger.ErrorContext(r.Context(), "failed to read report", "key", key, "error", err)
		respondError(w, http.StatusInternalServerError, "failed to read report")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ScoreRequest represents a pairwise similarity request
type ScoreRequest struct {
	A string `json:"a"`
	B string `json:"b"`
}

// handleScore returns the fuzzy similarity of two URLs
func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		respondError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req ScoreRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.A == "" || req.B == "" {
		respondError(w, http.StatusBadRequest, "a and b are required")
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"a":          req.A,
		"b":          req.B,
		"confidence": s.service.FuzzyMatch(req.A, req.B),
	})
}

// checkCollaborators rejects persist or export requests the server cannot serve
func (s *Server) checkCollaborators(w http.ResponseWriter, persist, export bool) bool {
	if persist && s.db == nil {
		respondError(w, http.StatusBadRequest, "persistence is not configured")
		return false
	}
	if export && s.store == nil {
		respondError(w, http.StatusBadRequest, "report export is not configured")
		return false
	}
	return true
}

// export stores v as a JSON report and returns its key
func (s *Server) export(ctx context.Context, kind, name string, v interface{}) (string, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	return s.store.SaveReport(ctx, kind, name, data)
}

// respondServiceError maps service errors onto status codes
func (s *Server) respondServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, matcher.ErrInvalidConfig):
		respondError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		respondError(w, http.StatusServiceUnavailable, "request cancelled")
	default:
		s.logger.ErrorContext(r.Context(), "request failed", "path", r.URL.Path, "error", err)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeBody decodes a JSON request body, responding 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// respondJSON sends a JSON response
func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// respondError sends an error response
func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}
