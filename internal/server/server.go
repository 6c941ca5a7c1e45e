package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/tributary-ai/model-router/internal/cache"
	"github.com/tributary-ai/model-router/internal/catalog"
	"github.com/tributary-ai/model-router/internal/experiment"
	"github.com/tributary-ai/model-router/internal/metrics"
	"github.com/tributary-ai/model-router/internal/middleware"
	"github.com/tributary-ai/model-router/internal/monitoring"
	"github.com/tributary-ai/model-router/internal/routing"
	"github.com/tributary-ai/model-router/internal/shadow"
	"github.com/tributary-ai/model-router/internal/types"
)

// Server represents the HTTP server
type Server struct {
	router      *routing.Router
	catalog     *catalog.Catalog
	store       *metrics.Store
	experiments *experiment.Manager
	shadow      *shadow.Evaluator
	cache       *cache.AdaptiveCache
	sink        monitoring.Sink

	httpServer *http.Server
	logger     *logrus.Logger
	config     *ServerConfig
	validation *middleware.ValidationMiddleware
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port           string        `yaml:"port"`
	ReadTimeout    time.Duration `yaml:"read_timeout"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
	MaxHeaderBytes int           `yaml:"max_header_bytes"`
	ValidateSpec   bool          `yaml:"validate_spec"`
	SpecPath       string        `yaml:"spec_path"`
}

// Deps bundles the routing core components the server exposes.
type Deps struct {
	Router      *routing.Router
	Catalog     *catalog.Catalog
	Store       *metrics.Store
	Experiments *experiment.Manager
	Shadow      *shadow.Evaluator
	Cache       *cache.AdaptiveCache
	Sink        monitoring.Sink
}

// NewServer creates a new server instance
func NewServer(deps Deps, config *ServerConfig, logger *logrus.Logger) (*Server, error) {
	server := &Server{
		router:      deps.Router,
		catalog:     deps.Catalog,
		store:       deps.Store,
		experiments: deps.Experiments,
		shadow:      deps.Shadow,
		cache:       deps.Cache,
		sink:        deps.Sink,
		logger:      logger,
		config:      config,
	}
	if server.sink == nil {
		server.sink = monitoring.NopSink{}
	}

	validation, err := middleware.NewValidationMiddleware(&middleware.ValidationConfig{
		Enabled:  config.ValidateSpec,
		SpecPath: config.SpecPath,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize validation middleware: %w", err)
	}
	server.validation = validation

	return server, nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	r := s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           ":" + s.config.Port,
		Handler:        r,
		ReadTimeout:    s.config.ReadTimeout,
		WriteTimeout:   s.config.WriteTimeout,
		MaxHeaderBytes: s.config.MaxHeaderBytes,
	}

	s.logger.WithField("port", s.config.Port).Info("Starting model router server")
	return s.httpServer.ListenAndServe()
}

// Stop stops the HTTP server gracefully
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Stopping model router server")
	return s.httpServer.Shutdown(ctx)
}

// setupRoutes configures all HTTP routes
func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.Use(s.loggingMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.contentTypeMiddleware)
	r.Use(s.validation.Middleware)

	api := r.PathPrefix("/v1").Subrouter()

	// Routing
	api.HandleFunc("/route", s.handleRoute).Methods("POST")
	api.HandleFunc("/route/cache", s.handleClearDecisionCache).Methods("DELETE")
	api.HandleFunc("/outcomes", s.handleObserveOutcome).Methods("POST")
	api.HandleFunc("/models", s.handleListModels).Methods("GET")

	// Semantic cache
	api.HandleFunc("/cache/lookup", s.handleCacheLookup).Methods("POST")
	api.HandleFunc("/cache/store", s.handleCacheStore).Methods("POST")
	api.HandleFunc("/cache/stats", s.handleCacheStats).Methods("GET")
	api.HandleFunc("/cache/optimize", s.handleCacheOptimize).Methods("POST")

	// Experiments
	api.HandleFunc("/experiments", s.handleRegisterExperiment).Methods("POST")
	api.HandleFunc("/experiments", s.handleListExperiments).Methods("GET")
	api.HandleFunc("/experiments/{domain}/rewards", s.handleRecordReward).Methods("POST")
	api.HandleFunc("/experiments/{domain}/summary", s.handleExperimentSummary).Methods("GET")

	// Shadow evaluation
	api.HandleFunc("/shadow/report", s.handleShadowReport).Methods("GET")
	api.HandleFunc("/shadow/weights", s.handleSetShadowWeights).Methods("PUT")

	// Operational endpoints (no /v1 prefix)
	r.HandleFunc("/health", s.handleHealthCheck).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	s.setupDocsRoutes(r)

	return r
}

// Middleware

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()

		// Capture the status code for the access log.
		wrapped := &responseWriter{ResponseWriter: w, statusCode: 200}

		next.ServeHTTP(wrapped, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      wrapped.statusCode,
			"duration_ms": time.Since(start).Milliseconds(),
			"user_agent":  r.UserAgent(),
			"remote_addr": r.RemoteAddr,
		}).Info("HTTP request")
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) contentTypeMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == "POST" || r.Method == "PUT" {
			contentType := r.Header.Get("Content-Type")
			if contentType != "application/json" && contentType != "" {
				s.writeErrorResponse(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}

// Handlers

// handleRoute resolves a routing decision for one request.
func (s *Server) handleRoute(w http.ResponseWriter, r *http.Request) {
	var req types.RoutingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if req.ID == "" {
		req.ID = fmt.Sprintf("route-%d", time.Now().UnixNano())
	}
	req.Timestamp = time.Now()

	decision, err := s.router.Route(r.Context(), &req)
	if err != nil {
		if types.IsKind(err, types.ErrInvalidInput) {
			s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
			return
		}
		s.writeErrorResponse(w, http.StatusServiceUnavailable, fmt.Sprintf("Routing failed: %v", err))
		return
	}

	s.writeJSON(w, http.StatusOK, decision)
}

// handleClearDecisionCache drops all memoized routing decisions.
func (s *Server) handleClearDecisionCache(w http.ResponseWriter, r *http.Request) {
	s.router.ClearCache()
	w.WriteHeader(http.StatusNoContent)
}

// handleObserveOutcome folds a completed request's outcome back into the
// metrics store.
func (s *Server) handleObserveOutcome(w http.ResponseWriter, r *http.Request) {
	var outcome types.Outcome
	if err := json.NewDecoder(r.Body).Decode(&outcome); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	if err := s.router.ObserveOutcome(outcome); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	w.WriteHeader(http.StatusAccepted)
}

// handleListModels returns the catalog together with observed metrics.
func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"models":    s.catalog.All(),
		"metrics":   s.store.Snapshot(),
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

type cacheLookupRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type cacheStoreRequest struct {
	Model     string  `json:"model"`
	Prompt    string  `json:"prompt"`
	Response  string  `json:"response"`
	Cost      float64 `json:"cost"`
	LatencyMs float64 `json:"latency_ms"`
}

func (s *Server) handleCacheLookup(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Semantic cache is disabled")
		return
	}

	var req cacheLookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if req.Model == "" || req.Prompt == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "model and prompt are required")
		return
	}

	entry, hit := s.cache.Lookup(r.Context(), req.Model, req.Prompt)
	response := map[string]interface{}{"hit": hit}
	if hit {
		response["response"] = entry.Response
		response["model"] = entry.Model
		response["cached_at"] = entry.CreatedAt
	}
	s.writeJSON(w, http.StatusOK, response)
}

func (s *Server) handleCacheStore(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Semantic cache is disabled")
		return
	}

	var req cacheStoreRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if req.Model == "" || req.Prompt == "" {
		s.writeErrorResponse(w, http.StatusBadRequest, "model and prompt are required")
		return
	}

	s.cache.Store(r.Context(), req.Model, req.Prompt, req.Response, req.Cost, req.LatencyMs)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Semantic cache is disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.cache.Stats())
}

func (s *Server) handleCacheOptimize(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Semantic cache is disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.cache.Optimize(true))
}

type registerExperimentRequest struct {
	Domain            string                      `json:"domain"`
	ControlPolicy     string                      `json:"control_policy"`
	Challengers       []experiment.ChallengerSpec `json:"challengers"`
	AutoActivateAfter int64                       `json:"auto_activate_after"`
}

func (s *Server) handleRegisterExperiment(w http.ResponseWriter, r *http.Request) {
	var req registerExperimentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	id, err := s.experiments.Register(req.Domain, req.ControlPolicy, req.Challengers, req.AutoActivateAfter)
	if err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, err.Error())
		return
	}

	s.writeJSON(w, http.StatusCreated, map[string]interface{}{
		"experiment_id": id,
		"domain":        req.Domain,
		"phase":         experiment.PhaseShadow,
	})
}

func (s *Server) handleListExperiments(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"domains": s.experiments.Domains(),
	})
}

type recordRewardRequest struct {
	Policy  string            `json:"policy"`
	Arm     string            `json:"arm,omitempty"`
	Reward  float64           `json:"reward"`
	Context map[string]string `json:"context,omitempty"`
}

func (s *Server) handleRecordReward(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]

	var req recordRewardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}

	var err error
	if req.Arm != "" {
		err = s.experiments.RecordArmReward(domain, req.Policy, req.Arm, req.Reward, req.Context)
	} else {
		err = s.experiments.RecordReward(domain, req.Policy, req.Reward, req.Context)
	}
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}

	s.sink.ExperimentReward(domain, req.Policy)
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleExperimentSummary(w http.ResponseWriter, r *http.Request) {
	domain := mux.Vars(r)["domain"]

	summary, err := s.experiments.Summary(domain)
	if err != nil {
		s.writeErrorResponse(w, http.StatusNotFound, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, summary)
}

func (s *Server) handleShadowReport(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Shadow evaluation is disabled")
		return
	}
	s.writeJSON(w, http.StatusOK, s.shadow.Report())
}

func (s *Server) handleSetShadowWeights(w http.ResponseWriter, r *http.Request) {
	if s.shadow == nil {
		s.writeErrorResponse(w, http.StatusServiceUnavailable, "Shadow evaluation is disabled")
		return
	}

	var weights shadow.Weights
	if err := json.NewDecoder(r.Body).Decode(&weights); err != nil {
		s.writeErrorResponse(w, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %v", err))
		return
	}
	if weights.Quality < 0 || weights.Cost < 0 || weights.Latency < 0 {
		s.writeErrorResponse(w, http.StatusBadRequest, "weights cannot be negative")
		return
	}

	s.shadow.SetWeights(weights)
	s.writeJSON(w, http.StatusOK, map[string]interface{}{"weights": s.shadow.Weights()})
}

// handleHealthCheck returns overall health status
func (s *Server) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	response := map[string]interface{}{
		"status":    "healthy",
		"models":    len(s.catalog.Names()),
		"timestamp": time.Now().Unix(),
	}
	s.writeJSON(w, http.StatusOK, response)
}

// Helper functions

func (s *Server) writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func (s *Server) writeErrorResponse(w http.ResponseWriter, statusCode int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := map[string]interface{}{
		"error": map[string]interface{}{
			"message": message,
			"type":    "api_error",
			"code":    statusCode,
		},
		"timestamp": time.Now().Unix(),
	}

	json.NewEncoder(w).Encode(errorResp)
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
