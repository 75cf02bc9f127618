package http

import (
	"context"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	sharedobs "github.com/couchcryptid/storm-data-shared/observability"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/couchcryptid/school-connectivity-etl/internal/csvio"
	"github.com/couchcryptid/school-connectivity-etl/internal/domain"
	"github.com/couchcryptid/school-connectivity-etl/internal/pipeline"
)

// Runner executes pipeline stages and exposes the run ledger.
type Runner interface {
	Run(ctx context.Context, stage string) (pipeline.StageResult, error)
	RunAll(ctx context.Context) ([]pipeline.StageResult, error)
	Runs(ctx context.Context, limit int) ([]domain.Run, error)
	CheckReadiness(ctx context.Context) error
}

// Options configures the HTTP server.
type Options struct {
	Addr        string
	CORSOrigins []string
	Paths       pipeline.Paths
}

// Server exposes the stage triggers, the enriched data and the health,
// readiness and metrics endpoints.
type Server struct {
	httpServer *http.Server
	runner     Runner
	paths      pipeline.Paths
	logger     *slog.Logger
}

// NewServer creates an HTTP server with the API routes plus /healthz,
// /readyz and /metrics.
func NewServer(opts Options, runner Runner, logger *slog.Logger) *Server {
	mux := http.NewServeMux()

	s := &Server{
		httpServer: &http.Server{
			Addr:        opts.Addr,
			Handler:     corsHandler(opts.CORSOrigins)(mux),
			ReadTimeout: 10 * time.Second,
			// Stage runs wait on the elevation API and the model, so
			// responses have no write deadline.
			WriteTimeout: 0,
			IdleTimeout:  60 * time.Second,
		},
		runner: runner,
		paths:  opts.Paths,
		logger: logger,
	}

	mux.HandleFunc("POST /api/mergeSchoolsAndTowers", s.handleStage(domain.StageMerge))
	mux.HandleFunc("GET /api/addElevation", s.handleStage(domain.StageElevation))
	mux.HandleFunc("GET /api/addPopulationDensity", s.handleStage(domain.StagePopulation))
	mux.HandleFunc("GET /api/addRecommendation", s.handleStage(domain.StageRecommendation))
	mux.HandleFunc("POST /api/runPipeline", s.handleRunAll)

	mux.HandleFunc("GET /api/getSchoolAndTowers", s.handleSchoolsAndTowers)
	mux.HandleFunc("GET /api/getTopSchools", s.handleTopSchools)
	mux.HandleFunc("GET /api/schools.geojson", s.handleGeoJSON)
	mux.HandleFunc("GET /api/runs", s.handleRuns)

	mux.HandleFunc("GET /healthz", sharedobs.LivenessHandler())
	mux.HandleFunc("GET /readyz", sharedobs.ReadinessHandler(runner))
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

func corsHandler(origins []string) func(http.Handler) http.Handler {
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	})
}

// Start begins listening. Returns http.ErrServerClosed on graceful shutdown.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully drains connections within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// ServeHTTP delegates to the underlying handler, useful for testing.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.httpServer.Handler.ServeHTTP(w, r)
}

type stageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
	Result  any    `json:"result"`
}

type dataResponse struct {
	Success bool `json:"success"`
	Data    any  `json:"data"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func (s *Server) handleStage(stage string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		res, err := s.runner.Run(r.Context(), stage)
		if err != nil {
			s.writeRunError(w, stage, err)
			return
		}
		writeJSON(w, http.StatusOK, stageResponse{Success: true, Message: "Processing complete", Result: res})
	}
}

func (s *Server) handleRunAll(w http.ResponseWriter, r *http.Request) {
	results, err := s.runner.RunAll(r.Context())
	if err != nil {
		s.writeRunError(w, "all", err)
		return
	}
	writeJSON(w, http.StatusOK, stageResponse{Success: true, Message: "Processing complete", Result: results})
}

func (s *Server) writeRunError(w http.ResponseWriter, stage string, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, pipeline.ErrBusy):
		status = http.StatusConflict
	case errors.Is(err, pipeline.ErrUnknownStage):
		status = http.StatusNotFound
	default:
		s.logger.Error("stage request failed", "stage", stage, "error", err)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) handleSchoolsAndTowers(w http.ResponseWriter, _ *http.Request) {
	rows, err := csvio.Read[domain.PopulationRecord](s.paths.Population, ';')
	if err != nil {
		s.writeReadError(w, domain.StagePopulation, err)
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: rows})
}

func (s *Server) handleTopSchools(w http.ResponseWriter, _ *http.Request) {
	recs, err := csvio.Read[domain.Recommendation](s.paths.Ready, ';')
	if err != nil {
		s.writeReadError(w, domain.StageRecommendation, err)
		return
	}
	domain.RankRecommendations(recs)
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: recs})
}

func (s *Server) handleGeoJSON(w http.ResponseWriter, _ *http.Request) {
	rows, err := csvio.Read[domain.PopulationRecord](s.paths.Population, ';')
	if err != nil {
		s.writeReadError(w, domain.StagePopulation, err)
		return
	}
	fc, err := schoolFeatures(rows)
	if err != nil {
		s.logger.Error("build geojson failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	w.Header().Set("Content-Type", "application/geo+json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(fc) //nolint:errcheck // client may have gone away
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = n
	}
	runs, err := s.runner.Runs(r.Context(), limit)
	if err != nil {
		s.logger.Error("list runs failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, dataResponse{Success: true, Data: runs})
}

// writeReadError maps a missing stage output to 404 and anything else to 500.
func (s *Server) writeReadError(w http.ResponseWriter, producer string, err error) {
	if errors.Is(err, fs.ErrNotExist) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "no data yet: run the " + producer + " stage first"})
		return
	}
	s.logger.Error("read stage output failed", "stage", producer, "error", err)
	writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // client may have gone away
}
