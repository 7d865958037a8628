package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/NYTimes/gziphandler"
	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/analysis"
	"github.com/windyield/windyield/pkg/common"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/metrics"
	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/sample"
	"github.com/windyield/windyield/pkg/upload"
	"golang.org/x/time/rate"
)

const (
	apiPrefix = "/api/v1"

	errCodeValidation    = "VALIDATION_ERROR"
	errCodeInvalidUpload = "INVALID_UPLOAD"
	errCodeInvalidPlant  = "INVALID_PLANT_DATA"
	errCodeNotFound      = "NOT_FOUND"
	errCodeRateLimited   = "RATE_LIMITED"
	errCodeUnavailable   = "DEPENDENCY_UNAVAILABLE"
	errCodeInternal      = "INTERNAL_ERROR"
)

// Server exposes the analyses, the sample dataset and the upload store over
// HTTP.
type Server struct {
	analysis *analysis.Service
	uploads  *upload.Store
	sample   *sample.Dataset
	engine   openoa.Engine
	metrics  *metrics.Metrics

	listenAddr     string
	appName        string
	environment    string
	corsOrigins    []string
	maxUploadBytes int64
	uploadLimiter  *ipLimiter
	serverName     string
	httpServer     *http.Server
}

// Deps are the services the HTTP handlers call into. They are built after
// flags are parsed, so they are attached with WithDeps.
type Deps struct {
	Analysis *analysis.Service
	Uploads  *upload.Store
	Sample   *sample.Dataset
	Engine   openoa.Engine
	Metrics  *metrics.Metrics
}

// Configured initializes the Server.
// It uses lflag to register command-line flags for configuration.
func Configured() *Server {
	srv := &Server{
		serverName: "windyield",
	}
	revision := os.Getenv("K_REVISION")
	if revision != "" {
		srv.serverName = revision
	}

	// get the port from PORT when running in cloud run
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}

	listenAddr := lflag.String("http-listen", ":"+port, "HTTP server listen address")
	appName := lflag.String("app-name", "WindYield API", "Application name reported by the info endpoint")
	environment := lflag.String("environment", "development", "Deployment environment name")
	corsOrigins := lflag.String("cors-origins", `["http://localhost:5173"]`, "Allowed CORS origins as a JSON array or comma-delimited list")
	maxUploadBytes := lflag.Int("max-upload-bytes", 50<<20, "Maximum accepted upload size in bytes")
	uploadInterval := lflag.Duration("upload-rate-limit", 2*time.Second, "Minimum average interval between uploads from one IP (0 disables)")
	uploadBurst := lflag.Int("upload-rate-burst", 5, "Number of uploads one IP may send in a burst")

	lflag.Do(func() {
		srv.listenAddr = *listenAddr
		srv.appName = *appName
		srv.environment = *environment
		srv.corsOrigins = parseCORSOrigins(*corsOrigins)
		srv.maxUploadBytes = int64(*maxUploadBytes)
		if *uploadInterval > 0 {
			srv.uploadLimiter = newIPLimiter(rate.Every(*uploadInterval), *uploadBurst)
		}
	})

	return srv
}

// WithDeps attaches the services. It must be called before Run.
func (s *Server) WithDeps(d Deps) *Server {
	s.analysis = d.Analysis
	s.uploads = d.Uploads
	s.sample = d.Sample
	s.engine = d.Engine
	s.metrics = d.Metrics
	return s
}

func (s *Server) setupHandler() http.Handler {
	mux := http.NewServeMux()
	handle := func(pattern, name string, h http.HandlerFunc) {
		mux.Handle(pattern, s.metrics.Wrap(name, h))
	}

	handle("GET /{$}", "root", s.handleRoot)
	handle("GET /health", "health", s.handleHealth)
	if s.metrics != nil {
		mux.Handle("GET /metrics", s.metrics.Handler())
	}
	handle("GET "+apiPrefix+"/info", "info", s.handleInfo)

	handle("GET "+apiPrefix+"/data/sample/summary", "sample_summary", s.handleSampleSummary)
	handle("GET "+apiPrefix+"/data/sample/metadata", "sample_metadata", s.handleSampleMetadata)

	handle("GET "+apiPrefix+"/analysis/types", "analysis_types", s.handleAnalysisTypes)
	handle("POST "+apiPrefix+"/analysis/aep", "analysis_aep", s.handleAEP)
	handle("POST "+apiPrefix+"/analysis/electrical-losses", "analysis_electrical_losses", s.handleElectricalLosses)
	handle("POST "+apiPrefix+"/analysis/wake-losses", "analysis_wake_losses", s.handleWakeLosses)
	handle("POST "+apiPrefix+"/analysis/turbine-ideal-energy", "analysis_turbine_ideal_energy", s.handleTurbineIdealEnergy)
	handle("POST "+apiPrefix+"/analysis/eya-gap", "analysis_eya_gap", s.handleEYAGap)

	uploadHandler := http.HandlerFunc(s.handleUpload)
	if s.uploadLimiter != nil {
		uploadHandler = s.uploadLimiter.middleware(uploadHandler).ServeHTTP
	}
	handle("POST "+apiPrefix+"/upload-plant-data", "upload", uploadHandler)
	handle("POST "+apiPrefix+"/cleanup-old-files", "cleanup", s.handleCleanup)
	handle("GET "+apiPrefix+"/uploads", "uploads_list", s.handleListUploads)
	handle("GET "+apiPrefix+"/uploads/{id}", "uploads_get", s.handleGetUpload)
	handle("DELETE "+apiPrefix+"/uploads/{id}", "uploads_delete", s.handleDeleteUpload)

	var h http.Handler = mux
	h = recoverMiddleware(h)
	h = requestMiddleware(h)
	h = s.corsMiddleware(h)
	h = securityHeadersMiddleware(h)
	h = gziphandler.GzipHandler(h)
	return s.revisionMiddleware(h)
}

// Run starts the HTTP server and blocks until the context is canceled or an error occurs.
// It also handles graceful shutdown when the context is done.
func (s *Server) Run(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:        s.listenAddr,
		Handler:     s.setupHandler(),
		ReadTimeout: time.Minute,
		// analyses on the engine can take minutes
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  15 * time.Second,
	}

	// use a channel to capturing server errors
	errChan := make(chan error, 1)
	go func() {
		defer close(errChan)
		log.Ctx(ctx).InfoContext(
			ctx,
			"starting server",
			slog.String("addr", s.listenAddr),
			slog.String("environment", s.environment),
			slog.String("version", common.Version()),
			slog.String("mode", s.analysis.Mode()),
		)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Ctx(ctx).InfoContext(ctx, "shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	}
}

type errorResponse struct {
	Detail    string    `json:"detail"`
	ErrorCode string    `json:"error_code"`
	Timestamp time.Time `json:"timestamp"`
}

func writeJSONError(w http.ResponseWriter, msg, errCode string, code int) {
	writeJSON(w, code, errorResponse{
		Detail:    msg,
		ErrorCode: errCode,
		Timestamp: time.Now().UTC(),
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Default().Warn("failed to write response", slog.Any("error", err))
		panic(http.ErrAbortHandler)
	}
}

func (s *Server) revisionMiddleware(next http.Handler) http.Handler {
	if s.serverName == "" {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Server", s.serverName)
		next.ServeHTTP(w, r)
	})
}
