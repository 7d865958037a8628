package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/windyield/windyield/pkg/common"
	"github.com/windyield/windyield/pkg/log"
)

// engineVersionTimeout bounds the info endpoint's call to the engine.
const engineVersionTimeout = 5 * time.Second

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"message": "Welcome to " + s.appName,
		"version": common.Version(),
		"docs":    "/docs",
		"health":  "/health",
		"api":     apiPrefix,
	})
}

type healthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "healthy",
		Version:   common.Version(),
		Timestamp: time.Now().UTC(),
	})
}

type infoResponse struct {
	Name          string  `json:"name"`
	Version       string  `json:"version"`
	Environment   string  `json:"environment"`
	Mode          string  `json:"analysis_mode"`
	OpenOAVersion *string `json:"openoa_version"`
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	res := infoResponse{
		Name:        s.appName,
		Version:     common.Version(),
		Environment: s.environment,
		Mode:        s.analysis.Mode(),
	}
	if s.engine != nil {
		vctx, cancel := context.WithTimeout(ctx, engineVersionTimeout)
		v, err := s.engine.Version(vctx)
		cancel()
		if err != nil {
			log.Ctx(ctx).DebugContext(ctx, "failed to get engine version", slog.Any("error", err))
		} else {
			res.OpenOAVersion = &v
		}
	}
	writeJSON(w, http.StatusOK, res)
}
