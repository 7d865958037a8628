package server

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/windyield/windyield/pkg/analysis"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/normalize"
	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/types"
)

// maxAnalysisBodyBytes caps analysis request bodies, which only carry a few
// parameters.
const maxAnalysisBodyBytes = 64 << 10

var analysisIDPrefixes = map[types.AnalysisKind]string{
	types.KindAEP:                "aep",
	types.KindElectricalLosses:   "elec_losses",
	types.KindWakeLosses:         "wake_losses",
	types.KindTurbineIdealEnergy: "turbine_ideal",
	types.KindEYAGap:             "eya_gap",
}

var analysisNames = map[types.AnalysisKind]string{
	types.KindAEP:                "AEP",
	types.KindElectricalLosses:   "Electrical losses",
	types.KindWakeLosses:         "Wake loss",
	types.KindTurbineIdealEnergy: "Turbine ideal energy",
	types.KindEYAGap:             "EYA gap",
}

func analysisCatalog() []types.AnalysisType {
	entry := func(kind types.AnalysisKind, name, description string) types.AnalysisType {
		endpoint := apiPrefix + "/analysis/" + strings.ReplaceAll(string(kind), "_", "-")
		return types.AnalysisType{
			Type:        kind,
			Name:        name,
			Description: description,
			Status:      "available",
			Endpoint:    &endpoint,
		}
	}
	return []types.AnalysisType{
		entry(types.KindAEP, "Annual Energy Production", "Monte Carlo AEP analysis with uncertainty quantification"),
		entry(types.KindElectricalLosses, "Electrical Losses", "Estimate electrical losses in the wind plant"),
		entry(types.KindWakeLosses, "Wake Losses", "Internal wake loss estimation"),
		entry(types.KindTurbineIdealEnergy, "Turbine Ideal Energy", "Long-term turbine ideal energy estimation"),
		entry(types.KindEYAGap, "EYA Gap Analysis", "Compare actual vs expected AEP from energy yield assessment"),
	}
}

func (s *Server) handleAnalysisTypes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, struct {
		AnalysisTypes []types.AnalysisType `json:"analysis_types"`
	}{analysisCatalog()})
}

// analysisID builds ids like aep_20240101_120000_a1b2c3.
func analysisID(kind types.AnalysisKind, at time.Time) string {
	id := uuid.New()
	return fmt.Sprintf(
		"%s_%s_%s",
		analysisIDPrefixes[kind],
		at.UTC().Format("20060102_150405"),
		hex.EncodeToString(id[:3]),
	)
}

// decodeBody decodes an optional JSON body into v. An empty body leaves the
// defaults in v untouched.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxAnalysisBodyBytes))
	err := dec.Decode(v)
	if err == nil && dec.More() {
		err = errors.New("unexpected data after JSON object")
	}
	if err != nil && !errors.Is(err, io.EOF) {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			writeJSONError(w, fmt.Sprintf("request body exceeds the %d byte limit", mbe.Limit), errCodeValidation, http.StatusRequestEntityTooLarge)
			return false
		}
		writeJSONError(w, "invalid request body: "+err.Error(), errCodeValidation, http.StatusUnprocessableEntity)
		return false
	}
	return true
}

// runAnalysis validates the parameters, runs fn and writes the envelope or
// the mapped error.
func (s *Server) runAnalysis(
	w http.ResponseWriter,
	r *http.Request,
	kind types.AnalysisKind,
	validate func() error,
	fn func(ctx context.Context) (types.AnalysisResult, error),
) {
	ctx := r.Context()
	if err := validate(); err != nil {
		writeJSONError(w, err.Error(), errCodeValidation, http.StatusUnprocessableEntity)
		return
	}

	createdAt := time.Now().UTC()
	res, err := fn(ctx)
	if err != nil {
		var verr *normalize.ValidationError
		var perr *analysis.ParamError
		switch {
		case errors.As(err, &perr):
			writeJSONError(w, perr.Error(), errCodeValidation, http.StatusUnprocessableEntity)
		case errors.As(err, &verr):
			writeJSONError(w, verr.Error(), errCodeInvalidPlant, http.StatusBadRequest)
		case errors.Is(err, openoa.ErrUnavailable):
			log.Ctx(ctx).WarnContext(ctx, "analysis engine unavailable", slog.String("kind", string(kind)), slog.Any("error", err))
			writeJSONError(w, "analysis engine unavailable", errCodeUnavailable, http.StatusServiceUnavailable)
		default:
			log.Ctx(ctx).ErrorContext(ctx, "analysis failed", slog.String("kind", string(kind)), slog.Any("error", err))
			writeJSONError(w, analysisNames[kind]+" analysis failed", errCodeInternal, http.StatusInternalServerError)
		}
		return
	}

	completedAt := time.Now().UTC()
	writeJSON(w, http.StatusOK, types.AnalysisResponse{
		ID:          analysisID(kind, createdAt),
		Status:      "completed",
		Result:      res,
		CreatedAt:   createdAt,
		CompletedAt: &completedAt,
	})
}

type aepRequest struct {
	Iterations        int    `json:"iterations"`
	UncertaintyMethod string `json:"uncertainty_method"`
	FileID            string `json:"file_id"`
}

func (s *Server) handleAEP(w http.ResponseWriter, r *http.Request) {
	req := aepRequest{
		Iterations:        analysis.DefaultIterations,
		UncertaintyMethod: analysis.DefaultUncertaintyMethod,
	}
	if !decodeBody(w, r, &req) {
		return
	}
	p := analysis.AEPParams{
		Iterations:        req.Iterations,
		UncertaintyMethod: req.UncertaintyMethod,
		FileID:            req.FileID,
	}
	s.runAnalysis(w, r, types.KindAEP, p.Validate, func(ctx context.Context) (types.AnalysisResult, error) {
		return s.analysis.AEP(ctx, p)
	})
}

type electricalLossRequest struct {
	LossThresholdPct float64 `json:"loss_threshold_pct"`
	FileID           string  `json:"file_id"`
}

func (s *Server) handleElectricalLosses(w http.ResponseWriter, r *http.Request) {
	req := electricalLossRequest{LossThresholdPct: analysis.DefaultLossThresholdPct}
	if !decodeBody(w, r, &req) {
		return
	}
	p := analysis.ElectricalLossParams{
		LossThresholdPct: req.LossThresholdPct,
		FileID:           req.FileID,
	}
	s.runAnalysis(w, r, types.KindElectricalLosses, p.Validate, func(ctx context.Context) (types.AnalysisResult, error) {
		return s.analysis.ElectricalLosses(ctx, p)
	})
}

type wakeLossRequest struct {
	BinWidth float64 `json:"bin_width"`
	FileID   string  `json:"file_id"`
}

func (s *Server) handleWakeLosses(w http.ResponseWriter, r *http.Request) {
	req := wakeLossRequest{BinWidth: analysis.DefaultBinWidth}
	if !decodeBody(w, r, &req) {
		return
	}
	p := analysis.WakeLossParams{
		BinWidth: req.BinWidth,
		FileID:   req.FileID,
	}
	s.runAnalysis(w, r, types.KindWakeLosses, p.Validate, func(ctx context.Context) (types.AnalysisResult, error) {
		return s.analysis.WakeLosses(ctx, p)
	})
}

type idealEnergyRequest struct {
	UseLTDistribution bool   `json:"use_lt_distribution"`
	FileID            string `json:"file_id"`
}

func (s *Server) handleTurbineIdealEnergy(w http.ResponseWriter, r *http.Request) {
	req := idealEnergyRequest{UseLTDistribution: true}
	if !decodeBody(w, r, &req) {
		return
	}
	p := analysis.IdealEnergyParams{
		UseLTDistribution: req.UseLTDistribution,
		FileID:            req.FileID,
	}
	s.runAnalysis(w, r, types.KindTurbineIdealEnergy, p.Validate, func(ctx context.Context) (types.AnalysisResult, error) {
		return s.analysis.TurbineIdealEnergy(ctx, p)
	})
}

type eyaGapRequest struct {
	// nil when the field is absent so a missing value is rejected
	ExpectedAEPGWh *float64 `json:"expected_aep_gwh"`
	FileID         string   `json:"file_id"`
}

func (s *Server) handleEYAGap(w http.ResponseWriter, r *http.Request) {
	var req eyaGapRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ExpectedAEPGWh == nil {
		writeJSONError(w, "expected_aep_gwh is required", errCodeValidation, http.StatusUnprocessableEntity)
		return
	}
	p := analysis.EYAGapParams{
		ExpectedAEPGWh: *req.ExpectedAEPGWh,
		FileID:         req.FileID,
	}
	s.runAnalysis(w, r, types.KindEYAGap, p.Validate, func(ctx context.Context) (types.AnalysisResult, error) {
		return s.analysis.EYAGap(ctx, p)
	})
}
