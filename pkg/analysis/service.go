// Package analysis runs plant analyses either with closed-form mock
// estimates or through the OpenOA engine. The mode is fixed when the
// Service is built.
package analysis

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/levenlabs/go-lflag"
	"github.com/shopspring/decimal"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/metrics"
	"github.com/windyield/windyield/pkg/normalize"
	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/sample"
	"github.com/windyield/windyield/pkg/types"
	"github.com/windyield/windyield/pkg/upload"
)

// Data sources reported in results.
const (
	SourceSample = "sample"
	SourceUpload = "upload"
)

// Config is the analysis configuration, fixed for the process lifetime.
type Config struct {
	UseMockData bool
}

// Configured registers the analysis flags.
func Configured() *Config {
	mock := lflag.Bool("use-mock-data", true, "Return deterministic mock estimates instead of calling the OpenOA engine")

	var c Config
	lflag.Do(func() {
		c.UseMockData = *mock
	})
	return &c
}

// Resolver finds the stored file for an upload id.
type Resolver interface {
	Resolve(ctx context.Context, id string) (string, bool)
}

// Service is the entry point for every analysis kind.
type Service struct {
	cfg       Config
	store     Resolver
	engine    openoa.Engine
	sample    *sample.Dataset
	metrics   *metrics.Metrics
	estimator Estimator
}

// New builds a Service. The estimator is chosen here from cfg.UseMockData and
// never changes.
func New(cfg Config, store Resolver, engine openoa.Engine) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		engine: engine,
		sample: sample.Embedded(),
	}
	if cfg.UseMockData {
		s.estimator = mockEstimator{}
	} else {
		s.estimator = realEstimator{engine: engine}
	}
	return s
}

// WithSample replaces the bundled sample dataset description.
func (s *Service) WithSample(d *sample.Dataset) *Service {
	s.sample = d
	return s
}

// WithMetrics makes the service count analyses.
func (s *Service) WithMetrics(m *metrics.Metrics) *Service {
	s.metrics = m
	return s
}

// Mode is "mock" or "real".
func (s *Service) Mode() string {
	return s.estimator.Mode()
}

// Plant is the resolved input of one analysis.
type Plant struct {
	// Source is SourceSample or SourceUpload.
	Source string
	FileID string
	// Data is nil for the bundled dataset.
	Data        *types.PlantData
	CapacityMW  float64
	NumTurbines int
}

func (p Plant) engineRequest() openoa.Request {
	if p.Data == nil {
		return openoa.Request{Dataset: sample.DatasetID}
	}
	return openoa.Request{Plant: p.Data}
}

func (p Plant) annotate(r types.AnalysisResult) types.AnalysisResult {
	r["data_source"] = p.Source
	if p.Source == SourceUpload {
		r["file_id"] = p.FileID
	}
	return r
}

// resolvePlant loads and normalizes the upload behind fileID. Unknown ids
// fall back to the bundled dataset.
func (s *Service) resolvePlant(ctx context.Context, fileID string) (Plant, error) {
	path, ok := s.store.Resolve(ctx, fileID)
	if !ok {
		if fileID != "" && fileID != upload.DefaultUploadID {
			log.Ctx(ctx).WarnContext(ctx, "upload not found, using sample dataset", slog.String("fileID", fileID))
		}
		return Plant{
			Source:      SourceSample,
			CapacityMW:  s.sample.CapacityMW(),
			NumTurbines: s.sample.Metadata().NumTurbines,
		}, nil
	}

	fileType := types.FileTypeCSV
	if strings.EqualFold(filepath.Ext(path), ".json") {
		fileType = types.FileTypeJSON
	}
	f, err := os.Open(path)
	if err != nil {
		return Plant{}, fmt.Errorf("failed to open upload: %w", err)
	}
	defer f.Close()

	tbl, err := normalize.Read(f, fileType)
	if err != nil {
		return Plant{}, &normalize.ValidationError{Msg: fmt.Sprintf("failed to read upload: %v", err)}
	}
	pd, err := normalize.Normalize(tbl)
	if err != nil {
		return Plant{}, err
	}
	log.Ctx(ctx).DebugContext(
		ctx,
		"normalized upload",
		slog.String("fileID", fileID),
		slog.Int("scadaRows", len(pd.SCADA)),
		slog.Int("assets", len(pd.Assets)),
	)
	return Plant{
		Source:      SourceUpload,
		FileID:      fileID,
		Data:        &pd,
		CapacityMW:  pd.Metadata.CapacityMW,
		NumTurbines: len(pd.Assets),
	}, nil
}

func outcome(err error) string {
	var verr *normalize.ValidationError
	var perr *ParamError
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.As(err, &verr), errors.As(err, &perr):
		return metrics.OutcomeInvalid
	case errors.Is(err, openoa.ErrUnavailable):
		return metrics.OutcomeUnavailable
	default:
		return metrics.OutcomeError
	}
}

// run resolves the plant, invokes fn and records the outcome.
func (s *Service) run(
	ctx context.Context,
	kind types.AnalysisKind,
	fileID string,
	validate func() error,
	fn func(Plant) (types.AnalysisResult, error),
) (types.AnalysisResult, error) {
	res, err := func() (types.AnalysisResult, error) {
		if err := validate(); err != nil {
			return nil, err
		}
		plant, err := s.resolvePlant(ctx, fileID)
		if err != nil {
			return nil, err
		}
		res, err := fn(plant)
		if err != nil {
			return nil, fmt.Errorf("%s analysis: %w", kind, err)
		}
		return plant.annotate(res), nil
	}()
	s.metrics.ObserveAnalysis(string(kind), s.Mode(), outcome(err))
	return res, err
}

// AEP estimates the annual energy production.
func (s *Service) AEP(ctx context.Context, p AEPParams) (types.AnalysisResult, error) {
	return s.run(ctx, types.KindAEP, p.FileID, p.Validate, func(plant Plant) (types.AnalysisResult, error) {
		out, err := s.estimator.AEP(ctx, plant, p)
		return out.Result, err
	})
}

// ElectricalLosses estimates losses between the turbines and the meter.
func (s *Service) ElectricalLosses(ctx context.Context, p ElectricalLossParams) (types.AnalysisResult, error) {
	return s.run(ctx, types.KindElectricalLosses, p.FileID, p.Validate, func(plant Plant) (types.AnalysisResult, error) {
		return s.estimator.ElectricalLosses(ctx, plant, p)
	})
}

// WakeLosses estimates internal wake losses.
func (s *Service) WakeLosses(ctx context.Context, p WakeLossParams) (types.AnalysisResult, error) {
	return s.run(ctx, types.KindWakeLosses, p.FileID, p.Validate, func(plant Plant) (types.AnalysisResult, error) {
		return s.estimator.WakeLosses(ctx, plant, p)
	})
}

// TurbineIdealEnergy estimates the long-term gross energy of the plant.
func (s *Service) TurbineIdealEnergy(ctx context.Context, p IdealEnergyParams) (types.AnalysisResult, error) {
	return s.run(ctx, types.KindTurbineIdealEnergy, p.FileID, p.Validate, func(plant Plant) (types.AnalysisResult, error) {
		return s.estimator.TurbineIdealEnergy(ctx, plant, p)
	})
}

// EYAGap compares the estimated AEP with the pre-construction expectation.
func (s *Service) EYAGap(ctx context.Context, p EYAGapParams) (types.AnalysisResult, error) {
	return s.run(ctx, types.KindEYAGap, p.FileID, p.Validate, func(plant Plant) (types.AnalysisResult, error) {
		out, err := s.estimator.AEP(ctx, plant, AEPParams{
			Iterations:        eyaGapIterations,
			UncertaintyMethod: DefaultUncertaintyMethod,
			FileID:            p.FileID,
		})
		if err != nil {
			return nil, err
		}
		return eyaGap(out.AEPGWh, p.ExpectedAEPGWh, s.Mode()), nil
	})
}

func eyaGap(actual, expected float64, mode string) types.AnalysisResult {
	gapPct := round((actual-expected)/expected*100, 2)
	return types.AnalysisResult{
		"actual_aep_gwh":     actual,
		"expected_aep_gwh":   expected,
		"gap_gwh":            round(actual-expected, 2),
		"gap_pct":            gapPct,
		"meets_expectations": gapPct >= eyaGapTolerancePct,
		"analysis_type":      types.KindEYAGap.ResultType(mode == modeMock),
	}
}

// round rounds half away from zero to places decimals.
func round(v float64, places int32) float64 {
	return decimal.NewFromFloat(v).Round(places).InexactFloat64()
}
