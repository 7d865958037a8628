package analysis

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"github.com/windyield/windyield/pkg/metrics"
	"github.com/windyield/windyield/pkg/normalize"
	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/openoa/openoamock"
	"github.com/windyield/windyield/pkg/upload"
)

type fakeResolver map[string]string

func (f fakeResolver) Resolve(ctx context.Context, id string) (string, bool) {
	if id == "" || id == upload.DefaultUploadID {
		return "", false
	}
	path, ok := f[id]
	return path, ok
}

func writeUpload(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const scadaCSV = "date_time,wind_turbine_name,power,wind_speed\n" +
	"2020-01-01 00:00,T1,100,5\n" +
	"2020-01-01 00:00,T2,120,6\n" +
	"2020-01-01 00:10,T1,110,5.5\n"

func defaultAEP() AEPParams {
	return AEPParams{Iterations: DefaultIterations, UncertaintyMethod: DefaultUncertaintyMethod}
}

func TestMockAEP(t *testing.T) {
	ctx := context.Background()
	s := New(Config{UseMockData: true}, fakeResolver{}, nil)
	assert.Equal(t, "mock", s.Mode())

	res, err := s.AEP(ctx, defaultAEP())
	require.NoError(t, err)
	assert.Equal(t, 25.14, res["aep_gwh"])
	assert.Equal(t, 5.2, res["uncertainty_pct"])
	assert.Equal(t, 35.0, res["capacity_factor"])
	assert.Equal(t, 8.2, res["plant_capacity_mw"])
	assert.Equal(t, 1000, res["iterations"])
	assert.Equal(t, "monte_carlo_aep_mock", res["analysis_type"])
	assert.Equal(t, SourceSample, res["data_source"])
	assert.NotContains(t, res, "file_id")

	again, err := s.AEP(ctx, defaultAEP())
	require.NoError(t, err)
	assert.Equal(t, res, again)
}

func TestMockAEPFormula(t *testing.T) {
	for _, c := range []float64{0.5, 2.05, 8.2, 10.5, 99.9, 350} {
		want := round(c*0.35*8760/1000, 2)
		assert.Equal(t, want, mockAEP(c), "capacity %v", c)
	}
	assert.Equal(t, 32.19, mockAEP(10.5))
}

func TestParamValidation(t *testing.T) {
	ctx := context.Background()
	m := metrics.New()
	s := New(Config{UseMockData: true}, fakeResolver{}, nil).WithMetrics(m)

	for _, it := range []int{0, 99, 10001} {
		_, err := s.AEP(ctx, AEPParams{Iterations: it, UncertaintyMethod: "bootstrap"})
		var perr *ParamError
		require.True(t, errors.As(err, &perr), "iterations %d", it)
		assert.Equal(t, "iterations", perr.Field)
	}
	for _, it := range []int{100, 10000} {
		_, err := s.AEP(ctx, AEPParams{Iterations: it, UncertaintyMethod: "analytical"})
		assert.NoError(t, err, "iterations %d", it)
	}

	_, err := s.AEP(ctx, AEPParams{Iterations: 1000, UncertaintyMethod: "guess"})
	assert.Error(t, err)
	_, err = s.ElectricalLosses(ctx, ElectricalLossParams{LossThresholdPct: 101})
	assert.Error(t, err)
	_, err = s.WakeLosses(ctx, WakeLossParams{BinWidth: 0.4})
	assert.Error(t, err)
	_, err = s.EYAGap(ctx, EYAGapParams{ExpectedAEPGWh: 0})
	assert.Error(t, err)

	assert.Equal(t, 4.0, analysesCount(t, m, "aep", metrics.OutcomeInvalid))
	assert.Equal(t, 1.0, analysesCount(t, m, "eya_gap", metrics.OutcomeInvalid))
}

// analysesCount reads windyield_analyses_total for kind and outcome.
func analysesCount(t *testing.T, m *metrics.Metrics, kind, outcome string) float64 {
	t.Helper()
	mfs, err := m.Registry().Gather()
	require.NoError(t, err)
	for _, mf := range mfs {
		if mf.GetName() != "windyield_analyses_total" {
			continue
		}
		for _, metric := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range metric.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["kind"] == kind && labels["outcome"] == outcome {
				return metric.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func TestMockAnalyses(t *testing.T) {
	ctx := context.Background()
	s := New(Config{UseMockData: true}, fakeResolver{}, nil)

	t.Run("ElectricalLosses", func(t *testing.T) {
		res, err := s.ElectricalLosses(ctx, ElectricalLossParams{LossThresholdPct: DefaultLossThresholdPct})
		require.NoError(t, err)
		assert.Equal(t, 2.1, res["electrical_losses_pct"])
		assert.Equal(t, 527.9, res["estimated_annual_loss_mwh"])
		assert.Equal(t, false, res["exceeds_threshold"])
		assert.Equal(t, "electrical_losses_mock", res["analysis_type"])

		res, err = s.ElectricalLosses(ctx, ElectricalLossParams{LossThresholdPct: 2})
		require.NoError(t, err)
		assert.Equal(t, true, res["exceeds_threshold"])
	})

	t.Run("WakeLosses", func(t *testing.T) {
		res, err := s.WakeLosses(ctx, WakeLossParams{BinWidth: 2.5})
		require.NoError(t, err)
		assert.Equal(t, 8.5, res["wake_losses_por_pct"])
		assert.Equal(t, 8.1, res["wake_losses_lt_pct"])
		assert.Equal(t, 2.5, res["bin_width"])
		assert.Equal(t, 4, res["num_turbines"])
		assert.Equal(t, "wake_losses_mock", res["analysis_type"])
	})

	t.Run("TurbineIdealEnergy", func(t *testing.T) {
		res, err := s.TurbineIdealEnergy(ctx, IdealEnergyParams{UseLTDistribution: true})
		require.NoError(t, err)
		assert.Equal(t, 28.06, res["ideal_energy_gwh"])
		assert.Equal(t, 25.14, res["actual_aep_gwh"])
		assert.Equal(t, true, res["use_lt_distribution"])
		assert.Equal(t, "turbine_ideal_energy_mock", res["analysis_type"])
	})

	t.Run("EYAGap", func(t *testing.T) {
		res, err := s.EYAGap(ctx, EYAGapParams{ExpectedAEPGWh: 30})
		require.NoError(t, err)
		assert.Equal(t, 25.14, res["actual_aep_gwh"])
		assert.Equal(t, 30.0, res["expected_aep_gwh"])
		assert.Equal(t, -4.86, res["gap_gwh"])
		assert.Equal(t, -16.2, res["gap_pct"])
		assert.Equal(t, false, res["meets_expectations"])
		assert.Equal(t, "eya_gap_mock", res["analysis_type"])

		res, err = s.EYAGap(ctx, EYAGapParams{ExpectedAEPGWh: 26})
		require.NoError(t, err)
		assert.Equal(t, -3.31, res["gap_pct"])
		assert.Equal(t, true, res["meets_expectations"])
	})
}

func TestEYAGapBoundary(t *testing.T) {
	// exactly five percent below expectations still meets them
	res := eyaGap(95, 100, modeMock)
	assert.Equal(t, -5.0, res["gap_pct"])
	assert.Equal(t, true, res["meets_expectations"])

	res = eyaGap(94.99, 100, modeReal)
	assert.Equal(t, -5.01, res["gap_pct"])
	assert.Equal(t, false, res["meets_expectations"])
	assert.Equal(t, "eya_gap_real", res["analysis_type"])
}

func TestPlantResolution(t *testing.T) {
	ctx := context.Background()

	t.Run("Upload", func(t *testing.T) {
		s := New(Config{UseMockData: true}, fakeResolver{"abc": writeUpload(t, "abc.csv", scadaCSV)}, nil)
		res, err := s.AEP(ctx, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap", FileID: "abc"})
		require.NoError(t, err)
		assert.Equal(t, 32.19, res["aep_gwh"])
		assert.Equal(t, normalize.PlaceholderCapacityMW, res["plant_capacity_mw"])
		assert.Equal(t, SourceUpload, res["data_source"])
		assert.Equal(t, "abc", res["file_id"])

		wake, err := s.WakeLosses(ctx, WakeLossParams{BinWidth: 1, FileID: "abc"})
		require.NoError(t, err)
		assert.Equal(t, 2, wake["num_turbines"])
	})

	t.Run("JSONUpload", func(t *testing.T) {
		path := writeUpload(t, "j.json", `[{"time":"2020-01-01T00:00:00Z","wtur_w":1,"ws":2}]`)
		s := New(Config{UseMockData: true}, fakeResolver{"j": path}, nil)
		res, err := s.AEP(ctx, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap", FileID: "j"})
		require.NoError(t, err)
		assert.Equal(t, SourceUpload, res["data_source"])
	})

	t.Run("UnknownFallsBackToSample", func(t *testing.T) {
		s := New(Config{UseMockData: true}, fakeResolver{}, nil)
		res, err := s.AEP(ctx, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap", FileID: "missing"})
		require.NoError(t, err)
		assert.Equal(t, SourceSample, res["data_source"])
		assert.Equal(t, 25.14, res["aep_gwh"])
	})

	t.Run("InvalidUpload", func(t *testing.T) {
		path := writeUpload(t, "bad.csv", "a,b\n1,2\n")
		s := New(Config{UseMockData: true}, fakeResolver{"bad": path}, nil)
		_, err := s.AEP(ctx, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap", FileID: "bad"})
		var verr *normalize.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, []string{"time", "power", "wind_speed"}, verr.Missing)
	})

	t.Run("UnreadableUpload", func(t *testing.T) {
		path := writeUpload(t, "bad.json", "{")
		s := New(Config{UseMockData: true}, fakeResolver{"bad": path}, nil)
		_, err := s.AEP(ctx, AEPParams{Iterations: 500, UncertaintyMethod: "bootstrap", FileID: "bad"})
		var verr *normalize.ValidationError
		assert.True(t, errors.As(err, &verr))
	})
}

func TestRealAEP(t *testing.T) {
	ctx := context.Background()
	engine := new(openoamock.MockEngine)
	m := metrics.New()
	s := New(Config{UseMockData: false}, fakeResolver{}, engine).WithMetrics(m)
	assert.Equal(t, "real", s.Mode())

	engine.On("RunAEP", mock.Anything, openoa.Request{Dataset: "la_haute_borne"}, openoa.AEPParams{Iterations: 1000, UncertaintyMethod: "bootstrap"}).
		Return(openoa.AEPResults{
			CapacityMW:   8.2,
			AEPGWh:       openoa.Series{24, 25, 26},
			Availability: openoa.Series{0.0123},
			Curtailment:  openoa.Series{0.001, 0.003},
		}, nil).Once()

	res, err := s.AEP(ctx, defaultAEP())
	require.NoError(t, err)
	assert.Equal(t, 25.0, res["aep_gwh"])
	assert.Equal(t, 4.0, res["uncertainty_pct"])
	assert.Equal(t, 34.8, res["capacity_factor"])
	assert.Equal(t, 1.23, res["availability_loss_pct"])
	assert.Equal(t, 0.2, res["curtailment_loss_pct"])
	assert.Equal(t, "monte_carlo_aep_real", res["analysis_type"])
	assert.Equal(t, SourceSample, res["data_source"])
	engine.AssertExpectations(t)
	assert.Equal(t, 1.0, analysesCount(t, m, "aep", metrics.OutcomeSuccess))
}

func TestRealErrors(t *testing.T) {
	ctx := context.Background()

	t.Run("Unavailable", func(t *testing.T) {
		engine := new(openoamock.MockEngine)
		m := metrics.New()
		s := New(Config{}, fakeResolver{}, engine).WithMetrics(m)
		engine.On("RunWakeLosses", mock.Anything, mock.Anything, mock.Anything).
			Return(openoa.WakeLossResults{}, openoa.ErrUnavailable)

		_, err := s.WakeLosses(ctx, WakeLossParams{BinWidth: 1})
		assert.ErrorIs(t, err, openoa.ErrUnavailable)
		assert.Equal(t, 1.0, analysesCount(t, m, "wake_losses", metrics.OutcomeUnavailable))
	})

	t.Run("SchemaMismatch", func(t *testing.T) {
		engine := new(openoamock.MockEngine)
		s := New(Config{}, fakeResolver{}, engine)
		engine.On("RunElectricalLosses", mock.Anything, mock.Anything, mock.Anything).
			Return(openoa.ElectricalLossResults{}, openoa.ErrSchemaMismatch)

		_, err := s.ElectricalLosses(ctx, ElectricalLossParams{LossThresholdPct: 5})
		assert.ErrorIs(t, err, openoa.ErrSchemaMismatch)
		assert.Contains(t, err.Error(), "electrical_losses analysis")
	})

	t.Run("EYAGapPropagates", func(t *testing.T) {
		engine := new(openoamock.MockEngine)
		s := New(Config{}, fakeResolver{}, engine)
		engine.On("RunAEP", mock.Anything, mock.Anything, openoa.AEPParams{Iterations: 1000, UncertaintyMethod: "bootstrap"}).
			Return(openoa.AEPResults{}, openoa.ErrUnavailable)

		_, err := s.EYAGap(ctx, EYAGapParams{ExpectedAEPGWh: 20})
		assert.ErrorIs(t, err, openoa.ErrUnavailable)
		engine.AssertExpectations(t)
	})
}

func TestRealUploadSendsPlant(t *testing.T) {
	ctx := context.Background()
	engine := new(openoamock.MockEngine)
	s := New(Config{}, fakeResolver{"abc": writeUpload(t, "abc.csv", scadaCSV)}, engine)

	isUpload := mock.MatchedBy(func(req openoa.Request) bool {
		return req.Dataset == "" && req.Plant != nil && len(req.Plant.SCADA) == 3 && len(req.Plant.Assets) == 2
	})
	engine.On("RunTurbineIdealEnergy", mock.Anything, isUpload, openoa.IdealEnergyParams{UseLTDistribution: false}).
		Return(openoa.IdealEnergyResults{PlantGrossGWh: openoa.Series{30.126}}, nil)

	res, err := s.TurbineIdealEnergy(ctx, IdealEnergyParams{FileID: "abc"})
	require.NoError(t, err)
	assert.Equal(t, 30.13, res["ideal_energy_gwh"])
	// engine did not report a count or capacity
	assert.Equal(t, 2, res["num_turbines"])
	assert.Equal(t, 10.5, res["plant_capacity_mw"])
	assert.Equal(t, "turbine_ideal_energy_real", res["analysis_type"])
	engine.AssertExpectations(t)
}
