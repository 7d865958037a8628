package analysis

import (
	"context"

	"github.com/windyield/windyield/pkg/openoa"
	"github.com/windyield/windyield/pkg/types"
)

const (
	modeMock = "mock"
	modeReal = "real"

	hoursPerYear = 8760

	mockCapacityFactor   = 0.35
	mockUncertaintyPct   = 5.2
	mockElectricalLoss   = 0.021
	mockWakeLossPOR      = 0.085
	mockWakeLossLT       = 0.081
	mockWakeUncertainty  = 1.5
	mockIdealUncertainty = 4.8
)

// AEPOutcome is an AEP result plus the estimate other analyses build on.
type AEPOutcome struct {
	AEPGWh float64
	Result types.AnalysisResult
}

// Estimator computes each analysis kind for a resolved plant.
type Estimator interface {
	Mode() string
	AEP(ctx context.Context, plant Plant, p AEPParams) (AEPOutcome, error)
	ElectricalLosses(ctx context.Context, plant Plant, p ElectricalLossParams) (types.AnalysisResult, error)
	WakeLosses(ctx context.Context, plant Plant, p WakeLossParams) (types.AnalysisResult, error)
	TurbineIdealEnergy(ctx context.Context, plant Plant, p IdealEnergyParams) (types.AnalysisResult, error)
}

// mockEstimator returns closed-form estimates from the plant capacity. The
// results are deterministic.
type mockEstimator struct{}

func (mockEstimator) Mode() string { return modeMock }

func mockAEP(capacityMW float64) float64 {
	return round(capacityMW*mockCapacityFactor*hoursPerYear/1000, 2)
}

func (mockEstimator) AEP(ctx context.Context, plant Plant, p AEPParams) (AEPOutcome, error) {
	aep := mockAEP(plant.CapacityMW)
	return AEPOutcome{
		AEPGWh: aep,
		Result: types.AnalysisResult{
			"aep_gwh":            aep,
			"uncertainty_pct":    mockUncertaintyPct,
			"capacity_factor":    round(mockCapacityFactor*100, 1),
			"plant_capacity_mw":  plant.CapacityMW,
			"iterations":         p.Iterations,
			"uncertainty_method": p.UncertaintyMethod,
			"analysis_type":      types.KindAEP.ResultType(true),
			"notes":              "Mock analysis for demonstration - use-mock-data is enabled",
		},
	}, nil
}

func (mockEstimator) ElectricalLosses(ctx context.Context, plant Plant, p ElectricalLossParams) (types.AnalysisResult, error) {
	aep := mockAEP(plant.CapacityMW)
	lossPct := round(mockElectricalLoss*100, 2)
	return types.AnalysisResult{
		"electrical_losses_pct":     lossPct,
		"estimated_annual_loss_mwh": round(aep*1000*mockElectricalLoss, 1),
		"loss_threshold_pct":        p.LossThresholdPct,
		"exceeds_threshold":         lossPct > p.LossThresholdPct,
		"plant_capacity_mw":         plant.CapacityMW,
		"analysis_type":             types.KindElectricalLosses.ResultType(true),
		"notes":                     "Mock electrical losses estimate",
	}, nil
}

func (mockEstimator) WakeLosses(ctx context.Context, plant Plant, p WakeLossParams) (types.AnalysisResult, error) {
	return types.AnalysisResult{
		"wake_losses_por_pct": round(mockWakeLossPOR*100, 2),
		"wake_losses_lt_pct":  round(mockWakeLossLT*100, 2),
		"uncertainty_pct":     mockWakeUncertainty,
		"bin_width":           p.BinWidth,
		"num_turbines":        plant.NumTurbines,
		"plant_capacity_mw":   plant.CapacityMW,
		"analysis_type":       types.KindWakeLosses.ResultType(true),
		"notes":               "Mock wake losses estimate",
	}, nil
}

func (mockEstimator) TurbineIdealEnergy(ctx context.Context, plant Plant, p IdealEnergyParams) (types.AnalysisResult, error) {
	aep := mockAEP(plant.CapacityMW)
	ideal := aep / (1 - mockWakeLossPOR) / (1 - mockElectricalLoss)
	return types.AnalysisResult{
		"ideal_energy_gwh":    round(ideal, 2),
		"actual_aep_gwh":      aep,
		"uncertainty_pct":     mockIdealUncertainty,
		"use_lt_distribution": p.UseLTDistribution,
		"num_turbines":        plant.NumTurbines,
		"plant_capacity_mw":   plant.CapacityMW,
		"analysis_type":       types.KindTurbineIdealEnergy.ResultType(true),
		"notes":               "Mock turbine ideal energy estimate",
	}, nil
}

// realEstimator runs every analysis on the OpenOA engine and maps the typed
// results onto the same metric names as the mock.
type realEstimator struct {
	engine openoa.Engine
}

func (realEstimator) Mode() string { return modeReal }

// capacity prefers the engine's view of the plant.
func capacity(engineMW float64, plant Plant) float64 {
	if engineMW > 0 {
		return engineMW
	}
	return plant.CapacityMW
}

func (e realEstimator) AEP(ctx context.Context, plant Plant, p AEPParams) (AEPOutcome, error) {
	res, err := e.engine.RunAEP(ctx, plant.engineRequest(), openoa.AEPParams{
		Iterations:        p.Iterations,
		UncertaintyMethod: p.UncertaintyMethod,
	})
	if err != nil {
		return AEPOutcome{}, err
	}
	capMW := capacity(res.CapacityMW, plant)
	aep := round(res.AEPGWh.Mean(), 2)
	var cf float64
	if capMW > 0 {
		cf = round(res.AEPGWh.Mean()*1000/(capMW*hoursPerYear)*100, 1)
	}
	return AEPOutcome{
		AEPGWh: aep,
		Result: types.AnalysisResult{
			"aep_gwh":               aep,
			"uncertainty_pct":       round(res.AEPGWh.CoV(), 2),
			"capacity_factor":       cf,
			"availability_loss_pct": round(res.Availability.Mean()*100, 2),
			"curtailment_loss_pct":  round(res.Curtailment.Mean()*100, 2),
			"plant_capacity_mw":     capMW,
			"iterations":            p.Iterations,
			"uncertainty_method":    p.UncertaintyMethod,
			"analysis_type":         types.KindAEP.ResultType(false),
			"notes":                 "OpenOA Monte Carlo AEP analysis",
		},
	}, nil
}

func (e realEstimator) ElectricalLosses(ctx context.Context, plant Plant, p ElectricalLossParams) (types.AnalysisResult, error) {
	res, err := e.engine.RunElectricalLosses(ctx, plant.engineRequest(), openoa.ElectricalLossParams{
		LossThresholdPct: p.LossThresholdPct,
	})
	if err != nil {
		return nil, err
	}
	lossPct := round(res.ElectricalLosses.Mean()*100, 2)
	return types.AnalysisResult{
		"electrical_losses_pct": lossPct,
		"uncertainty_pct":       round(res.ElectricalLosses.CoV(), 2),
		"loss_threshold_pct":    p.LossThresholdPct,
		"exceeds_threshold":     lossPct > p.LossThresholdPct,
		"plant_capacity_mw":     capacity(res.CapacityMW, plant),
		"analysis_type":         types.KindElectricalLosses.ResultType(false),
		"notes":                 "OpenOA electrical losses analysis",
	}, nil
}

func (e realEstimator) WakeLosses(ctx context.Context, plant Plant, p WakeLossParams) (types.AnalysisResult, error) {
	res, err := e.engine.RunWakeLosses(ctx, plant.engineRequest(), openoa.WakeLossParams{
		BinWidth: p.BinWidth,
	})
	if err != nil {
		return nil, err
	}
	return types.AnalysisResult{
		"wake_losses_por_pct": round(res.POR.Mean()*100, 2),
		"wake_losses_lt_pct":  round(res.LT.Mean()*100, 2),
		"uncertainty_pct":     round(res.LT.CoV(), 2),
		"bin_width":           p.BinWidth,
		"num_turbines":        plant.NumTurbines,
		"plant_capacity_mw":   capacity(res.CapacityMW, plant),
		"analysis_type":       types.KindWakeLosses.ResultType(false),
		"notes":               "OpenOA wake losses analysis",
	}, nil
}

func (e realEstimator) TurbineIdealEnergy(ctx context.Context, plant Plant, p IdealEnergyParams) (types.AnalysisResult, error) {
	res, err := e.engine.RunTurbineIdealEnergy(ctx, plant.engineRequest(), openoa.IdealEnergyParams{
		UseLTDistribution: p.UseLTDistribution,
	})
	if err != nil {
		return nil, err
	}
	turbines := res.TurbineCount
	if turbines == 0 {
		turbines = plant.NumTurbines
	}
	return types.AnalysisResult{
		"ideal_energy_gwh":    round(res.PlantGrossGWh.Mean(), 2),
		"uncertainty_pct":     round(res.PlantGrossGWh.CoV(), 2),
		"use_lt_distribution": p.UseLTDistribution,
		"num_turbines":        turbines,
		"plant_capacity_mw":   capacity(res.CapacityMW, plant),
		"analysis_type":       types.KindTurbineIdealEnergy.ResultType(false),
		"notes":               "OpenOA turbine ideal energy analysis",
	}, nil
}
