// Package openoa talks to the OpenOA analysis engine, which runs the
// statistical plant analyses behind a small HTTP runner.
package openoa

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/windyield/windyield/pkg/types"
)

// SchemaVersion is the request and response envelope version this client
// speaks.
const SchemaVersion = "1"

var (
	// ErrUnavailable means the engine is not configured, unreachable or
	// failing repeatedly.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrSchemaMismatch means the engine answered with a result shape this
	// client does not understand.
	ErrSchemaMismatch = errors.New("engine result schema mismatch")
)

// Engine runs plant analyses.
type Engine interface {
	RunAEP(ctx context.Context, req Request, params AEPParams) (AEPResults, error)
	RunElectricalLosses(ctx context.Context, req Request, params ElectricalLossParams) (ElectricalLossResults, error)
	RunWakeLosses(ctx context.Context, req Request, params WakeLossParams) (WakeLossResults, error)
	RunTurbineIdealEnergy(ctx context.Context, req Request, params IdealEnergyParams) (IdealEnergyResults, error)
	Version(ctx context.Context) (string, error)
}

// Request selects the plant to analyze. Exactly one of Dataset or Plant is
// set.
type Request struct {
	Dataset string
	Plant   *types.PlantData
}

type AEPParams struct {
	Iterations        int    `json:"iterations"`
	UncertaintyMethod string `json:"uncertainty_method"`
}

type ElectricalLossParams struct {
	LossThresholdPct float64 `json:"loss_threshold_pct"`
}

type WakeLossParams struct {
	BinWidth float64 `json:"bin_width"`
}

type IdealEnergyParams struct {
	UseLTDistribution bool `json:"use_lt_distribution"`
}

// AEPResults are the Monte Carlo AEP outputs. Each series holds one value
// per simulation.
type AEPResults struct {
	CapacityMW   float64 `json:"-"`
	AEPGWh       Series  `json:"aep_GWh"`
	Availability Series  `json:"avail_pct"`
	Curtailment  Series  `json:"curt_pct"`
}

func (r *AEPResults) validate() error {
	return requireSeries(map[string]Series{
		"aep_GWh":   r.AEPGWh,
		"avail_pct": r.Availability,
		"curt_pct":  r.Curtailment,
	})
}

// ElectricalLossResults hold the loss fraction between turbines and meter.
type ElectricalLossResults struct {
	CapacityMW       float64 `json:"-"`
	ElectricalLosses Series  `json:"electrical_losses"`
}

func (r *ElectricalLossResults) validate() error {
	return requireSeries(map[string]Series{"electrical_losses": r.ElectricalLosses})
}

// WakeLossResults hold plant wake loss fractions for the period of record
// and the long term.
type WakeLossResults struct {
	CapacityMW float64 `json:"-"`
	POR        Series  `json:"wake_losses_por"`
	LT         Series  `json:"wake_losses_lt"`
}

func (r *WakeLossResults) validate() error {
	return requireSeries(map[string]Series{
		"wake_losses_por": r.POR,
		"wake_losses_lt":  r.LT,
	})
}

// IdealEnergyResults hold the long-term gross energy of the plant.
type IdealEnergyResults struct {
	CapacityMW    float64 `json:"-"`
	PlantGrossGWh Series  `json:"plant_gross_GWh"`
	TurbineCount  int     `json:"turbine_count"`
}

func (r *IdealEnergyResults) validate() error {
	return requireSeries(map[string]Series{"plant_gross_GWh": r.PlantGrossGWh})
}

func requireSeries(series map[string]Series) error {
	for name, s := range series {
		if len(s) == 0 {
			return fmt.Errorf("%w: missing %s", ErrSchemaMismatch, name)
		}
	}
	return nil
}

// Mean is the average of the series.
func (s Series) Mean() float64 {
	if len(s) == 0 {
		return 0
	}
	var sum float64
	for _, v := range s {
		sum += v
	}
	return sum / float64(len(s))
}

// StdDev is the sample standard deviation, 0 for fewer than two values.
func (s Series) StdDev() float64 {
	if len(s) < 2 {
		return 0
	}
	mean := s.Mean()
	var ss float64
	for _, v := range s {
		ss += (v - mean) * (v - mean)
	}
	return math.Sqrt(ss / float64(len(s)-1))
}

// CoV is the coefficient of variation in percent. It is 0 for a scalar or a
// zero mean.
func (s Series) CoV() float64 {
	mean := s.Mean()
	if mean == 0 {
		return 0
	}
	return s.StdDev() / math.Abs(mean) * 100
}
