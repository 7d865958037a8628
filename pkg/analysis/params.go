package analysis

import (
	"fmt"
)

const (
	DefaultIterations        = 1000
	MinIterations            = 100
	MaxIterations            = 10000
	DefaultUncertaintyMethod = "bootstrap"
	DefaultLossThresholdPct  = 5.0
	DefaultBinWidth          = 1.0
	MinBinWidth              = 0.5
	MaxBinWidth              = 5.0

	// eyaGapIterations is the AEP run size used for the yield gap.
	eyaGapIterations = 1000
	// eyaGapTolerancePct is how far below expectations the plant may fall
	// and still meet them.
	eyaGapTolerancePct = -5.0
)

var uncertaintyMethods = map[string]bool{
	"bootstrap":  true,
	"analytical": true,
}

// ParamError is returned for parameters outside their allowed range.
type ParamError struct {
	Field  string
	Reason string
}

func (e *ParamError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

type AEPParams struct {
	Iterations        int
	UncertaintyMethod string
	FileID            string
}

// Validate checks the parameter ranges.
func (p AEPParams) Validate() error {
	if p.Iterations < MinIterations || p.Iterations > MaxIterations {
		return &ParamError{"iterations", fmt.Sprintf("must be between %d and %d", MinIterations, MaxIterations)}
	}
	if !uncertaintyMethods[p.UncertaintyMethod] {
		return &ParamError{"uncertainty_method", "must be bootstrap or analytical"}
	}
	return nil
}

type ElectricalLossParams struct {
	LossThresholdPct float64
	FileID           string
}

func (p ElectricalLossParams) Validate() error {
	if p.LossThresholdPct < 0 || p.LossThresholdPct > 100 {
		return &ParamError{"loss_threshold_pct", "must be between 0 and 100"}
	}
	return nil
}

type WakeLossParams struct {
	BinWidth float64
	FileID   string
}

func (p WakeLossParams) Validate() error {
	if p.BinWidth < MinBinWidth || p.BinWidth > MaxBinWidth {
		return &ParamError{"bin_width", fmt.Sprintf("must be between %.1f and %.1f", MinBinWidth, MaxBinWidth)}
	}
	return nil
}

type IdealEnergyParams struct {
	UseLTDistribution bool
	FileID            string
}

func (p IdealEnergyParams) Validate() error {
	return nil
}

type EYAGapParams struct {
	ExpectedAEPGWh float64
	FileID         string
}

func (p EYAGapParams) Validate() error {
	if !(p.ExpectedAEPGWh > 0) {
		return &ParamError{"expected_aep_gwh", "must be greater than 0"}
	}
	return nil
}
