package types

import "time"

// AnalysisKind identifies one of the supported plant analyses.
type AnalysisKind string

const (
	KindAEP                AnalysisKind = "aep"
	KindElectricalLosses   AnalysisKind = "electrical_losses"
	KindWakeLosses         AnalysisKind = "wake_losses"
	KindTurbineIdealEnergy AnalysisKind = "turbine_ideal_energy"
	KindEYAGap             AnalysisKind = "eya_gap"
)

// AnalysisKinds lists every kind in catalog order.
var AnalysisKinds = []AnalysisKind{
	KindAEP,
	KindElectricalLosses,
	KindWakeLosses,
	KindTurbineIdealEnergy,
	KindEYAGap,
}

// ResultType is the analysis_type discriminator stored in results. AEP keeps
// its historical monte_carlo_aep name.
func (k AnalysisKind) ResultType(mock bool) string {
	name := string(k)
	if k == KindAEP {
		name = "monte_carlo_aep"
	}
	if mock {
		return name + "_mock"
	}
	return name + "_real"
}

// AnalysisResult is the flat metric map produced by an analysis.
type AnalysisResult map[string]any

// AnalysisType is one entry of the analysis catalog.
type AnalysisType struct {
	Type        AnalysisKind `json:"type"`
	Name        string       `json:"name"`
	Description string       `json:"description"`
	Status      string       `json:"status"`
	Endpoint    *string      `json:"endpoint"`
}

// AnalysisResponse is the envelope returned by every analysis endpoint.
type AnalysisResponse struct {
	ID          string         `json:"id"`
	Status      string         `json:"status"`
	Result      AnalysisResult `json:"result"`
	CreatedAt   time.Time      `json:"created_at"`
	CompletedAt *time.Time     `json:"completed_at"`
	Error       string         `json:"error,omitempty"`
}
