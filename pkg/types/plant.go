package types

import "time"

// Canonical column names of the five plant tables, matching the names the
// OpenOA PlantData schema expects.
const (
	ColTime                = "time"
	ColAssetID             = "asset_id"
	ColPower               = "WTUR_W"
	ColWindSpeed           = "WMET_HorWdSpd"
	ColLatitude            = "latitude"
	ColLongitude           = "longitude"
	ColAssetType           = "type"
	ColMeterEnergy         = "MMTR_SupWh"
	ColCurtailment         = "IAVL_DnWh"
	ColExternalCurtailment = "IAVL_ExtPwrDnWh"
	ColReanalysisWindSpeed = "WMETR_HorWdSpd"
	ColAirDensity          = "WMETR_AirDen"
)

// Table names used as keys of PlantMetadata.Columns.
const (
	TableSCADA       = "scada"
	TableAsset       = "asset"
	TableMeter       = "meter"
	TableCurtailment = "curtail"
	TableReanalysis  = "reanalysis"
)

// SCADARow is one turbine sample. Power and WindSpeed are nil when the
// source cell was empty.
type SCADARow struct {
	Time      time.Time `json:"time"`
	AssetID   string    `json:"asset_id"`
	Power     *float64  `json:"WTUR_W"`
	WindSpeed *float64  `json:"WMET_HorWdSpd"`
}

// AssetRow describes one turbine in the asset registry.
type AssetRow struct {
	AssetID   string  `json:"asset_id"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Type      string  `json:"type"`
}

// MeterRow is a revenue meter reading.
type MeterRow struct {
	Time   time.Time `json:"time"`
	Energy float64   `json:"MMTR_SupWh"`
}

// CurtailmentRow holds availability and curtailment losses for one interval.
type CurtailmentRow struct {
	Time                time.Time `json:"time"`
	Curtailment         float64   `json:"IAVL_DnWh"`
	ExternalCurtailment float64   `json:"IAVL_ExtPwrDnWh"`
}

// ReanalysisRow is one long-term reference sample.
type ReanalysisRow struct {
	Time       time.Time `json:"time"`
	WindSpeed  *float64  `json:"WMETR_HorWdSpd"`
	AirDensity float64   `json:"WMETR_AirDen"`
}

// PlantMetadata describes the plant and how each table's columns map onto
// the canonical schema.
type PlantMetadata struct {
	CapacityMW float64                      `json:"capacity"`
	Latitude   float64                      `json:"latitude"`
	Longitude  float64                      `json:"longitude"`
	Frequency  string                       `json:"frequency"`
	Columns    map[string]map[string]string `json:"columns"`
}

// PlantData is the five-table structure handed to the analysis engine.
type PlantData struct {
	Metadata    PlantMetadata    `json:"metadata"`
	SCADA       []SCADARow       `json:"scada"`
	Assets      []AssetRow       `json:"asset"`
	Meter       []MeterRow       `json:"meter"`
	Curtailment []CurtailmentRow `json:"curtail"`
	Reanalysis  []ReanalysisRow  `json:"reanalysis"`
}
