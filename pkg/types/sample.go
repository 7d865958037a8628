package types

// SampleAsset is one turbine of the bundled sample plant.
type SampleAsset struct {
	Name       string  `json:"name"`
	CapacityKW float64 `json:"capacity_kw"`
}

// SampleMetadata describes the bundled sample plant.
type SampleMetadata struct {
	Name        string        `json:"name"`
	Capacity    float64       `json:"capacity"`
	NumTurbines int           `json:"num_turbines"`
	Latitude    *float64      `json:"latitude,omitempty"`
	Longitude   *float64      `json:"longitude,omitempty"`
	AssetList   []SampleAsset `json:"asset_list"`
	Note        string        `json:"note,omitempty"`
}

// SampleSummary is the short description of the bundled dataset.
type SampleSummary struct {
	PlantName         string   `json:"plant_name"`
	CapacityMW        float64  `json:"capacity_mw"`
	NumTurbines       int      `json:"num_turbines"`
	DataAvailable     bool     `json:"data_available"`
	Description       string   `json:"description"`
	AnalysesAvailable []string `json:"analyses_available"`
}
