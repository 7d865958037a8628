// Package sample describes the bundled La Haute Borne dataset used when no
// upload is selected.
package sample

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/types"
)

// DatasetID names the bundled dataset in engine requests.
const DatasetID = "la_haute_borne"

const (
	defaultPlantName  = "La Haute Borne"
	defaultCapacityMW = 10.5
)

//go:embed plant_meta.json
var embeddedMeta []byte

// Config selects an on-disk metadata file overriding the embedded copy.
type Config struct {
	MetadataPath string
}

// Configured registers the sample flags.
func Configured() *Config {
	path := lflag.String("sample-metadata-path", "", "Path to a plant_meta.json overriding the bundled sample metadata")

	var c Config
	lflag.Do(func() {
		c.MetadataPath = *path
	})
	return &c
}

// Dataset is the loaded sample plant description. It is immutable after
// Load and safe for concurrent use.
type Dataset struct {
	meta types.SampleMetadata
}

// Load reads the metadata override if configured, falling back to the
// embedded copy when it cannot be read.
func Load(ctx context.Context, cfg Config) *Dataset {
	if cfg.MetadataPath != "" {
		meta, err := readMetadataFile(cfg.MetadataPath)
		if err == nil {
			log.Ctx(ctx).InfoContext(ctx, "loaded sample metadata", slog.String("path", cfg.MetadataPath))
			return &Dataset{meta: meta}
		}
		log.Ctx(ctx).WarnContext(
			ctx,
			"failed to load sample metadata, using bundled copy",
			slog.String("path", cfg.MetadataPath),
			slog.Any("error", err),
		)
	}
	return Embedded()
}

// Embedded returns the dataset built from the embedded metadata.
func Embedded() *Dataset {
	var meta types.SampleMetadata
	if err := json.Unmarshal(embeddedMeta, &meta); err != nil {
		panic(fmt.Sprintf("invalid embedded plant metadata: %v", err))
	}
	return &Dataset{meta: meta}
}

func readMetadataFile(path string) (types.SampleMetadata, error) {
	var meta types.SampleMetadata
	b, err := os.ReadFile(path)
	if err != nil {
		return meta, err
	}
	if err := json.Unmarshal(b, &meta); err != nil {
		return meta, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return meta, nil
}

// Metadata returns a copy of the plant metadata.
func (d *Dataset) Metadata() types.SampleMetadata {
	meta := d.meta
	meta.AssetList = append([]types.SampleAsset(nil), d.meta.AssetList...)
	if meta.NumTurbines == 0 {
		meta.NumTurbines = len(meta.AssetList)
	}
	return meta
}

// CapacityMW is the plant nameplate capacity. Metadata without a capacity
// reports 10.5 MW.
func (d *Dataset) CapacityMW() float64 {
	if d.meta.Capacity <= 0 {
		return defaultCapacityMW
	}
	return d.meta.Capacity
}

// Summary describes the dataset for the sample summary endpoint.
func (d *Dataset) Summary() types.SampleSummary {
	name := d.meta.Name
	if name == "" {
		name = defaultPlantName
	}
	return types.SampleSummary{
		PlantName:     name,
		CapacityMW:    d.CapacityMW(),
		NumTurbines:   d.Metadata().NumTurbines,
		DataAvailable: true,
		Description:   "Sample SCADA data from La Haute Borne wind plant",
		AnalysesAvailable: []string{
			string(types.KindAEP),
			string(types.KindTurbineIdealEnergy),
			string(types.KindElectricalLosses),
			string(types.KindWakeLosses),
		},
	}
}
