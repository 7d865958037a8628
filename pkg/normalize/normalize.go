package normalize

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/windyield/windyield/pkg/types"
)

const (
	// DefaultAssetID is used when the upload has no turbine column.
	DefaultAssetID = "WTG01"
	// PlaceholderCapacityMW is reported for uploads, which carry no
	// nameplate information.
	PlaceholderCapacityMW = 10.5
	// StandardAirDensity in kg/m³.
	StandardAirDensity = 1.225
	Frequency          = "10min"
)

type concept struct {
	name    string
	aliases []string
}

var (
	timeConcept  = concept{"time", []string{"time", "timestamp", "date_time", "datetime", "date", "time_stamp"}}
	powerConcept = concept{"power", []string{"power", "wtur_w", "wtur_w_avg", "p_avg", "active_power", "activepower", "power_kw"}}
	windConcept  = concept{"wind_speed", []string{"ws_avg", "wind_speed", "windspeed", "wind_spd", "ws", "wmet_horwdspd"}}

	assetIDAliases   = []string{"asset_id", "turbine", "turbine_id", "asset"}
	assetNameAliases = []string{"wind_turbine_name", "turbine_name"}
)

// ValidationError reports columns that could not be mapped onto required
// concepts. It is a client error.
type ValidationError struct {
	Missing   []string
	Available []string
	// Msg overrides the generated message for value-level failures.
	Msg string
}

func (e *ValidationError) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	return fmt.Sprintf(
		"missing required columns: %s (available columns: %s)",
		strings.Join(e.Missing, ", "),
		strings.Join(e.Available, ", "),
	)
}

func invalidValue(format string, args ...any) *ValidationError {
	return &ValidationError{Msg: fmt.Sprintf(format, args...)}
}

// lookup returns the index of the first alias present in cols, matched
// case-insensitively, or -1.
func lookup(cols []string, aliases []string) int {
	lower := make(map[string]int, len(cols))
	for i, c := range cols {
		k := strings.ToLower(strings.TrimSpace(c))
		if _, ok := lower[k]; !ok {
			lower[k] = i
		}
	}
	for _, a := range aliases {
		if i, ok := lower[a]; ok {
			return i
		}
	}
	return -1
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"20060102 150405",
	"20060102150405",
	"20060102",
}

// minEpochDigits rejects short numbers as epoch seconds; 9 digits is 1973.
const minEpochDigits = 9

// ParseTime parses the timestamp formats accepted in uploads. Values without
// a zone are UTC. Integers of at least nine digits that match no layout are
// epoch seconds, optionally with a fractional part.
func ParseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	if isEpoch(s) {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			sec, frac := math.Modf(f)
			return time.Unix(int64(sec), int64(frac*1e9)).UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

func isEpoch(s string) bool {
	whole, frac, _ := strings.Cut(s, ".")
	if len(whole) < minEpochDigits {
		return false
	}
	for _, part := range []string{whole, frac} {
		for _, c := range part {
			if c < '0' || c > '9' {
				return false
			}
		}
	}
	return true
}

// ParseFloat parses a numeric cell. Empty, nan and null cells are nil.
func ParseFloat(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	switch strings.ToLower(s) {
	case "", "nan", "null":
		return nil, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid number %q", s)
	}
	if math.IsInf(f, 0) {
		return nil, fmt.Errorf("non-finite number %q", s)
	}
	return &f, nil
}

// Normalize maps an uploaded table onto PlantData. Meter, curtailment and
// reanalysis tables are synthesized from the SCADA timestamps since uploads
// only carry turbine data. No range, duplicate or regularity checks are made.
func Normalize(t *Table) (types.PlantData, error) {
	if t == nil {
		return types.PlantData{}, invalidValue("no data")
	}

	idx := map[string]int{}
	var missing []string
	for _, c := range []concept{timeConcept, powerConcept, windConcept} {
		i := lookup(t.Columns, c.aliases)
		if i < 0 {
			missing = append(missing, c.name)
			continue
		}
		idx[c.name] = i
	}
	if len(missing) > 0 {
		return types.PlantData{}, &ValidationError{
			Missing:   missing,
			Available: append([]string(nil), t.Columns...),
		}
	}

	assetIdx := lookup(t.Columns, assetIDAliases)
	if assetIdx < 0 {
		assetIdx = lookup(t.Columns, assetNameAliases)
	}

	scada := make([]types.SCADARow, 0, len(t.Rows))
	for n, row := range t.Rows {
		if len(row) < len(t.Columns) {
			row = append(row, make([]string, len(t.Columns)-len(row))...)
		}
		// header is line 1
		line := n + 2
		ts, err := ParseTime(row[idx[timeConcept.name]])
		if err != nil {
			return types.PlantData{}, invalidValue("failed to parse time column %q at row %d: %v", t.Columns[idx[timeConcept.name]], line, err)
		}
		power, err := ParseFloat(row[idx[powerConcept.name]])
		if err != nil {
			return types.PlantData{}, invalidValue("failed to parse power column %q at row %d: %v", t.Columns[idx[powerConcept.name]], line, err)
		}
		ws, err := ParseFloat(row[idx[windConcept.name]])
		if err != nil {
			return types.PlantData{}, invalidValue("failed to parse wind speed column %q at row %d: %v", t.Columns[idx[windConcept.name]], line, err)
		}
		asset := DefaultAssetID
		if assetIdx >= 0 {
			if v := strings.TrimSpace(row[assetIdx]); v != "" {
				asset = v
			}
		}
		scada = append(scada, types.SCADARow{
			Time:      ts,
			AssetID:   asset,
			Power:     power,
			WindSpeed: ws,
		})
	}

	return types.PlantData{
		Metadata:    plantMetadata(),
		SCADA:       scada,
		Assets:      deriveAssets(scada),
		Meter:       deriveMeter(scada),
		Curtailment: deriveCurtailment(scada),
		Reanalysis:  deriveReanalysis(scada),
	}, nil
}

func deriveAssets(scada []types.SCADARow) []types.AssetRow {
	seen := map[string]bool{}
	var assets []types.AssetRow
	for _, r := range scada {
		if seen[r.AssetID] {
			continue
		}
		seen[r.AssetID] = true
		assets = append(assets, types.AssetRow{AssetID: r.AssetID, Type: "turbine"})
	}
	return assets
}

// distinctTimes returns the sorted distinct SCADA timestamps.
func distinctTimes(scada []types.SCADARow) []time.Time {
	seen := map[time.Time]bool{}
	var times []time.Time
	for _, r := range scada {
		if seen[r.Time] {
			continue
		}
		seen[r.Time] = true
		times = append(times, r.Time)
	}
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })
	return times
}

func deriveMeter(scada []types.SCADARow) []types.MeterRow {
	times := distinctTimes(scada)
	rows := make([]types.MeterRow, len(times))
	for i, t := range times {
		rows[i] = types.MeterRow{Time: t}
	}
	return rows
}

func deriveCurtailment(scada []types.SCADARow) []types.CurtailmentRow {
	times := distinctTimes(scada)
	rows := make([]types.CurtailmentRow, len(times))
	for i, t := range times {
		rows[i] = types.CurtailmentRow{Time: t}
	}
	return rows
}

func deriveReanalysis(scada []types.SCADARow) []types.ReanalysisRow {
	type acc struct {
		sum float64
		n   int
	}
	byTime := map[time.Time]*acc{}
	for _, r := range scada {
		a, ok := byTime[r.Time]
		if !ok {
			a = &acc{}
			byTime[r.Time] = a
		}
		if r.WindSpeed != nil {
			a.sum += *r.WindSpeed
			a.n++
		}
	}

	times := distinctTimes(scada)
	rows := make([]types.ReanalysisRow, len(times))
	for i, t := range times {
		rows[i] = types.ReanalysisRow{Time: t, AirDensity: StandardAirDensity}
		if a := byTime[t]; a.n > 0 {
			mean := a.sum / float64(a.n)
			rows[i].WindSpeed = &mean
		}
	}
	return rows
}

func identity(cols ...string) map[string]string {
	m := make(map[string]string, len(cols))
	for _, c := range cols {
		m[c] = c
	}
	return m
}

func plantMetadata() types.PlantMetadata {
	return types.PlantMetadata{
		CapacityMW: PlaceholderCapacityMW,
		Frequency:  Frequency,
		Columns: map[string]map[string]string{
			types.TableSCADA:       identity(types.ColTime, types.ColAssetID, types.ColPower, types.ColWindSpeed),
			types.TableAsset:       identity(types.ColAssetID, types.ColLatitude, types.ColLongitude, types.ColAssetType),
			types.TableMeter:       identity(types.ColTime, types.ColMeterEnergy),
			types.TableCurtailment: identity(types.ColTime, types.ColCurtailment, types.ColExternalCurtailment),
			types.TableReanalysis:  identity(types.ColTime, types.ColReanalysisWindSpeed, types.ColAirDensity),
		},
	}
}
