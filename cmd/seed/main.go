package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/windyield/windyield/pkg/log"
	"github.com/windyield/windyield/pkg/normalize"
	"github.com/windyield/windyield/pkg/storage"
	"github.com/windyield/windyield/pkg/types"
	"github.com/windyield/windyield/pkg/upload"
)

// checkTarget rejects storing the upload in a registry that is gone once the
// seed exits; the server would sweep the file as an orphan.
func checkTarget(out string, r storage.Registry) error {
	if out == "" && !storage.Persistent(r) {
		return errors.New("the memory storage provider does not outlive the seed: set -seed-out or use -storage-provider=firestore|redis")
	}
	return nil
}

func main() {
	s := storage.Configured()
	uc := upload.Configured()
	days := lflag.Int("seed-days", 7, "Number of days of 10-minute SCADA data to generate")
	turbines := lflag.Int("seed-turbines", 4, "Number of turbines in the generated plant")
	out := lflag.String("seed-out", "", "Write the CSV to this path instead of storing it as an upload (required with -storage-provider=memory)")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	if err := checkTarget(*out, s); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "invalid seed target", "error", err)
		os.Exit(1)
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding scada data", "days", *days, "turbines", *turbines)

	// Use a new random source
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	// Plant parameters, close to the La Haute Borne MM82 turbines
	const (
		RatedKW    = 2050.0
		CutInMS    = 3.0
		RatedMS    = 12.5
		CutOutMS   = 25.0
		MeanWindMS = 7.0
	)

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	header := []string{"date_time", "wind_turbine_name", "power", "wind_speed"}
	if err := w.Write(header); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to write header", "error", err)
		os.Exit(1)
	}

	start := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -*days)
	end := start.AddDate(0, 0, *days)
	wind := MeanWindMS
	rows := 0
	for t := start; t.Before(end); t = t.Add(10 * time.Minute) {
		// mean-reverting random walk with a diurnal swing
		diurnal := 1.5 * math.Sin(2*math.Pi*float64(t.Hour())/24)
		wind += 0.2*(MeanWindMS+diurnal-wind) + rng.NormFloat64()*0.6
		wind = math.Max(0, wind)

		for i := 1; i <= *turbines; i++ {
			ws := math.Max(0, wind+rng.NormFloat64()*0.4)

			// cubic power curve between cut-in and rated speed
			var kw float64
			switch {
			case ws < CutInMS || ws > CutOutMS:
				kw = 0
			case ws >= RatedMS:
				kw = RatedKW
			default:
				frac := (ws - CutInMS) / (RatedMS - CutInMS)
				kw = RatedKW * frac * frac * frac
			}

			record := []string{
				t.Format("2006-01-02 15:04:05"),
				fmt.Sprintf("WTG%02d", i),
				strconv.FormatFloat(kw, 'f', 1, 64),
				strconv.FormatFloat(ws, 'f', 2, 64),
			}
			// drop an occasional sample like a real SCADA export
			if rng.Float64() < 0.01 {
				record[2] = ""
			}
			if err := w.Write(record); err != nil {
				log.Ctx(ctx).ErrorContext(ctx, "failed to write row", "error", err)
				os.Exit(1)
			}
			rows++
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to flush csv", "error", err)
		os.Exit(1)
	}

	// make sure the output is accepted by the analyses
	tbl, err := normalize.ReadCSV(bytes.NewReader(buf.Bytes()))
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "generated csv is unreadable", "error", err)
		os.Exit(1)
	}
	if _, err := normalize.Normalize(tbl); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "generated csv does not normalize", "error", err)
		os.Exit(1)
	}

	if *out != "" {
		if err := os.WriteFile(*out, buf.Bytes(), 0o644); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to write csv", "error", err)
			os.Exit(1)
		}
		log.Ctx(ctx).InfoContext(ctx, "wrote scada csv", "path", *out, "rows", rows)
		return
	}

	store, err := upload.New(*uc, s)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to create upload store", "error", err)
		os.Exit(1)
	}
	id, err := store.Save(ctx, buf.Bytes(), "seed_scada.csv", types.UploadMeta{
		FileType:  types.FileTypeCSV,
		RowCount:  rows,
		Columns:   header,
		SizeBytes: int64(buf.Len()),
	})
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to store upload", "error", err)
		os.Exit(1)
	}

	fmt.Printf("Seeded upload %s with %d rows\n", id, rows)
	log.Ctx(ctx).InfoContext(ctx, "seeded scada data successfully")
}
