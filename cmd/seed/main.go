package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/solaranalyzer/solaranalyzer/pkg/log"
	"github.com/solaranalyzer/solaranalyzer/pkg/sample"
	"github.com/solaranalyzer/solaranalyzer/pkg/storage"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
)

const chunkSize = 500

func main() {
	s := storage.Configured()
	days := lflag.Int("seed-days", 7, "Days of site readings to generate")
	panels := lflag.Int("seed-panels", 24, "Number of simulated panels")
	panelHours := lflag.Int("seed-panel-hours", 24, "Hours of panel readings to generate")
	seed := lflag.Int("seed-random", 0, "Random seed (0 uses the current time)")
	lflag.Configure()

	ctx := context.Background()
	defer s.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding sample data")

	rs := int64(*seed)
	if rs == 0 {
		rs = time.Now().UnixNano()
	}
	g := sample.New(rs)

	end := time.Now().Truncate(time.Minute)
	readings := g.Readings(end.AddDate(0, 0, -*days), end, 15*time.Minute)
	panelReadings := g.Panels(*panels, end.Add(-time.Duration(*panelHours)*time.Hour), end, time.Hour)

	var total types.WriteResult
	for i := 0; i < len(readings); i += chunkSize {
		res, err := s.WriteBatch(ctx, readings[i:min(i+chunkSize, len(readings))], nil)
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed readings", "error", err)
			os.Exit(1)
		}
		total.Add(res)
	}
	for i := 0; i < len(panelReadings); i += chunkSize {
		res, err := s.WriteBatch(ctx, nil, panelReadings[i:min(i+chunkSize, len(panelReadings))])
		if err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "failed to seed panel readings", "error", err)
			os.Exit(1)
		}
		total.Add(res)
	}

	fmt.Printf("Seeded %d readings and %d panel readings (%d already present)\n",
		total.ReadingsInserted, total.PanelsInserted, total.Duplicates)
	log.Ctx(ctx).InfoContext(ctx, "seeded sample data successfully")
}
