package main

import (
	"context"
	"math"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/tnbcalc/tnbcalc/pkg/engine"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/storage"
	"github.com/tnbcalc/tnbcalc/pkg/tou"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

// Seeds the emulator with a demo site and replays ten days of synthetic
// meter readings through the engine so the snapshot history has data.
func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	s := storage.Configured()
	lflag.Configure()

	ctx := context.Background()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock data")

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	const siteID = "default"
	site := types.Site{
		Name:         "Demo House",
		ImportEntity: "sensor.tnb_import",
		ExportEntity: "sensor.tnb_export",
		Created:      time.Now().UTC(),
	}
	if err := s.CreateSite(ctx, siteID, site); err != nil {
		// Probably re-running against an already seeded emulator.
		log.Ctx(ctx).WarnContext(ctx, "failed to create site", "error", err)
	}

	settings, _, err := types.MigrateSettings(types.Settings{TOUEnabled: true}, 0)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to build settings", "error", err)
		os.Exit(1)
	}
	if err := s.SetSettings(ctx, siteID, settings, types.CurrentSettingsVersion); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to save settings", "error", err)
		os.Exit(1)
	}

	e := engine.New(s, nil, nil)

	now := time.Now().In(tou.Location())
	start := now.AddDate(0, 0, -10)

	// Cumulative register values
	importReading := 12000.0
	exportReading := 3400.0

	for t := start; t.Before(now); t = t.Add(time.Hour) {
		hour := t.Hour()

		// Household load: baseline with an evening bump
		loadKW := 0.6 + rng.Float64()*0.3
		if hour >= 19 && hour < 23 {
			loadKW += 1.5 + rng.Float64()*0.8
		} else if hour >= 14 && hour < 19 {
			loadKW += 0.8 + rng.Float64()*0.5
		}

		// Rooftop solar (bell curve around 13:00)
		solarKW := 0.0
		if hour > 7 && hour < 19 {
			dist := math.Abs(float64(hour) - 13.0)
			solarKW = 4.0 * math.Exp(-(dist*dist)/10.0)
		}

		selfUse := math.Min(loadKW, solarKW)
		importReading += loadKW - selfUse
		exportReading += solarKW - selfUse

		readings := []types.MeterReading{
			{Kind: types.MeterImport, Value: importReading, Timestamp: t, Valid: true},
			{Kind: types.MeterExport, Value: exportReading, Timestamp: t, Valid: true},
		}
		if _, err := e.Poll(ctx, siteID, readings, t); err != nil {
			log.Ctx(ctx).ErrorContext(ctx, "poll failed", "error", err)
			os.Exit(1)
		}
	}

	log.Ctx(ctx).InfoContext(ctx, "seeding complete",
		"site", siteID,
		"importReading", importReading,
		"exportReading", exportReading,
	)

	if err := s.Close(); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to close storage", "error", err)
	}
}
