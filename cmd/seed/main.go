package main

import (
	"context"
	"log/slog"
	"math/rand"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/storage"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

// simulatedPrice returns a plausible price per kWh for the given hour with a
// morning and evening peak.
func simulatedPrice(rng *rand.Rand, hour int) decimal.Decimal {
	base := 0.08
	if hour >= 6 && hour < 9 {
		base = 0.22
	} else if hour >= 10 && hour < 15 {
		base = 0.05
	} else if hour >= 17 && hour < 21 {
		base = 0.35
	} else if hour >= 21 {
		base = 0.10
	}
	// jitter
	base += (rng.Float64() * 0.02) - 0.01
	return decimal.NewFromFloat(base).Round(5)
}

func main() {
	os.Setenv("FIRESTORE_EMULATOR_HOST", "127.0.0.1:8087")
	provider := lflag.String("seed-provider", "octopus", "Provider name to archive the simulated prices under")
	days := lflag.Duration("seed-span", 48*time.Hour, "How far back from now to seed prices")
	archive := storage.ConfiguredArchive()
	lflag.Configure()

	ctx := context.Background()
	if !storage.Archiving(archive) {
		log.Ctx(ctx).ErrorContext(ctx, "seeding requires --price-archive=firestore")
		os.Exit(1)
	}
	defer archive.Close()

	log.Ctx(ctx).InfoContext(ctx, "seeding mock prices", slog.String("provider", *provider))

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	end := time.Now().UTC().Truncate(time.Hour).Add(24 * time.Hour)
	start := end.Add(-*days - 24*time.Hour)

	var segs types.Segments
	for t := start; t.Before(end); t = t.Add(time.Hour) {
		segs = append(segs, types.PriceSegment{
			ValidFrom: t,
			ValidTo:   t.Add(time.Hour),
			Value:     simulatedPrice(rng, t.Hour()),
		})
	}
	if err := segs.Validate(start, end); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "generated invalid prices", slog.Any("error", err))
		os.Exit(1)
	}

	if err := archive.UpsertSegments(ctx, *provider, segs); err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to seed prices", slog.Any("error", err))
		os.Exit(1)
	}

	latest, err := archive.GetLatestSegmentTime(ctx, *provider)
	if err != nil {
		log.Ctx(ctx).ErrorContext(ctx, "failed to read back prices", slog.Any("error", err))
		os.Exit(1)
	}
	log.Ctx(ctx).InfoContext(
		ctx,
		"done seeding",
		slog.Int("segments", len(segs)),
		slog.Time("latest", latest),
	)
}
