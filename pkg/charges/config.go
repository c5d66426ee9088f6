package charges

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/raterudder/chargerate/pkg/storage"
	"github.com/shopspring/decimal"
)

// Configured registers the charge pricing flags. The Updater is usable once
// lflag.Configure has run; p must come from pricing.Configured so its ID is
// known by then.
func Configured(db storage.Database, archive storage.PriceArchive, p *pricing.Selected) *Updater {
	geofenceID := lflag.RequiredInt("geofence-id", "TeslaMate geofence ID of the location whose charges are priced")
	fee := lflag.String("fee-per-kwh", "0", "Fixed fee added to every kWh charged")
	lookbackDays := lflag.Int("lookback-days", 30, "Only price charges that ended within this many days")

	u := &Updater{}

	lflag.Do(func() {
		ctx := context.Background()
		fail := func(msg string, args ...any) {
			log.Ctx(ctx).ErrorContext(ctx, msg, args...)
			os.Exit(1)
		}

		feeVal, err := decimal.NewFromString(*fee)
		if err != nil {
			fail("fee-per-kwh must be a number", slog.String("value", *fee))
		}

		built, err := New(db, archive, p, string(p.ID()), Config{
			GeofenceID: int64(*geofenceID),
			FeePerKWh:  feeVal,
			Lookback:   time.Duration(*lookbackDays) * 24 * time.Hour,
		})
		if err != nil {
			fail("invalid charge pricing configuration", slog.Any("error", err))
		}
		*u = *built
	})

	return u
}
