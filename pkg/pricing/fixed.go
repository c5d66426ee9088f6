package pricing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

// Fixed implements Provider with a tariff table that repeats every day.
type Fixed struct {
	table    *types.TariffTable
	vat      decimal.Decimal
	currency string
}

func loadTariffTable(cfg FixedPricesConfig) (*types.TariffTable, error) {
	loc, err := time.LoadLocation(cfg.TimeZone)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid time zone %q: %w", ErrConfiguration, cfg.TimeZone, err)
	}
	table, err := types.ParseTariffTable(cfg.Prices, loc)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConfiguration, err)
	}
	return table, nil
}

func newFixed(cfg FixedConfig) (*Fixed, error) {
	table, err := loadTariffTable(cfg.FixedPricesConfig)
	if err != nil {
		return nil, err
	}
	return &Fixed{
		table:    table,
		vat:      cfg.vat(),
		currency: cfg.Currency,
	}, nil
}

// Currency returns the currency of the configured prices.
func (f *Fixed) Currency() string {
	return f.currency
}

// GetPriceData implements Provider.
func (f *Fixed) GetPriceData(ctx context.Context, from, to time.Time) (types.Segments, error) {
	if err := checkWindow(from, to); err != nil {
		return nil, err
	}
	segs := f.table.Segments(from, to)
	log.Ctx(ctx).DebugContext(
		ctx,
		"expanded fixed prices",
		slog.Time("from", from),
		slog.Time("to", to),
		slog.Int("count", len(segs)),
	)
	// a validated table always covers the window so this only guards against bugs
	return finish("fixed", segs, from, to, f.vat)
}
