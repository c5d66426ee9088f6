// Package charges prices completed TeslaMate charging sessions.
package charges

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/pricing"
	"github.com/raterudder/chargerate/pkg/scheduler"
	"github.com/raterudder/chargerate/pkg/storage"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

// Config controls which charges are priced.
type Config struct {
	GeofenceID int64           `validate:"gt=0"`
	FeePerKWh  decimal.Decimal `validate:"-"`
	Lookback   time.Duration   `validate:"gt=0"`
}

var validate = validator.New()

// Updater writes the cost of completed charges back to TeslaMate.
type Updater struct {
	db       storage.Database
	archive  storage.PriceArchive
	provider pricing.Provider
	name     string
	cfg      Config
	now      func() time.Time
}

// New returns an Updater. name identifies the provider in the archive.
func New(db storage.Database, archive storage.PriceArchive, provider pricing.Provider, name string, cfg Config) (*Updater, error) {
	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("%w: invalid charges config: %w", pricing.ErrConfiguration, err)
	}
	if cfg.FeePerKWh.IsNegative() {
		return nil, fmt.Errorf("%w: fee-per-kwh cannot be negative", pricing.ErrConfiguration)
	}
	if archive == nil {
		archive = storage.NoArchive{}
	}
	return &Updater{
		db:       db,
		archive:  archive,
		provider: provider,
		name:     name,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// NewScope acquires a database session for one update. It implements
// scheduler.ScopeFunc.
func (u *Updater) NewScope(ctx context.Context) (scheduler.Scope, error) {
	sess, err := u.db.Session(ctx)
	if err != nil {
		return nil, err
	}
	return &run{u: u, sess: sess}, nil
}

type run struct {
	u    *Updater
	sess storage.Session
}

// Update prices every uncosted charge in the lookback window.
func (r *run) Update(ctx context.Context) error {
	_, err := r.u.update(ctx, r.sess)
	return err
}

// Close releases the database session.
func (r *run) Close() error {
	r.sess.Release()
	return nil
}

func (u *Updater) update(ctx context.Context, sess storage.Session) ([]types.ChargeCost, error) {
	since := u.now().Add(-u.cfg.Lookback)
	charges, err := sess.UncostedCharges(ctx, u.cfg.GeofenceID, since)
	if err != nil {
		return nil, err
	}

	var pending []types.Charge
	for _, c := range charges {
		if reason := skipReason(c); reason != "" {
			log.Ctx(ctx).WarnContext(ctx, "skipping charge", slog.Int64("chargeID", c.ID), slog.String("reason", reason))
			continue
		}
		pending = append(pending, c)
	}
	if len(pending) == 0 {
		log.Ctx(ctx).DebugContext(ctx, "no charges to price", slog.Time("since", since))
		return nil, nil
	}

	from, to := window(pending)
	segs, err := u.provider.GetPriceData(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get prices for %s - %s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
	}
	if err := u.archive.UpsertSegments(ctx, u.name, segs); err != nil {
		// the costs can still be written
		log.Ctx(ctx).WarnContext(ctx, "failed to archive prices", slog.Any("error", err))
	}

	var errs []error
	costs := make([]types.ChargeCost, 0, len(pending))
	for _, c := range pending {
		cost, err := Cost(c, segs, u.cfg.FeePerKWh)
		if err != nil {
			errs = append(errs, fmt.Errorf("charge %d: %w", c.ID, err))
			continue
		}
		if err := sess.SetChargeCost(ctx, c.ID, cost.Cost); err != nil {
			errs = append(errs, fmt.Errorf("charge %d: %w", c.ID, err))
			continue
		}
		log.Ctx(ctx).InfoContext(
			ctx,
			"priced charge",
			slog.Int64("chargeID", c.ID),
			slog.String("cost", cost.Cost.String()),
			slog.Float64("energy", cost.Energy),
		)
		costs = append(costs, cost)
	}
	return costs, errors.Join(errs...)
}

func skipReason(c types.Charge) string {
	switch {
	case len(c.Samples) < 2:
		return "not enough samples"
	case chargeEnergy(c) <= 0:
		return "no energy recorded"
	case !c.StartDate.Before(c.EndDate):
		return "ends before it starts"
	}
	return ""
}

// window returns the smallest range covering every charge and its samples.
func window(charges []types.Charge) (time.Time, time.Time) {
	var from, to time.Time
	for i, c := range charges {
		start, end := c.StartDate, c.EndDate
		if first := c.Samples[0].Date; first.Before(start) {
			start = first
		}
		if last := c.Samples[len(c.Samples)-1].Date; last.After(end) {
			end = last
		}
		if i == 0 || start.Before(from) {
			from = start
		}
		if i == 0 || end.After(to) {
			to = end
		}
	}
	return from, to
}

// chargeEnergy is the energy drawn from the grid, falling back to what was
// added to the battery when TeslaMate could not measure it.
func chargeEnergy(c types.Charge) float64 {
	if c.EnergyUsed > 0 {
		return c.EnergyUsed
	}
	return c.EnergyAdded
}

// Cost prices a charge. The energy added between consecutive samples is
// priced at the segment in effect at the earlier sample and scaled so the
// total equals the charge's energy. fee is added per kWh.
func Cost(c types.Charge, segs types.Segments, fee decimal.Decimal) (types.ChargeCost, error) {
	energy := chargeEnergy(c)
	if len(c.Samples) < 2 || energy <= 0 {
		return types.ChargeCost{}, fmt.Errorf("charge has no measurable energy")
	}

	var added float64
	for i := 1; i < len(c.Samples); i++ {
		if d := c.Samples[i].EnergyAdded - c.Samples[i-1].EnergyAdded; d > 0 {
			added += d
		}
	}

	total := decimal.Zero
	if added > 0 {
		scale := decimal.NewFromFloat(energy).Div(decimal.NewFromFloat(added))
		for i := 1; i < len(c.Samples); i++ {
			d := c.Samples[i].EnergyAdded - c.Samples[i-1].EnergyAdded
			if d <= 0 {
				continue
			}
			seg, ok := segs.At(c.Samples[i-1].Date)
			if !ok {
				return types.ChargeCost{}, fmt.Errorf("no price at %s", c.Samples[i-1].Date.Format(time.RFC3339))
			}
			total = total.Add(decimal.NewFromFloat(d).Mul(scale).Mul(seg.Value))
		}
	} else {
		// the battery reading never moved so price everything at the start
		seg, ok := segs.At(c.StartDate)
		if !ok {
			return types.ChargeCost{}, fmt.Errorf("no price at %s", c.StartDate.Format(time.RFC3339))
		}
		total = decimal.NewFromFloat(energy).Mul(seg.Value)
	}

	total = total.Add(fee.Mul(decimal.NewFromFloat(energy)))
	return types.ChargeCost{
		ChargeID: c.ID,
		Cost:     total.Round(2),
		Energy:   energy,
	}, nil
}
