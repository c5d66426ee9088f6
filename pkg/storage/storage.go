package storage

import (
	"context"
	"errors"
	"time"

	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
)

var (
	ErrChargeNotFound = errors.New("charge not found")
)

// Database is the store of TeslaMate charging sessions.
type Database interface {
	// Session acquires a connection for the duration of one update. The
	// caller must Release it.
	Session(ctx context.Context) (Session, error)

	// Lifecycle
	Close() error
}

// Session is a single connection to the charging session store.
type Session interface {
	// UncostedCharges returns completed charges at the geofence that ended at
	// or after since and have no cost yet, each with its samples in date
	// order.
	UncostedCharges(ctx context.Context, geofenceID int64, since time.Time) ([]types.Charge, error)
	// SetChargeCost stores the cost of a charge.
	SetChargeCost(ctx context.Context, chargeID int64, cost decimal.Decimal) error
	Release()
}

// PriceArchive keeps a copy of the prices each update was computed with.
type PriceArchive interface {
	// UpsertSegments adds or replaces the segments, keyed by ValidFrom.
	UpsertSegments(ctx context.Context, provider string, segments types.Segments) error
	// GetSegments returns archived segments starting in [start, end).
	GetSegments(ctx context.Context, provider string, start, end time.Time) (types.Segments, error)
	// GetLatestSegmentTime returns the ValidFrom of the newest archived
	// segment or the zero time if there are none.
	GetLatestSegmentTime(ctx context.Context, provider string) (time.Time, error)

	// Lifecycle
	Close() error
}

// NoArchive discards archived prices.
type NoArchive struct{}

var _ PriceArchive = NoArchive{}

func (NoArchive) UpsertSegments(context.Context, string, types.Segments) error {
	return nil
}

func (NoArchive) GetSegments(context.Context, string, time.Time, time.Time) (types.Segments, error) {
	return nil, nil
}

func (NoArchive) GetLatestSegmentTime(context.Context, string) (time.Time, error) {
	return time.Time{}, nil
}

func (NoArchive) Close() error {
	return nil
}
