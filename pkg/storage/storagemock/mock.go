package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/chargerate/pkg/storage"
	"github.com/raterudder/chargerate/pkg/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) Session(ctx context.Context) (storage.Session, error) {
	args := m.Called(ctx)
	if s, ok := args.Get(0).(storage.Session); ok {
		return s, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}

type MockSession struct {
	mock.Mock
}

var _ storage.Session = (*MockSession)(nil)

func (m *MockSession) UncostedCharges(ctx context.Context, geofenceID int64, since time.Time) ([]types.Charge, error) {
	args := m.Called(ctx, geofenceID, since)
	if len(args) > 0 {
		charges, _ := args.Get(0).([]types.Charge)
		return charges, args.Error(1)
	}
	return nil, nil
}

func (m *MockSession) SetChargeCost(ctx context.Context, chargeID int64, cost decimal.Decimal) error {
	args := m.Called(ctx, chargeID, cost)
	return args.Error(0)
}

func (m *MockSession) Release() {
	m.Called()
}

type MockArchive struct {
	mock.Mock
}

var _ storage.PriceArchive = (*MockArchive)(nil)

func (m *MockArchive) UpsertSegments(ctx context.Context, provider string, segments types.Segments) error {
	args := m.Called(ctx, provider, segments)
	return args.Error(0)
}

func (m *MockArchive) GetSegments(ctx context.Context, provider string, start, end time.Time) (types.Segments, error) {
	args := m.Called(ctx, provider, start, end)
	if len(args) > 0 {
		segs, _ := args.Get(0).(types.Segments)
		return segs, args.Error(1)
	}
	return nil, nil
}

func (m *MockArchive) GetLatestSegmentTime(ctx context.Context, provider string) (time.Time, error) {
	args := m.Called(ctx, provider)
	if len(args) > 0 {
		return args.Get(0).(time.Time), args.Error(1)
	}
	return time.Time{}, nil
}

func (m *MockArchive) Close() error {
	args := m.Called()
	return args.Error(0)
}
