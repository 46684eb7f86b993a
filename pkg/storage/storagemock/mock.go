package storagemock

import (
	"context"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/tnbcalc/tnbcalc/pkg/storage"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	args := m.Called(ctx, siteID)
	// return empty if not specified, or checks args
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	args := m.Called(ctx, siteID, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) GetState(ctx context.Context, siteID string) (types.SiteState, int, error) {
	args := m.Called(ctx, siteID)
	if len(args) > 0 {
		return args.Get(0).(types.SiteState), args.Int(1), args.Error(2)
	}
	return types.SiteState{}, 0, nil
}

func (m *MockDatabase) SetState(ctx context.Context, siteID string, state types.SiteState, version int) error {
	args := m.Called(ctx, siteID, state, version)
	return args.Error(0)
}

func (m *MockDatabase) UpsertBillingMonth(ctx context.Context, siteID, monthKey string, rec types.HistoricalMonth) error {
	args := m.Called(ctx, siteID, monthKey, rec)
	return args.Error(0)
}

func (m *MockDatabase) GetBillingHistory(ctx context.Context, siteID, startKey, endKey string) (map[string]types.HistoricalMonth, error) {
	args := m.Called(ctx, siteID, startKey, endKey)
	if len(args) > 0 {
		if v := args.Get(0); v != nil {
			return v.(map[string]types.HistoricalMonth), args.Error(1)
		}
		return nil, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) InsertSnapshot(ctx context.Context, siteID string, snap types.BillingSnapshot) error {
	args := m.Called(ctx, siteID, snap)
	return args.Error(0)
}

func (m *MockDatabase) GetSnapshotHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.BillingSnapshot, error) {
	args := m.Called(ctx, siteID, start, end)
	if len(args) > 0 {
		if v := args.Get(0); v != nil {
			return v.([]types.BillingSnapshot), args.Error(1)
		}
		return nil, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	args := m.Called(ctx, siteID)
	if len(args) > 0 {
		return args.Get(0).(types.Site), args.Error(1)
	}
	return types.Site{}, nil
}

func (m *MockDatabase) ListSites(ctx context.Context) ([]types.Site, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		if v := args.Get(0); v != nil {
			return v.([]types.Site), args.Error(1)
		}
		return nil, args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) CreateSite(ctx context.Context, siteID string, site types.Site) error {
	args := m.Called(ctx, siteID, site)
	return args.Error(0)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
