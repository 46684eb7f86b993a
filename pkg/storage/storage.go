package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/tnbcalc/tnbcalc/pkg/types"
)

var (
	ErrSiteNotFound = errors.New("site not found")
)

// Database defines the interface for persisting per-site documents.
type Database interface {
	// Settings
	GetSettings(ctx context.Context, siteID string) (types.Settings, int, error)
	SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error

	// State is the single versioned document holding the buckets,
	// overrides and caches for one meter pair.
	GetState(ctx context.Context, siteID string) (types.SiteState, int, error)
	SetState(ctx context.Context, siteID string, state types.SiteState, version int) error

	// Billing history archive, one record per closed cycle keyed "YYYY-MM".
	UpsertBillingMonth(ctx context.Context, siteID, monthKey string, rec types.HistoricalMonth) error
	GetBillingHistory(ctx context.Context, siteID, startKey, endKey string) (map[string]types.HistoricalMonth, error)

	// Snapshot log for the history API.
	InsertSnapshot(ctx context.Context, siteID string, snap types.BillingSnapshot) error
	GetSnapshotHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.BillingSnapshot, error)

	// Sites
	GetSite(ctx context.Context, siteID string) (types.Site, error)
	ListSites(ctx context.Context) ([]types.Site, error)
	CreateSite(ctx context.Context, siteID string, site types.Site) error

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
