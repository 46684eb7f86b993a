package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/levenlabs/go-lflag"
	"github.com/tnbcalc/tnbcalc/pkg/log"
	"github.com/tnbcalc/tnbcalc/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. Documents are stored as JSON-string blobs so schema evolution
// stays in one place (the types package).
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreProvider) getCollection(siteID, name string) (*firestore.CollectionRef, error) {
	if siteID == "" {
		return nil, fmt.Errorf("siteID cannot be empty")
	}
	return f.client.Collection("sites").Doc(siteID).Collection(name), nil
}

// getBlobDoc reads a "json"-blob document into out, returning the stored
// version. found is false when the document does not exist.
func (f *FirestoreProvider) getBlobDoc(ctx context.Context, ref *firestore.DocumentRef, out any) (version int, found bool, err error) {
	doc, err := ref.Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return 0, false, nil
		}
		return 0, false, fmt.Errorf("failed to fetch %s doc: %w", ref.ID, err)
	}

	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			version = int(vInt)
		}
	}

	val, err := doc.DataAt("json")
	if err != nil {
		return 0, false, fmt.Errorf("document %s missing 'json' field: %w", ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return 0, false, fmt.Errorf("document %s 'json' field is not a string", ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), out); err != nil {
		return 0, false, fmt.Errorf("failed to unmarshal %s json: %w", ref.ID, err)
	}
	return version, true, nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings" document.
func (f *FirestoreProvider) GetSettings(ctx context.Context, siteID string) (types.Settings, int, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.Settings{}, 0, err
	}
	var s types.Settings
	version, found, err := f.getBlobDoc(ctx, coll.Doc("settings"), &s)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read settings", slog.String("siteID", siteID), slog.Any("err", err))
		return types.Settings{}, 0, err
	}
	if !found {
		// Return default settings if not found
		return types.Settings{}, 0, nil
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings" document.
// It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, siteID string, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}

	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// GetState retrieves the accumulated site state from the "config/state"
// document. A missing document yields a zero state at version 0, which the
// engine treats as a fresh site.
func (f *FirestoreProvider) GetState(ctx context.Context, siteID string) (types.SiteState, int, error) {
	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return types.SiteState{}, 0, err
	}
	var s types.SiteState
	version, found, err := f.getBlobDoc(ctx, coll.Doc("state"), &s)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to read state", slog.String("siteID", siteID), slog.Any("err", err))
		return types.SiteState{}, 0, err
	}
	if !found {
		return types.SiteState{}, 0, nil
	}
	return s, version, nil
}

// SetState saves the accumulated site state to the "config/state" document.
func (f *FirestoreProvider) SetState(ctx context.Context, siteID string, state types.SiteState, version int) error {
	jsonBytes, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal state: %w", err)
	}

	coll, err := f.getCollection(siteID, "config")
	if err != nil {
		return err
	}
	_, err = coll.Doc("state").Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"version":   version,
		"timestamp": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to save state: %w", err)
	}
	return nil
}

// UpsertBillingMonth adds or updates a closed cycle's archive record in the
// "billing_history" collection. The document ID is the cycle's "YYYY-MM"
// key, which sorts chronologically for range queries.
func (f *FirestoreProvider) UpsertBillingMonth(ctx context.Context, siteID, monthKey string, rec types.HistoricalMonth) error {
	jsonBytes, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal billing month: %w", err)
	}

	coll, err := f.getCollection(siteID, "billing_history")
	if err != nil {
		return err
	}
	_, err = coll.Doc(monthKey).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": time.Now(),
	})
	if err != nil {
		return fmt.Errorf("failed to upsert billing month: %w", err)
	}
	return nil
}

// GetBillingHistory retrieves archived cycles with keys in [startKey, endKey).
// Uses document ID range queries for efficient filtering.
func (f *FirestoreProvider) GetBillingHistory(ctx context.Context, siteID, startKey, endKey string) (map[string]types.HistoricalMonth, error) {
	coll, err := f.getCollection(siteID, "billing_history")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startKey)).
		Where(firestore.DocumentID, "<", coll.Doc(endKey)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	out := make(map[string]types.HistoricalMonth)
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating billing history: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "billing month doc missing json", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("billing month %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "billing month doc json not string", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID))
			return nil, fmt.Errorf("billing month %s 'json' field is not string", doc.Ref.ID)
		}

		var rec types.HistoricalMonth
		if err := json.Unmarshal([]byte(jsonStr), &rec); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal billing month", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal billing month (id=%s): %w", doc.Ref.ID, err)
		}
		out[doc.Ref.ID] = rec
	}
	return out, nil
}

// InsertSnapshot adds a poll snapshot to the "snapshot_history" collection.
// The document ID is the RFC3339 timestamp for efficient range queries.
func (f *FirestoreProvider) InsertSnapshot(ctx context.Context, siteID string, snap types.BillingSnapshot) error {
	jsonBytes, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	coll, err := f.getCollection(siteID, "snapshot_history")
	if err != nil {
		return err
	}
	// Use RFC3339 as document ID for lexicographic ordering and efficient range queries
	docID := snap.Timestamp.UTC().Format(time.RFC3339)
	_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": snap.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// GetSnapshotHistory retrieves snapshots within the specified time range.
// Uses document ID range queries for efficient filtering without reading
// all documents.
func (f *FirestoreProvider) GetSnapshotHistory(ctx context.Context, siteID string, start, end time.Time) ([]types.BillingSnapshot, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(siteID, "snapshot_history")
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var snaps []types.BillingSnapshot
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating snapshots: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "snapshot doc missing json", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("snapshot document %s missing 'json' field: %w", doc.Ref.ID, err)
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "snapshot doc json not string", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID))
			return nil, fmt.Errorf("snapshot document %s 'json' field is not string", doc.Ref.ID)
		}

		var s types.BillingSnapshot
		if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal snapshot", slog.String("docID", doc.Ref.ID), slog.String("siteID", siteID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal snapshot (id=%s): %w", doc.Ref.ID, err)
		}
		snaps = append(snaps, s)
	}
	return snaps, nil
}

// GetSite retrieves a site from the "sites" collection.
func (f *FirestoreProvider) GetSite(ctx context.Context, siteID string) (types.Site, error) {
	doc, err := f.client.Collection("sites").Doc(siteID).Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.Site{}, fmt.Errorf("%w: %s", ErrSiteNotFound, siteID)
		}
		return types.Site{}, fmt.Errorf("failed to get site %s: %w", siteID, err)
	}

	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "site doc missing json", slog.String("siteID", siteID), slog.Any("err", err))
		return types.Site{}, fmt.Errorf("site %s missing json: %w", siteID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "site doc json not string", slog.String("siteID", siteID))
		return types.Site{}, fmt.Errorf("site %s json not string", siteID)
	}

	var site types.Site
	if err := json.Unmarshal([]byte(jsonStr), &site); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal site", slog.String("siteID", siteID), slog.Any("err", err))
		return types.Site{}, fmt.Errorf("failed to unmarshal site %s: %w", siteID, err)
	}
	site.ID = doc.Ref.ID
	return site, nil
}

// ListSites retrieves all sites from the "sites" collection.
func (f *FirestoreProvider) ListSites(ctx context.Context) ([]types.Site, error) {
	iter := f.client.Collection("sites").Documents(ctx)
	defer iter.Stop()

	var sites []types.Site
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating sites: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "site doc missing json", slog.String("siteID", doc.Ref.ID))
			// Skip malformed documents
			continue
		}
		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "site doc json not string", slog.String("siteID", doc.Ref.ID))
			continue
		}

		var site types.Site
		if err := json.Unmarshal([]byte(jsonStr), &site); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal site", slog.String("siteID", doc.Ref.ID), slog.Any("err", err))
			// Skip malformed JSON
			continue
		}
		site.ID = doc.Ref.ID
		sites = append(sites, site)
	}
	return sites, nil
}

// CreateSite creates a new site document in the "sites" collection.
func (f *FirestoreProvider) CreateSite(ctx context.Context, siteID string, site types.Site) error {
	siteJSON, err := json.Marshal(site)
	if err != nil {
		return fmt.Errorf("failed to marshal site %s: %w", siteID, err)
	}
	_, err = f.client.Collection("sites").Doc(siteID).Create(ctx, map[string]interface{}{
		"json": string(siteJSON),
	})
	if err != nil {
		return fmt.Errorf("failed to create site %s: %w", siteID, err)
	}
	return nil
}
