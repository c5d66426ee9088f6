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
	"github.com/raterudder/chargerate/pkg/log"
	"github.com/raterudder/chargerate/pkg/types"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreArchive implements PriceArchive using Google Cloud Firestore.
// Segments are stored under price_archive/{provider}/segments.
type FirestoreArchive struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore archive.
// It registers flags for configuration.
func configuredFirestore() *FirestoreArchive {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreArchive{}

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

// Validate checks if the archive is properly configured.
func (f *FirestoreArchive) Validate() error {
	// an empty project ID is detected from the environment
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the archive methods.
func (f *FirestoreArchive) Init(ctx context.Context) error {
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
func (f *FirestoreArchive) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

func (f *FirestoreArchive) getCollection(provider string) (*firestore.CollectionRef, error) {
	if provider == "" {
		return nil, fmt.Errorf("provider cannot be empty")
	}
	return f.client.Collection("price_archive").Doc(provider).Collection("segments"), nil
}

// UpsertSegments adds or updates segments in the provider's collection.
// The document ID is the RFC3339 timestamp of ValidFrom for efficient range
// queries.
func (f *FirestoreArchive) UpsertSegments(ctx context.Context, provider string, segments types.Segments) error {
	coll, err := f.getCollection(provider)
	if err != nil {
		return err
	}

	for _, seg := range segments {
		jsonBytes, err := json.Marshal(seg)
		if err != nil {
			return fmt.Errorf("failed to marshal segment: %w", err)
		}
		docID := seg.ValidFrom.UTC().Format(time.RFC3339)
		_, err = coll.Doc(docID).Set(ctx, map[string]interface{}{
			"json":      string(jsonBytes),
			"timestamp": seg.ValidFrom,
			"validTo":   seg.ValidTo,
		})
		if err != nil {
			return fmt.Errorf("failed to upsert segment %s: %w", docID, err)
		}
	}
	log.Ctx(ctx).DebugContext(ctx, "archived price segments", slog.String("provider", provider), slog.Int("count", len(segments)))
	return nil
}

// GetSegments retrieves segments starting within the specified time range.
// Uses document ID range queries for efficient filtering.
func (f *FirestoreArchive) GetSegments(ctx context.Context, provider string, start, end time.Time) (types.Segments, error) {
	startDocID := start.UTC().Format(time.RFC3339)
	endDocID := end.UTC().Format(time.RFC3339)

	coll, err := f.getCollection(provider)
	if err != nil {
		return nil, err
	}

	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(startDocID)).
		Where(firestore.DocumentID, "<", coll.Doc(endDocID)).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var segs types.Segments
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating segments: %w", err)
		}

		val, err := doc.DataAt("json")
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "segment doc missing json", slog.String("docID", doc.Ref.ID), slog.String("provider", provider), slog.Any("err", err))
			return nil, fmt.Errorf("segment document %s missing 'json' field: %w", doc.Ref.ID, err)
		}

		jsonStr, ok := val.(string)
		if !ok {
			log.Ctx(ctx).WarnContext(ctx, "segment doc json not string", slog.String("docID", doc.Ref.ID), slog.String("provider", provider))
			return nil, fmt.Errorf("segment document %s 'json' field is not string", doc.Ref.ID)
		}

		var seg types.PriceSegment
		if err := json.Unmarshal([]byte(jsonStr), &seg); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal segment", slog.String("docID", doc.Ref.ID), slog.String("provider", provider), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal segment (id=%s): %w", doc.Ref.ID, err)
		}
		segs = append(segs, seg)
	}
	return segs, nil
}

// GetLatestSegmentTime retrieves the start of the newest archived segment.
func (f *FirestoreArchive) GetLatestSegmentTime(ctx context.Context, provider string) (time.Time, error) {
	coll, err := f.getCollection(provider)
	if err != nil {
		return time.Time{}, err
	}

	// firestore automatically creates indexes for top-level fields
	iter := coll.
		OrderBy("timestamp", firestore.Desc).
		Limit(1).
		Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return time.Time{}, nil
	}
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return time.Time{}, nil
		}
		return time.Time{}, fmt.Errorf("failed to get latest segment doc: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, doc.Ref.ID)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid segment doc id %s: %w", doc.Ref.ID, err)
	}
	return ts, nil
}
