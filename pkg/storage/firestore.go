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
	"github.com/raterudder/gridsync/pkg/log"
	"github.com/raterudder/gridsync/pkg/types"
	"google.golang.org/api/iterator"
)

// docTimeLayout is fixed width so document IDs sort by time.
const docTimeLayout = "2006-01-02T15:04:05.000000000Z"

const (
	notificationsCollection = "notifications"
	reportsCollection       = "analysis_reports"
)

// FirestoreProvider implements the Database interface using Google Cloud Firestore.
// Records are stored as JSON blobs under homes/<home>/<collection>.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
	home      string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")
	home := lflag.String("firestore-home", "default", "Document under homes/ that records are written to")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database
		f.home = *home

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	if f.home == "" {
		return fmt.Errorf("firestore-home cannot be empty")
	}
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

func (f *FirestoreProvider) collection(name string) (*firestore.CollectionRef, error) {
	if f.home == "" {
		return nil, fmt.Errorf("home cannot be empty")
	}
	return f.client.Collection("homes").Doc(f.home).Collection(name), nil
}

func docTime(t time.Time) string {
	return t.UTC().Format(docTimeLayout)
}

// InsertNotification stores n keyed by its creation time and ID.
func (f *FirestoreProvider) InsertNotification(ctx context.Context, n types.Notification) error {
	jsonBytes, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	coll, err := f.collection(notificationsCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(docTime(n.CreatedAt)+"_"+n.ID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": n.CreatedAt,
		"deviceID":  n.DeviceID,
	})
	if err != nil {
		return fmt.Errorf("failed to insert notification: %w", err)
	}
	return nil
}

// GetNotifications returns notifications created in [start, end).
// Uses document ID range queries for efficient filtering without reading all documents.
func (f *FirestoreProvider) GetNotifications(ctx context.Context, start, end time.Time) ([]types.Notification, error) {
	coll, err := f.collection(notificationsCollection)
	if err != nil {
		return nil, err
	}
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(docTime(start))).
		Where(firestore.DocumentID, "<", coll.Doc(docTime(end))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var out []types.Notification
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating notifications: %w", err)
		}
		var n types.Notification
		if err := decodeJSONDoc(ctx, doc, &n); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, nil
}

// InsertAnalysisReport stores r keyed by when it was generated.
func (f *FirestoreProvider) InsertAnalysisReport(ctx context.Context, r types.AnalysisReport) error {
	jsonBytes, err := json.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis report: %w", err)
	}
	coll, err := f.collection(reportsCollection)
	if err != nil {
		return err
	}
	_, err = coll.Doc(docTime(r.GeneratedAt)).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": r.GeneratedAt,
	})
	if err != nil {
		return fmt.Errorf("failed to insert analysis report: %w", err)
	}
	return nil
}

// GetLatestAnalysisReport returns the newest report, or nil if none exist.
func (f *FirestoreProvider) GetLatestAnalysisReport(ctx context.Context) (*types.AnalysisReport, error) {
	coll, err := f.collection(reportsCollection)
	if err != nil {
		return nil, err
	}
	iter := coll.OrderBy(firestore.DocumentID, firestore.Desc).Limit(1).Documents(ctx)
	defer iter.Stop()

	doc, err := iter.Next()
	if err == iterator.Done {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch latest analysis report: %w", err)
	}
	var r types.AnalysisReport
	if err := decodeJSONDoc(ctx, doc, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

func decodeJSONDoc(ctx context.Context, doc *firestore.DocumentSnapshot, dest any) error {
	val, err := doc.DataAt("json")
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "doc missing json", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("document %s missing 'json' field: %w", doc.Ref.ID, err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		log.Ctx(ctx).WarnContext(ctx, "doc json not string", slog.String("docID", doc.Ref.ID))
		return fmt.Errorf("document %s 'json' field is not string", doc.Ref.ID)
	}
	if err := json.Unmarshal([]byte(jsonStr), dest); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal doc", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
		return fmt.Errorf("failed to unmarshal document %s: %w", doc.Ref.ID, err)
	}
	return nil
}
