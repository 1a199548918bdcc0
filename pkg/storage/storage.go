package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/gridsync/pkg/types"
)

// Database archives what the engine produced. Engine state itself is never
// restored from it.
type Database interface {
	// Notifications
	InsertNotification(ctx context.Context, n types.Notification) error
	GetNotifications(ctx context.Context, start, end time.Time) ([]types.Notification, error)

	// Analysis
	InsertAnalysisReport(ctx context.Context, r types.AnalysisReport) error
	GetLatestAnalysisReport(ctx context.Context) (*types.AnalysisReport, error)

	// Lifecycle
	Close() error
}

// Configured sets up the Storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "none", "Storage provider to use (available: none, firestore)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "none", "":
			p.Database = Noop{}
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

// Noop discards everything written to it.
type Noop struct{}

var _ Database = Noop{}

func (Noop) InsertNotification(context.Context, types.Notification) error { return nil }

func (Noop) GetNotifications(context.Context, time.Time, time.Time) ([]types.Notification, error) {
	return nil, nil
}

func (Noop) InsertAnalysisReport(context.Context, types.AnalysisReport) error { return nil }

func (Noop) GetLatestAnalysisReport(context.Context) (*types.AnalysisReport, error) {
	return nil, nil
}

func (Noop) Close() error { return nil }
