package storagemock

import (
	"context"
	"time"

	"github.com/raterudder/gridsync/pkg/storage"
	"github.com/raterudder/gridsync/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) InsertNotification(ctx context.Context, n types.Notification) error {
	args := m.Called(ctx, n)
	return args.Error(0)
}

func (m *MockDatabase) GetNotifications(ctx context.Context, start, end time.Time) ([]types.Notification, error) {
	args := m.Called(ctx, start, end)
	var ns []types.Notification
	if v := args.Get(0); v != nil {
		ns = v.([]types.Notification)
	}
	return ns, args.Error(1)
}

func (m *MockDatabase) InsertAnalysisReport(ctx context.Context, r types.AnalysisReport) error {
	args := m.Called(ctx, r)
	return args.Error(0)
}

func (m *MockDatabase) GetLatestAnalysisReport(ctx context.Context) (*types.AnalysisReport, error) {
	args := m.Called(ctx)
	var r *types.AnalysisReport
	if v := args.Get(0); v != nil {
		r = v.(*types.AnalysisReport)
	}
	return r, args.Error(1)
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
