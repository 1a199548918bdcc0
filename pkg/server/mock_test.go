package server

import (
	"context"

	"github.com/raterudder/gridsync/pkg/engine"
	"github.com/raterudder/gridsync/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockEngine struct {
	mock.Mock
}

func (m *mockEngine) Snapshot() engine.State {
	args := m.Called()
	return args.Get(0).(engine.State)
}

func (m *mockEngine) Samples() []types.EnergySample {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]types.EnergySample)
}

func (m *mockEngine) Devices() []types.DeviceState {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]types.DeviceState)
}

func (m *mockEngine) Notifications() []types.Notification {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).([]types.Notification)
}

func (m *mockEngine) Analysis() *types.AnalysisReport {
	args := m.Called()
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*types.AnalysisReport)
}

func (m *mockEngine) SetDevice(ctx context.Context, id int64, isOn bool) error {
	args := m.Called(ctx, id, isOn)
	return args.Error(0)
}

func (m *mockEngine) ToggleDevice(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *mockEngine) Analyze(ctx context.Context) (*types.AnalysisReport, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*types.AnalysisReport), args.Error(1)
}

func (m *mockEngine) Subscribe() (<-chan types.Notification, func()) {
	args := m.Called()
	return args.Get(0).(chan types.Notification), args.Get(1).(func())
}
