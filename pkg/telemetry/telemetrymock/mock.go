package telemetrymock

import (
	"context"

	"github.com/raterudder/gridsync/pkg/telemetry"
	"github.com/raterudder/gridsync/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockService struct {
	mock.Mock
}

var _ telemetry.Service = (*MockService)(nil)

func (m *MockService) LatestSample(ctx context.Context) (*types.EnergySample, error) {
	args := m.Called(ctx)
	var s *types.EnergySample
	if v := args.Get(0); v != nil {
		s = v.(*types.EnergySample)
	}
	return s, args.Error(1)
}

func (m *MockService) Devices(ctx context.Context) ([]types.DeviceState, error) {
	args := m.Called(ctx)
	var d []types.DeviceState
	if v := args.Get(0); v != nil {
		d = v.([]types.DeviceState)
	}
	return d, args.Error(1)
}

func (m *MockService) SetDevice(ctx context.Context, id int64, isOn bool) error {
	args := m.Called(ctx, id, isOn)
	return args.Error(0)
}

func (m *MockService) GenerateAnalysis(ctx context.Context) (types.AnalysisResponse, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.AnalysisResponse), args.Error(1)
}
