package server

import (
	"context"
	"time"

	"github.com/solaranalyzer/solaranalyzer/pkg/sunpower"
	"github.com/solaranalyzer/solaranalyzer/pkg/types"
	"github.com/stretchr/testify/mock"
)

type mockSyncer struct {
	mock.Mock
}

func (m *mockSyncer) SyncLocal(ctx context.Context) (types.SyncResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.SyncResult), args.Error(1)
}

func (m *mockSyncer) SyncCloud(ctx context.Context) (types.SyncResult, error) {
	args := m.Called(ctx)
	return args.Get(0).(types.SyncResult), args.Error(1)
}

func (m *mockSyncer) ImportHistory(ctx context.Context, start, end time.Time, interval string) (types.SyncResult, error) {
	args := m.Called(ctx, start, end, interval)
	return args.Get(0).(types.SyncResult), args.Error(1)
}

type mockCloud struct {
	mock.Mock
}

func (m *mockCloud) Configured() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *mockCloud) GetPanels(ctx context.Context) ([]sunpower.Panel, error) {
	args := m.Called(ctx)
	panels, _ := args.Get(0).([]sunpower.Panel)
	return panels, args.Error(1)
}

func (m *mockCloud) GetSystemInfo(ctx context.Context) (sunpower.SystemInfo, error) {
	args := m.Called(ctx)
	return args.Get(0).(sunpower.SystemInfo), args.Error(1)
}
