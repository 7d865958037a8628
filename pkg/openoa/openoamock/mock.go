package openoamock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/windyield/windyield/pkg/openoa"
)

type MockEngine struct {
	mock.Mock
}

var _ openoa.Engine = (*MockEngine)(nil)

func (m *MockEngine) RunAEP(ctx context.Context, req openoa.Request, params openoa.AEPParams) (openoa.AEPResults, error) {
	args := m.Called(ctx, req, params)
	return args.Get(0).(openoa.AEPResults), args.Error(1)
}

func (m *MockEngine) RunElectricalLosses(ctx context.Context, req openoa.Request, params openoa.ElectricalLossParams) (openoa.ElectricalLossResults, error) {
	args := m.Called(ctx, req, params)
	return args.Get(0).(openoa.ElectricalLossResults), args.Error(1)
}

func (m *MockEngine) RunWakeLosses(ctx context.Context, req openoa.Request, params openoa.WakeLossParams) (openoa.WakeLossResults, error) {
	args := m.Called(ctx, req, params)
	return args.Get(0).(openoa.WakeLossResults), args.Error(1)
}

func (m *MockEngine) RunTurbineIdealEnergy(ctx context.Context, req openoa.Request, params openoa.IdealEnergyParams) (openoa.IdealEnergyResults, error) {
	args := m.Called(ctx, req, params)
	return args.Get(0).(openoa.IdealEnergyResults), args.Error(1)
}

func (m *MockEngine) Version(ctx context.Context) (string, error) {
	args := m.Called(ctx)
	return args.String(0), args.Error(1)
}
