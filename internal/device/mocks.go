package device

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockGateway is a mock implementation of Gateway for testing.
type MockGateway struct {
	mock.Mock
}

func (m *MockGateway) PushAddress(ctx context.Context, e Entry) (Result, error) {
	args := m.Called(ctx, e)
	return args.Get(0).(Result), args.Error(1)
}

func (m *MockGateway) Probe(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockGateway) Close() error {
	return m.Called().Error(0)
}

// MockRunner is a mock implementation of Runner for testing.
type MockRunner struct {
	mock.Mock
}

func (m *MockRunner) Run(ctx context.Context, command string) (string, error) {
	args := m.Called(ctx, command)
	return args.String(0), args.Error(1)
}

func (m *MockRunner) Check(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
