// Package testutil provides shared test doubles.
package testutil

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/codeexec/public-terminals/internal/platform"
)

// MockAdapter is a testify mock of the platform adapter.
type MockAdapter struct {
	mock.Mock
}

func (m *MockAdapter) Provision(ctx context.Context, spec platform.Spec) (platform.Handle, error) {
	args := m.Called(ctx, spec)
	return args.Get(0).(platform.Handle), args.Error(1)
}

func (m *MockAdapter) Terminate(ctx context.Context, handle platform.Handle) error {
	args := m.Called(ctx, handle)
	return args.Error(0)
}

func (m *MockAdapter) Describe(ctx context.Context, handle platform.Handle) (platform.RuntimeStatus, error) {
	args := m.Called(ctx, handle)
	return args.Get(0).(platform.RuntimeStatus), args.Error(1)
}

func (m *MockAdapter) Backend() string {
	args := m.Called()
	return args.String(0)
}
