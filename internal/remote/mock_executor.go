package remote

import (
	"context"

	"github.com/stretchr/testify/mock"

	"certd/internal/directory"
)

// MockExecutor is a testify mock for Executor.
type MockExecutor struct {
	mock.Mock
}

func (m *MockExecutor) Execute(ctx context.Context, server *directory.Entry, argv []string) (CommandResult, error) {
	args := m.Called(ctx, server, argv)
	return args.Get(0).(CommandResult), args.Error(1)
}
