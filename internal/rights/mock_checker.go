package rights

import (
	"context"

	"github.com/stretchr/testify/mock"

	"certd/internal/directory"
)

// MockChecker is a testify mock implementing Checker.
type MockChecker struct {
	mock.Mock
}

func (m *MockChecker) Check(ctx context.Context, caller Caller, target *directory.Entry, right Right) error {
	args := m.Called(ctx, caller, target, right)
	return args.Error(0)
}
