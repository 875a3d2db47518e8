package mocks

import (
	"context"
	"encoding/json"

	"github.com/stretchr/testify/mock"
)

// MockResultCache is a mock implementation of callback.ResultCache
type MockResultCache struct {
	mock.Mock
}

func (m *MockResultCache) Get(ctx context.Context, externalTransactionID string) (json.RawMessage, bool, error) {
	args := m.Called(ctx, externalTransactionID)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).(json.RawMessage), args.Bool(1), args.Error(2)
}

func (m *MockResultCache) Put(ctx context.Context, externalTransactionID string, result json.RawMessage) error {
	args := m.Called(ctx, externalTransactionID, result)
	return args.Error(0)
}
