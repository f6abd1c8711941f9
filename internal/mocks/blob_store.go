package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/phrazzld/kcjob/internal/blob"
)

// TestifyMockBlobStore is a mock of blob.Store for use with testify/mock.
type TestifyMockBlobStore struct {
	mock.Mock
}

var _ blob.Store = (*TestifyMockBlobStore)(nil)

// Get is a mock implementation of blob.Store.Get
func (m *TestifyMockBlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	args := m.Called(ctx, key)
	if data, ok := args.Get(0).([]byte); ok {
		return data, args.Error(1)
	}
	return nil, args.Error(1)
}

// Put is a mock implementation of blob.Store.Put
func (m *TestifyMockBlobStore) Put(ctx context.Context, key string, data []byte) (string, error) {
	args := m.Called(ctx, key, data)
	return args.String(0), args.Error(1)
}
