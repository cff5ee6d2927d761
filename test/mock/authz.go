// test/mock/authz.go
package mock

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/hdgokani/atlan-metastore-sub001/model"
	"github.com/hdgokani/atlan-metastore-sub001/search"
)

// MockAdminClient is a mock implementation of refresher.AdminClient
type MockAdminClient struct {
	mock.Mock
}

func (m *MockAdminClient) FetchPoliciesIfUpdated(ctx context.Context, sinceMillis int64) (*model.PolicySnapshot, error) {
	args := m.Called(ctx, sinceMillis)
	if snapshot, ok := args.Get(0).(*model.PolicySnapshot); ok {
		return snapshot, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdminClient) FetchRolesIfUpdated(ctx context.Context, sinceMillis int64) (*model.Roles, error) {
	args := m.Called(ctx, sinceMillis)
	if roles, ok := args.Get(0).(*model.Roles); ok {
		return roles, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockAdminClient) FetchUserStoreIfUpdated(ctx context.Context, sinceMillis int64) (*model.UserStore, error) {
	args := m.Called(ctx, sinceMillis)
	if userStore, ok := args.Get(0).(*model.UserStore); ok {
		return userStore, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockSearchExecutor is a mock implementation of search.Executor
type MockSearchExecutor struct {
	mock.Mock
}

func (m *MockSearchExecutor) Execute(ctx context.Context, query map[string]interface{}) (*search.Result, error) {
	args := m.Called(ctx, query)
	if result, ok := args.Get(0).(*search.Result); ok {
		return result, args.Error(1)
	}
	return nil, args.Error(1)
}

// MockVertexStore is a mock implementation of db.VertexStore
type MockVertexStore struct {
	mock.Mock
}

func (m *MockVertexStore) GetVertexProperty(ctx context.Context, entityID, attributeName string) ([]string, error) {
	args := m.Called(ctx, entityID, attributeName)
	if values, ok := args.Get(0).([]string); ok {
		return values, args.Error(1)
	}
	return nil, args.Error(1)
}
