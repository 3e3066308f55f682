package session_test

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/dmitrymomot/modserve/pkg/session"
)

// MockStore is a mock implementation of session.Store.
type MockStore struct {
	mock.Mock
}

func (m *MockStore) Load(ctx context.Context, id string) (*session.Record, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*session.Record), args.Error(1)
}

func (m *MockStore) Save(ctx context.Context, id string, rec *session.Record) error {
	args := m.Called(ctx, id, rec)
	return args.Error(0)
}

func (m *MockStore) Delete(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockStore) Cleanup(ctx context.Context) (int, error) {
	args := m.Called(ctx)
	return args.Int(0), args.Error(1)
}
