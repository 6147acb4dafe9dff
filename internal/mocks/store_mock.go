package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"
)

// MockStore is a mock implementation of the store.Store interface
type MockStore struct {
	mock.Mock
}

func (m *MockStore) GetString(namespace, key string) (string, bool, error) {
	args := m.Called(namespace, key)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockStore) PutString(namespace, key, value string) error {
	args := m.Called(namespace, key, value)
	return args.Error(0)
}

func (m *MockStore) Clear(namespace string) error {
	args := m.Called(namespace)
	return args.Error(0)
}

// MockObjectStorage is a mock implementation of the s3.ObjectStorageClient interface
type MockObjectStorage struct {
	mock.Mock
}

func (m *MockObjectStorage) Connect(endpoint, accessKeyID, secretAccessKey string, useSSL bool) error {
	args := m.Called(endpoint, accessKeyID, secretAccessKey, useSSL)
	return args.Error(0)
}

func (m *MockObjectStorage) Download(ctx context.Context, bucket, object, outputPath string) error {
	args := m.Called(ctx, bucket, object, outputPath)
	return args.Error(0)
}
