package storagemock

import (
	"context"

	"github.com/stretchr/testify/mock"
	"github.com/windyield/windyield/pkg/storage"
	"github.com/windyield/windyield/pkg/types"
)

type MockRegistry struct {
	mock.Mock
}

var _ storage.Registry = (*MockRegistry)(nil)

func (m *MockRegistry) PutUpload(ctx context.Context, file types.UploadedFile) error {
	args := m.Called(ctx, file)
	return args.Error(0)
}

func (m *MockRegistry) GetUpload(ctx context.Context, id string) (types.UploadedFile, error) {
	args := m.Called(ctx, id)
	return args.Get(0).(types.UploadedFile), args.Error(1)
}

func (m *MockRegistry) DeleteUpload(ctx context.Context, id string) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockRegistry) ListUploads(ctx context.Context) ([]types.UploadedFile, error) {
	args := m.Called(ctx)
	if files, ok := args.Get(0).([]types.UploadedFile); ok {
		return files, args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *MockRegistry) Close() error {
	args := m.Called()
	return args.Error(0)
}
