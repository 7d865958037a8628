package storage

import (
	"context"
	"sort"
	"sync"

	"github.com/windyield/windyield/pkg/types"
)

// Memory is an in-process Registry guarded by a RWMutex. Records are lost on
// restart, which the startup sweep turns into orphan cleanup.
type Memory struct {
	mu      sync.RWMutex
	uploads map[string]types.UploadedFile
}

var _ Registry = (*Memory)(nil)

// NewMemory returns an empty in-memory registry.
func NewMemory() *Memory {
	return &Memory{
		uploads: make(map[string]types.UploadedFile),
	}
}

// PutUpload stores a copy of the record.
func (m *Memory) PutUpload(ctx context.Context, file types.UploadedFile) error {
	file.Columns = append([]string(nil), file.Columns...)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.uploads[file.ID] = file
	return nil
}

// GetUpload returns the record for id.
func (m *Memory) GetUpload(ctx context.Context, id string) (types.UploadedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	file, ok := m.uploads[id]
	if !ok {
		return types.UploadedFile{}, ErrUploadNotFound
	}
	return file, nil
}

// DeleteUpload removes the record for id.
func (m *Memory) DeleteUpload(ctx context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.uploads[id]; !ok {
		return false, nil
	}
	delete(m.uploads, id)
	return true, nil
}

// ListUploads returns every record ordered by upload time.
func (m *Memory) ListUploads(ctx context.Context) ([]types.UploadedFile, error) {
	m.mu.RLock()
	files := make([]types.UploadedFile, 0, len(m.uploads))
	for _, f := range m.uploads {
		files = append(files, f)
	}
	m.mu.RUnlock()

	sort.Slice(files, func(i, j int) bool {
		if files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].ID < files[j].ID
		}
		return files[i].UploadedAt.Before(files[j].UploadedAt)
	})
	return files, nil
}

// Close is a no-op.
func (m *Memory) Close() error {
	return nil
}
