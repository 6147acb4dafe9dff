// Package store provides a small namespaced string key-value store persisted
// as a single JSON document, in the spirit of the preferences partition found
// on microcontrollers.
package store

import (
	"fmt"
	"sync"

	"github.com/benmeehan/ble-node/pkg/file"
)

// Reader is the read-only view used at boot.
type Reader interface {
	GetString(namespace, key string) (string, bool, error)
}

// Store is the full read/write API used by provisioning.
type Store interface {
	Reader
	PutString(namespace, key, value string) error
	Clear(namespace string) error
}

// FileStore keeps all namespaces in one JSON file.
type FileStore struct {
	path    string
	fileOps file.FileOperations
	mu      sync.Mutex
}

// NewFileStore creates a store backed by the file at path. The file is created on first write.
func NewFileStore(path string, fileOps file.FileOperations) *FileStore {
	return &FileStore{path: path, fileOps: fileOps}
}

// GetString returns the value for key in namespace. A missing file, namespace
// or key is reported as found == false without an error.
func (s *FileStore) GetString(namespace, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return "", false, err
	}
	value, ok := data[namespace][key]
	return value, ok, nil
}

// PutString sets key in namespace.
func (s *FileStore) PutString(namespace, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	if data[namespace] == nil {
		data[namespace] = make(map[string]string)
	}
	data[namespace][key] = value
	return s.fileOps.WriteJsonFile(s.path, data)
}

// Clear removes every key of namespace.
func (s *FileStore) Clear(namespace string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := s.load()
	if err != nil {
		return err
	}
	delete(data, namespace)
	return s.fileOps.WriteJsonFile(s.path, data)
}

func (s *FileStore) load() (map[string]map[string]string, error) {
	data := make(map[string]map[string]string)

	exists, err := s.fileOps.IsFileExists(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat store %s: %w", s.path, err)
	}
	if !exists {
		return data, nil
	}
	if err := s.fileOps.ReadJsonFile(s.path, &data); err != nil {
		return nil, fmt.Errorf("failed to read store %s: %w", s.path, err)
	}
	if data == nil {
		data = make(map[string]map[string]string)
	}
	return data, nil
}
