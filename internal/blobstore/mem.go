package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"
)

var _ Store = (*MemStore)(nil)
var _ Opener = (*MemStore)(nil)

type memObject struct {
	data        []byte
	contentType string
}

// MemStore keeps objects in memory. PutErr and DeleteErr, when set, are returned instead of touching the store.
type MemStore struct {
	mutex         sync.Mutex
	objects       map[string]memObject
	publicBaseURL string

	PutErr    error
	DeleteErr error
}

func NewMemStore(publicBaseURL string) *MemStore {
	return &MemStore{
		objects:       map[string]memObject{},
		publicBaseURL: publicBaseURL,
	}
}

func (s *MemStore) Put(_ context.Context, objectPath string, r io.Reader, opts PutOptions) (string, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return "", err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.PutErr != nil {
		return "", s.PutErr
	}
	if _, exists := s.objects[cleaned]; exists && opts.NoOverwrite {
		return "", ErrExists
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return "", err
	}
	s.objects[cleaned] = memObject{data: data, contentType: opts.ContentType}
	return cleaned, nil
}

func (s *MemStore) PublicURL(objectPath string) string {
	return publicURL(s.publicBaseURL, objectPath)
}

func (s *MemStore) Delete(_ context.Context, objectPath string) error {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.DeleteErr != nil {
		return s.DeleteErr
	}
	if _, exists := s.objects[cleaned]; !exists {
		return ErrNotFound
	}
	delete(s.objects, cleaned)
	return nil
}

func (s *MemStore) Open(_ context.Context, objectPath string) (io.ReadCloser, error) {
	cleaned, err := CleanPath(objectPath)
	if err != nil {
		return nil, err
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	obj, exists := s.objects[cleaned]
	if !exists {
		return nil, ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (s *MemStore) SetErrors(putErr, deleteErr error) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.PutErr = putErr
	s.DeleteErr = deleteErr
}

// Paths lists stored object paths in sorted order.
func (s *MemStore) Paths() []string {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	paths := make([]string, 0, len(s.objects))
	for p := range s.objects {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths
}
