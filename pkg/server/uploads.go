package server

import (
	"sync"

	"github.com/google/uuid"

	"oaiviewer/pkg/volume"
)

// Upload is the volume and optional mask a session uploaded last
type Upload struct {
	Volume *volume.Volume
	Mask   *volume.Volume
}

// UploadStore keeps the latest upload of every session. It lives beside the
// volume cache, not in it, so visits browsed by other sessions never evict
// an upload; each session holds at most one.
type UploadStore struct {
	mu      sync.RWMutex
	uploads map[uuid.UUID]Upload
}

// NewUploadStore creates an empty store
func NewUploadStore() *UploadStore {
	return &UploadStore{uploads: make(map[uuid.UUID]Upload)}
}

// Get returns the upload of a session
func (s *UploadStore) Get(id uuid.UUID) (Upload, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	u, ok := s.uploads[id]
	return u, ok
}

// Put replaces the upload of a session, mask included
func (s *UploadStore) Put(id uuid.UUID, u Upload) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uploads[id] = u
}

// Delete forgets the upload of a session
func (s *UploadStore) Delete(id uuid.UUID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.uploads, id)
}

// Len is the number of sessions holding an upload
func (s *UploadStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.uploads)
}
