package ipfs

import (
	"context"
	"sync"

	"assetsnap/contexts/asset-payouts/snapshot-service/ports"
)

// MemoryStore keeps uploaded documents in process, addressed by
// LocalContentKey. Its content hashes do not match those of a real IPFS node.
type MemoryStore struct {
	mu        sync.RWMutex
	documents map[string][]byte
	uploadErr error
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		documents: make(map[string][]byte),
	}
}

func (s *MemoryStore) Upload(ctx context.Context, _ string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.uploadErr != nil {
		return "", s.uploadErr
	}
	cid := LocalContentKey(data)
	s.documents[cid] = append([]byte(nil), data...)
	return cid, nil
}

func (s *MemoryStore) Get(cid string) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, ok := s.documents[cid]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), data...), true
}

// FailUploads makes every following upload fail with err; nil restores it.
func (s *MemoryStore) FailUploads(err error) {
	s.mu.Lock()
	s.uploadErr = err
	s.mu.Unlock()
}

var _ ports.ContentStore = (*MemoryStore)(nil)
