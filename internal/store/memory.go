package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rotisserie/eris"

	"github.com/examprep/examprep-cli/internal/model"
)

// MemoryStore keeps encoded checkpoints in process memory. Used by tests and
// by the "memory" driver.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string][]byte
	now  func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string][]byte), now: time.Now}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) Initialize(_ context.Context, subject string, totalUnits int) (string, error) {
	if err := validateTotal(totalUnits); err != nil {
		return "", err
	}
	now := s.now().UTC()
	id := NewCheckpointID(subject, now)
	data, err := encodeState(model.NewCheckpointState(id, subject, totalUnits, now))
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[id] = data
	return id, nil
}

func (s *MemoryStore) RecordUnit(_ context.Context, id string, unit int, analysis model.UnitAnalysis) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	raw, ok := s.data[id]
	if !ok {
		return eris.Wrapf(ErrNotFound, "memory: record unit %d in %s", unit, id)
	}
	st, err := decodeState(raw)
	if err != nil {
		return err
	}
	if err := st.Record(unit, analysis, s.now().UTC()); err != nil {
		return err
	}
	data, err := encodeState(st)
	if err != nil {
		return err
	}
	s.data[id] = data
	return nil
}

func (s *MemoryStore) Load(_ context.Context, id string) (*model.CheckpointState, error) {
	s.mu.Lock()
	raw, ok := s.data[id]
	s.mu.Unlock()
	if !ok {
		return nil, nil
	}
	return decodeState(raw)
}

func (s *MemoryStore) Discard(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, id)
	return nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]model.CheckpointSummary, error) {
	s.mu.Lock()
	out := make([]model.CheckpointSummary, 0, len(s.data))
	for _, raw := range s.data {
		st, err := decodeState(raw)
		if err != nil {
			s.mu.Unlock()
			return nil, err
		}
		out = append(out, st.Summary())
	}
	s.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	if limit = clampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
