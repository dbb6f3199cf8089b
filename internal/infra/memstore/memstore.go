// Package memstore is an in-memory progress store for tests and
// throwaway daemons. Records are deep-copied in and out.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/limber-app/limber/internal/domain"
)

// Store keeps every record in process memory.
type Store struct {
	mu       sync.RWMutex
	progress map[string]domain.UserProgress
	history  map[string][]domain.ActivityRecord
	events   map[string][]domain.EventRecord

	// FailWith, when set, is returned by every call. Used to simulate outages.
	FailWith error
}

// New creates an empty store.
func New() *Store {
	return &Store{
		progress: make(map[string]domain.UserProgress),
		history:  make(map[string][]domain.ActivityRecord),
		events:   make(map[string][]domain.EventRecord),
	}
}

func (s *Store) fail() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.FailWith
}

// SetFailure makes every subsequent call return err (nil to recover).
func (s *Store) SetFailure(err error) {
	s.mu.Lock()
	s.FailWith = err
	s.mu.Unlock()
}

// Load implements domain.ProgressStore.
func (s *Store) Load(_ context.Context, userID string) (domain.UserProgress, error) {
	if err := s.fail(); err != nil {
		return domain.UserProgress{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.progress[userID]
	if !ok {
		return domain.NewUserProgress(userID), nil
	}
	out := p.Clone()
	out.EnsureMaps()
	return out, nil
}

// Save implements domain.ProgressStore.
func (s *Store) Save(_ context.Context, p *domain.UserProgress) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.progress[p.UserID]
	switch {
	case !ok && p.Version != 0:
		return domain.ErrVersionConflict
	case ok && current.Version != p.Version:
		return domain.ErrVersionConflict
	}

	next := p.Clone()
	next.Version = p.Version + 1
	next.UpdatedAt = time.Now().UTC()
	s.progress[p.UserID] = next

	p.Version = next.Version
	p.UpdatedAt = next.UpdatedAt
	return nil
}

// LoadActivityHistory implements domain.ProgressStore.
func (s *Store) LoadActivityHistory(_ context.Context, userID string) ([]domain.ActivityRecord, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := slices.Clone(s.history[userID])
	sort.SliceStable(out, func(i, j int) bool { return out[i].Date.Before(out[j].Date) })
	return out, nil
}

// AppendActivity implements domain.ProgressStore.
func (s *Store) AppendActivity(_ context.Context, userID string, rec domain.ActivityRecord) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.history[userID] = append(s.history[userID], rec)
	return nil
}

// ListUsers implements domain.ProgressStore.
func (s *Store) ListUsers(_ context.Context) ([]string, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	users := make([]string, 0, len(s.progress))
	for id := range s.progress {
		users = append(users, id)
	}
	sort.Strings(users)
	return users, nil
}

// AppendEvent implements domain.EventLog.
func (s *Store) AppendEvent(_ context.Context, rec domain.EventRecord) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.events[rec.UserID] {
		if existing.ID == rec.ID {
			return nil
		}
	}
	s.events[rec.UserID] = append(s.events[rec.UserID], rec)
	return nil
}

// ListEvents implements domain.EventLog.
func (s *Store) ListEvents(_ context.Context, userID string, limit int) ([]domain.EventRecord, error) {
	if err := s.fail(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 50
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	src := s.events[userID]
	out := make([]domain.EventRecord, 0, min(limit, len(src)))
	for i := len(src) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, src[i])
	}
	return out, nil
}

// Ping implements domain.ProgressStore.
func (s *Store) Ping(context.Context) error { return s.fail() }

// Close implements domain.ProgressStore.
func (s *Store) Close() error { return nil }
