package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

// MemoryAlertStore holds alerts in memory and hands out deep copies.
type MemoryAlertStore struct {
	mu     sync.RWMutex
	alerts map[string]*data.Alert
}

func NewMemoryAlertStore() *MemoryAlertStore {
	return &MemoryAlertStore{alerts: make(map[string]*data.Alert)}
}

func (s *MemoryAlertStore) Insert(_ context.Context, a *data.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[a.ID]; ok {
		return fmt.Errorf("%w: alert %s", data.ErrConflict, a.ID)
	}
	s.alerts[a.ID] = a.Clone()
	return nil
}

func (s *MemoryAlertStore) Get(_ context.Context, id string) (*data.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", data.ErrNotFound, id)
	}
	return a.Clone(), nil
}

// Update applies fn to the stored alert under the store lock, so fn always
// sees the latest version. The alert is left untouched when fn fails.
func (s *MemoryAlertStore) Update(_ context.Context, id string, fn func(*data.Alert) error) (*data.Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: alert %s", data.ErrNotFound, id)
	}
	next := a.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.alerts[id] = next
	return next.Clone(), nil
}

// List returns one page of matching alerts, newest first, and the total
// number of matches.
func (s *MemoryAlertStore) List(_ context.Context, f data.AlertFilter) ([]*data.Alert, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	matched := make([]*data.Alert, 0)
	for _, a := range s.alerts {
		if f.Match(a) {
			matched = append(matched, a)
		}
	}

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID > matched[j].ID
	})

	total := len(matched)
	start := f.Offset
	if start > total {
		start = total
	}
	end := total
	if f.Limit > 0 && start+f.Limit < total {
		end = start + f.Limit
	}
	page := make([]*data.Alert, 0, end-start)
	for _, a := range matched[start:end] {
		page = append(page, a.Clone())
	}
	return page, total, nil
}

// CountUnread counts the owner's unread alerts.
func (s *MemoryAlertStore) CountUnread(_ context.Context, owner string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, a := range s.alerts {
		if a.Owner == owner && !a.IsRead {
			n++
		}
	}
	return n, nil
}

// MarkAllRead flags every unread alert of owner as read and returns how
// many changed.
func (s *MemoryAlertStore) MarkAllRead(_ context.Context, owner string, at time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, a := range s.alerts {
		if a.Owner == owner && !a.IsRead {
			a.IsRead = true
			a.UpdatedAt = at
			n++
		}
	}
	return n, nil
}

// DeleteExpired removes terminal alerts whose expiry is at or before now.
func (s *MemoryAlertStore) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.alerts {
		if a.Status.Terminal() && a.ExpiresAt != nil && !a.ExpiresAt.After(now) {
			delete(s.alerts, id)
			n++
		}
	}
	return n, nil
}

// DeleteByNode removes every alert raised for nodeID.
func (s *MemoryAlertStore) DeleteByNode(_ context.Context, nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, a := range s.alerts {
		if a.NodeID == nodeID {
			delete(s.alerts, id)
			n++
		}
	}
	return n, nil
}
