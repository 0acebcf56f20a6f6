package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

// MemoryNodeStore is the sensor node registry.
type MemoryNodeStore struct {
	mu    sync.RWMutex
	nodes map[string]*data.SensorNodeState
}

func NewMemoryNodeStore() *MemoryNodeStore {
	return &MemoryNodeStore{nodes: make(map[string]*data.SensorNodeState)}
}

func (s *MemoryNodeStore) Create(_ context.Context, n *data.SensorNodeState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[n.NodeID]; ok {
		return fmt.Errorf("%w: node %s", data.ErrConflict, n.NodeID)
	}
	s.nodes[n.NodeID] = n.Clone()
	return nil
}

func (s *MemoryNodeStore) Get(_ context.Context, nodeID string) (*data.SensorNodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", data.ErrNotFound, nodeID)
	}
	return n.Clone(), nil
}

// List returns the owner's nodes ordered by node id.
func (s *MemoryNodeStore) List(_ context.Context, owner string) ([]*data.SensorNodeState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*data.SensorNodeState, 0)
	for _, n := range s.nodes {
		if n.Owner == owner {
			out = append(out, n.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out, nil
}

// Update applies fn to the stored node under the store lock. The node is
// left untouched when fn fails.
func (s *MemoryNodeStore) Update(_ context.Context, nodeID string, fn func(*data.SensorNodeState) error) (*data.SensorNodeState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return nil, fmt.Errorf("%w: node %s", data.ErrNotFound, nodeID)
	}
	next := n.Clone()
	if err := fn(next); err != nil {
		return nil, err
	}
	s.nodes[nodeID] = next
	return next.Clone(), nil
}

func (s *MemoryNodeStore) Delete(_ context.Context, nodeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[nodeID]; !ok {
		return fmt.Errorf("%w: node %s", data.ErrNotFound, nodeID)
	}
	delete(s.nodes, nodeID)
	return nil
}

// NodeOwner reports who owns nodeID.
func (s *MemoryNodeStore) NodeOwner(nodeID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[nodeID]
	if !ok {
		return "", false
	}
	return n.Owner, true
}
