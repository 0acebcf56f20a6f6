// internal/storage/memory.go
package storage

import (
	"context"
	"sync"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

const defaultReadingsPerNode = 100 // Store last 100 readings per node

// MemoryReadingStore keeps a bounded ring buffer of readings per node.
type MemoryReadingStore struct {
	mu       sync.RWMutex
	buffers  map[string][]*data.SensorReading
	capacity int
}

func NewMemoryReadingStore(capacity int) *MemoryReadingStore {
	if capacity <= 0 {
		capacity = defaultReadingsPerNode
	}
	return &MemoryReadingStore{
		buffers:  make(map[string][]*data.SensorReading),
		capacity: capacity,
	}
}

// Add records a copy of the reading, evicting the node's oldest reading when
// the buffer is full.
func (s *MemoryReadingStore) Add(_ context.Context, r *data.SensorReading) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := s.buffers[r.NodeID]
	if len(buf) >= s.capacity {
		// Remove the oldest element
		buf = buf[1:]
	}
	s.buffers[r.NodeID] = append(buf, r.Clone())
	return nil
}

// Recent returns up to limit readings of a node, newest first. A
// non-positive limit returns the whole buffer.
func (s *MemoryReadingStore) Recent(_ context.Context, nodeID string, limit int) ([]*data.SensorReading, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	buf := s.buffers[nodeID]
	if limit <= 0 || limit > len(buf) {
		limit = len(buf)
	}
	result := make([]*data.SensorReading, 0, limit)
	for i := len(buf) - 1; i >= len(buf)-limit; i-- {
		result = append(result, buf[i].Clone())
	}
	return result, nil
}

// DeleteNode drops every reading of the node.
func (s *MemoryReadingStore) DeleteNode(_ context.Context, nodeID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.buffers[nodeID])
	delete(s.buffers, nodeID)
	return n, nil
}
