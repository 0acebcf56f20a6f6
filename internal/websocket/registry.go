package websocket

import (
	"sync"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/events"
)

// Registry tracks which clients follow which topics. Publishing walks it
// under the read lock; membership changes take the write lock.
type Registry struct {
	mu      sync.RWMutex
	topics  map[string]map[*Client]struct{}
	clients map[*Client]map[string]events.Topic
	subs    int
}

func NewRegistry() *Registry {
	return &Registry{
		topics:  make(map[string]map[*Client]struct{}),
		clients: make(map[*Client]map[string]events.Topic),
	}
}

// Add registers a client with no subscriptions.
func (r *Registry) Add(c *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c]; !ok {
		r.clients[c] = make(map[string]events.Topic)
	}
}

// Subscribe adds c to topic. added is false when it was already subscribed;
// ok is false when c is not registered.
func (r *Registry) Subscribe(c *Client, t events.Topic) (added, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.clients[c]
	if !ok {
		return false, false
	}
	key := t.Key()
	if _, dup := held[key]; dup {
		return false, true
	}
	held[key] = t
	members := r.topics[key]
	if members == nil {
		members = make(map[*Client]struct{})
		r.topics[key] = members
	}
	members[c] = struct{}{}
	r.subs++
	return true, true
}

// Unsubscribe removes c from topic and reports whether it was subscribed.
func (r *Registry) Unsubscribe(c *Client, t events.Topic) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.clients[c]
	if !ok {
		return false
	}
	key := t.Key()
	if _, ok := held[key]; !ok {
		return false
	}
	delete(held, key)
	r.dropMember(key, c)
	return true
}

// Remove unregisters c and every subscription it held in one step.
func (r *Registry) Remove(c *Client) []events.Topic {
	r.mu.Lock()
	defer r.mu.Unlock()
	held, ok := r.clients[c]
	if !ok {
		return nil
	}
	out := make([]events.Topic, 0, len(held))
	for key, t := range held {
		r.dropMember(key, c)
		out = append(out, t)
	}
	delete(r.clients, c)
	return out
}

func (r *Registry) dropMember(key string, c *Client) {
	members := r.topics[key]
	delete(members, c)
	if len(members) == 0 {
		delete(r.topics, key)
	}
	r.subs--
}

// ForEach calls fn for every subscriber of topic while holding the read
// lock, so a completed Unsubscribe is never raced by a later publish. fn must
// not block or call back into the registry.
func (r *Registry) ForEach(t events.Topic, fn func(*Client)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for c := range r.topics[t.Key()] {
		fn(c)
	}
}

// Topics lists the subscriptions of c.
func (r *Registry) Topics(c *Client) []events.Topic {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]events.Topic, 0, len(r.clients[c]))
	for _, t := range r.clients[c] {
		out = append(out, t)
	}
	return out
}

// Counts returns the number of registered clients and subscriptions.
func (r *Registry) Counts() (clients, subscriptions int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients), r.subs
}
