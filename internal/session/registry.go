package session

import (
	"fmt"
	"sort"
	"sync"
	"time"
)

// Info is a point-in-time view of a registered session.
type Info struct {
	ID         string    `json:"id"`
	State      string    `json:"state"`
	Generating bool      `json:"generating"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Registry tracks live sessions by ID. Every session is added once when its
// channel opens and removed once when it closes.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

func (r *Registry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[s.ID]; exists {
		return fmt.Errorf("session %s already registered", s.ID)
	}
	r.sessions[s.ID] = s
	return nil
}

// Remove reports whether the session was still registered.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.sessions[id]; !exists {
		return false
	}
	delete(r.sessions, id)
	return true
}

func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Snapshot lists sessions oldest first.
func (r *Registry) Snapshot() []Info {
	list := r.list()
	out := make([]Info, 0, len(list))
	for _, s := range list {
		out = append(out, Info{
			ID:         s.ID,
			State:      s.State().String(),
			Generating: s.Generating(),
			CreatedAt:  s.CreatedAt,
		})
	}
	return out
}

func (r *Registry) list() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}
