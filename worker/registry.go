package worker

import (
	iface "PersonDetServer/interface"
	"PersonDetServer/logger"
	"PersonDetServer/monitor"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

type Engine struct {
	ID          string
	Description string
	Backend     iface.Backend
	Created     time.Time
}

// Registry holds the engines transports can address by id. One of them may
// be marked as the default for requests that name none.
type Registry struct {
	mu        sync.RWMutex
	engines   map[string]*Engine
	defaultID string

	// OnRemove, if set, runs before an engine's backend is destroyed.
	OnRemove func(e *Engine)
}

func NewRegistry() *Registry {
	return &Registry{engines: map[string]*Engine{}}
}

func (r *Registry) Add(backend iface.Backend, description string) string {
	id := uuid.New().String()
	r.mu.Lock()
	r.engines[id] = &Engine{
		ID:          id,
		Description: description,
		Backend:     backend,
		Created:     time.Now(),
	}
	n := len(r.engines)
	r.mu.Unlock()
	monitor.SetEngines(n)
	logger.Log().Info("engine added", zap.String("ID", id), zap.String("description", description))
	return id
}

func (r *Registry) SetDefault(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.engines[id]; !ok {
		return false
	}
	r.defaultID = id
	return true
}

func (r *Registry) Default() (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[r.defaultID]
	return e, ok
}

func (r *Registry) Get(id string) (*Engine, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.engines[id]
	return e, ok
}

// Remove destroys the engine's backend. Removing the default clears it.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	e, ok := r.engines[id]
	if ok {
		delete(r.engines, id)
		if r.defaultID == id {
			r.defaultID = ""
		}
	}
	n := len(r.engines)
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.destroy(e)
	monitor.SetEngines(n)
	logger.Log().Info("engine destroyed", zap.String("ID", id))
	return true
}

// All returns engines oldest first.
func (r *Registry) All() []*Engine {
	r.mu.RLock()
	all := make([]*Engine, 0, len(r.engines))
	for _, e := range r.engines {
		all = append(all, e)
	}
	r.mu.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		if all[i].Created.Equal(all[j].Created) {
			return all[i].ID < all[j].ID
		}
		return all[i].Created.Before(all[j].Created)
	})
	return all
}

func (r *Registry) DestroyAll() {
	r.mu.Lock()
	engines := r.engines
	r.engines = map[string]*Engine{}
	r.defaultID = ""
	r.mu.Unlock()
	for _, e := range engines {
		r.destroy(e)
	}
	monitor.SetEngines(0)
}

func (r *Registry) destroy(e *Engine) {
	if r.OnRemove != nil {
		r.OnRemove(e)
	}
	e.Backend.Destroy()
}
