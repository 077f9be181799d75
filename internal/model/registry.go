package model

import (
	"sort"
	"sync"
)

// Registry stores model instances.
type Registry struct {
	models    map[string]*ModelInstance
	defaultID string
	mu        sync.RWMutex
}

// NewRegistry creates a new model registry.
func NewRegistry() *Registry {
	return &Registry{
		models: make(map[string]*ModelInstance),
	}
}

// Set adds a model instance to the registry.
func (r *Registry) Set(instance *ModelInstance) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.models[instance.ID] = instance
}

// Get returns the model instance with the given ID.
func (r *Registry) Get(id string) (*ModelInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.models[id]
	return instance, ok
}

// List returns all model instances ordered by their configured order, then ID.
func (r *Registry) List() []*ModelInstance {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instances := make([]*ModelInstance, 0, len(r.models))
	for _, instance := range r.models {
		instances = append(instances, instance)
	}

	sort.Slice(instances, func(i, j int) bool {
		if instances[i].Config.Order != instances[j].Config.Order {
			return instances[i].Config.Order < instances[j].Config.Order
		}
		return instances[i].ID < instances[j].ID
	})

	return instances
}

// Delete deletes the model instance with the given ID.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.models, id)
	if r.defaultID == id {
		r.defaultID = ""
	}
}

// SetDefault selects the model used when a request names none.
func (r *Registry) SetDefault(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.defaultID = id
}

// DefaultID returns the ID of the default model.
func (r *Registry) DefaultID() string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.defaultID
}

// Default returns the default model instance.
func (r *Registry) Default() (*ModelInstance, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	instance, ok := r.models[r.defaultID]
	return instance, ok
}

// Resolve returns the instance for id, or the default instance when id is empty.
func (r *Registry) Resolve(id string) (*ModelInstance, bool) {
	if id == "" {
		return r.Default()
	}
	return r.Get(id)
}
