package engine

import (
	"sort"
	"sync"
)

// ConstructorRegistry maps constructor keys to strategy constructors.
// Strategy packages populate it explicitly during program wiring.
type ConstructorRegistry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewConstructorRegistry creates an empty registry.
func NewConstructorRegistry() *ConstructorRegistry {
	return &ConstructorRegistry{
		constructors: make(map[string]Constructor),
	}
}

// Register adds a constructor under key.
func (r *ConstructorRegistry) Register(key string, fn Constructor) error {
	if key == "" || fn == nil {
		return NewPermanentError("constructor key and function are required", nil).
			WithCode(ErrCodeValidation)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.constructors[key]; exists {
		return NewPermanentError("constructor already registered", nil).
			WithCode(ErrCodeAlreadyExists).
			ForStrategy(key)
	}
	r.constructors[key] = fn
	return nil
}

// MustRegister is Register that panics on error. Use it only from static wiring.
func (r *ConstructorRegistry) MustRegister(key string, fn Constructor) {
	if err := r.Register(key, fn); err != nil {
		panic(err)
	}
}

// Get returns the constructor registered under key.
func (r *ConstructorRegistry) Get(key string) (Constructor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.constructors[key]
	return fn, ok
}

// Keys returns the registered keys, sorted.
func (r *ConstructorRegistry) Keys() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	keys := make([]string, 0, len(r.constructors))
	for k := range r.constructors {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
