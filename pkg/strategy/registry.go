package strategy

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Registry maps source names to strategies. Names are case-insensitive.
type Registry struct {
	strategies map[string]Strategy
	mutex      sync.RWMutex
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{strategies: make(map[string]Strategy)}
}

// DefaultRegistry returns a registry holding the built-in sources:
// shopify, woocommerce, square and weather.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	for _, s := range []Strategy{
		NewShopifyStrategy(),
		NewWooCommerceStrategy(),
		NewSquareStrategy(),
		NewWeatherStrategy(),
	} {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
	return r
}

// Register adds a strategy under its Name.
func (r *Registry) Register(s Strategy) error {
	if s == nil {
		return fmt.Errorf("strategy cannot be nil")
	}
	name := normalizeName(s.Name())
	if name == "" {
		return fmt.Errorf("strategy name cannot be empty")
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.strategies[name]; exists {
		return fmt.Errorf("strategy %s already registered", name)
	}
	r.strategies[name] = s
	return nil
}

// Get returns the strategy for a source name.
func (r *Registry) Get(name string) (Strategy, error) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	s, ok := r.strategies[normalizeName(name)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, name)
	}
	return s, nil
}

// Names lists the registered sources, sorted.
func (r *Registry) Names() []string {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	names := make([]string, 0, len(r.strategies))
	for name := range r.strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
