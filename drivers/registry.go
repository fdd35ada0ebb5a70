// Package drivers keeps track of the filesystem drivers a host can mount
// volumes with.
package drivers

import (
	"fmt"
	"slices"
	"sync"

	"github.com/brettbedarf/bootvfs"
	"github.com/brettbedarf/bootvfs/filesystem"
	"github.com/brettbedarf/bootvfs/internal/util"
)

// Provider builds driver instances. raw is driver specific configuration,
// such as the manifest of a fixture volume, and may be empty.
type Provider interface {
	NewDriver(raw []byte) (filesystem.Driver, error)
}

// ProviderFunc adapts a function to Provider.
type ProviderFunc func(raw []byte) (filesystem.Driver, error)

func (f ProviderFunc) NewDriver(raw []byte) (filesystem.Driver, error) { return f(raw) }

// Registry maps driver names to providers. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: map[string]Provider{}}
}

// Default is the registry drivers register themselves with on init.
var Default = NewRegistry()

// Register adds a provider under name. The first registration of a name
// wins; later ones are ignored.
func (r *Registry) Register(name string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; ok {
		logger := util.GetLogger("Registry")
		logger.Warn().Str("driver", name).Msg("Driver already registered, keeping the first")
		return
	}
	r.providers[name] = p
}

// GetProvider returns the provider registered under name.
func (r *Registry) GetProvider(name string) (Provider, error) {
	r.mu.RLock()
	p, ok := r.providers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("driver %q: %w", name, bootvfs.ErrNotFound)
	}
	return p, nil
}

// NewDriver builds a driver of the named type from raw.
func (r *Registry) NewDriver(name string, raw []byte) (filesystem.Driver, error) {
	p, err := r.GetProvider(name)
	if err != nil {
		return nil, err
	}
	return p.NewDriver(raw)
}

// Names returns the registered driver names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Register adds a provider to the Default registry.
func Register(name string, p Provider) { Default.Register(name, p) }
