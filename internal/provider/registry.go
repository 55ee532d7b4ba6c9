package provider

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/bytedance/gg/gmap"
)

// Registry maps conversation groups to provider backends. A group resolves
// to its explicit override when one exists, else to the process-wide
// default. Every mutation is persisted synchronously so a crash never loses
// a provider switch.
type Registry struct {
	path string

	mu        sync.RWMutex
	providers map[string]Provider
	overrides map[string]string // group folder -> provider name
	def       string
}

type registryState struct {
	Default   string            `json:"default"`
	Overrides map[string]string `json:"overrides"`
}

// NewRegistry creates a registry persisted at path. defaultName seeds the
// global default when no persisted state exists yet.
func NewRegistry(path string, defaultName string) *Registry {
	return &Registry{
		path:      path,
		providers: make(map[string]Provider),
		overrides: make(map[string]string),
		def:       defaultName,
	}
}

func (r *Registry) Register(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

// Load restores the persisted default and overrides. Missing file is fine.
func (r *Registry) Load() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	data, err := os.ReadFile(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read provider state: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var state registryState
	if err := sonic.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal provider state: %w", err)
	}
	if state.Default != "" {
		r.def = state.Default
	}
	if state.Overrides != nil {
		r.overrides = state.Overrides
	}
	return nil
}

// Resolve returns the provider for the group. Unknown provider names are an
// error, never a silent fallback.
func (r *Registry) Resolve(groupFolder string) (Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	name := r.def
	if o, ok := r.overrides[groupFolder]; ok {
		name = o
	}
	p, ok := r.providers[name]
	if !ok {
		return nil, fmt.Errorf("provider %q is not registered", name)
	}
	return p, nil
}

func (r *Registry) SetOverride(groupFolder, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q is not registered", name)
	}
	r.overrides[groupFolder] = name
	return r.saveLocked()
}

func (r *Registry) ClearOverride(groupFolder string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.overrides, groupFolder)
	return r.saveLocked()
}

func (r *Registry) SetDefault(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.providers[name]; !ok {
		return fmt.Errorf("provider %q is not registered", name)
	}
	r.def = name
	return r.saveLocked()
}

func (r *Registry) Default() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.def
}

func (r *Registry) List() []Provider {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return gmap.ToSlice(r.providers, func(k string, v Provider) Provider { return v })
}

func (r *Registry) saveLocked() error {
	data, err := sonic.Marshal(registryState{
		Default:   r.def,
		Overrides: r.overrides,
	})
	if err != nil {
		return fmt.Errorf("marshal provider state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(r.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write provider state: %w", err)
	}
	if err := os.Rename(tmp, r.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename provider state: %w", err)
	}
	return nil
}
