package channel

import (
	"sync"
	"sync/atomic"

	"github.com/bytedance/gg/gmap"
)

var (
	defaultRegistry = NewRegistry()

	ForAddress = defaultRegistry.ForAddress
	ForGroup   = defaultRegistry.ForGroup
	Len        = defaultRegistry.Len
	List       = defaultRegistry.List
	Register   = defaultRegistry.Register
	Unregister = defaultRegistry.Unregister
)

type Registry struct {
	chans map[string]Channel

	cnt atomic.Int64
	mu  sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		chans: make(map[string]Channel, 4),
	}
}

func (r *Registry) Register(ch Channel) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.chans[ch.ID()] = ch
	r.cnt.Add(1)
	return nil
}

// ForAddress returns the first channel claiming the address.
func (r *Registry) ForAddress(address string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.chans {
		if ch.HandlesAddress(address) {
			return ch, nil
		}
	}
	return nil, ErrNoChannelForAddress
}

// ForGroup returns the first channel claiming the group folder.
func (r *Registry) ForGroup(folder string) (Channel, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, ch := range r.chans {
		if ch.HandlesGroup(folder) {
			return ch, nil
		}
	}
	return nil, ErrNoChannelForAddress
}

func (r *Registry) List() []Channel {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return gmap.ToSlice(
		r.chans,
		func(k string, v Channel) Channel { return v },
	)
}

func (r *Registry) Len() int {
	return int(r.cnt.Load())
}

func (r *Registry) Unregister(id string) {
	if id == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.chans[id]; ok {
		delete(r.chans, id)
		r.cnt.Add(-1)
	}
}
