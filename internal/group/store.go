package group

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Store owns the durable group registry and session map. It is the single
// writer; every mutation is written through to disk before returning.
type Store interface {
	Load() error

	Register(g Group) (Group, error)
	Get(folder string) (Group, bool)
	FindByAddress(address string) (Group, bool)
	EnsureForAddress(address, name string) (Group, bool, error)
	List() []Group

	Session(folder, providerName string) (Session, bool)
	PutSession(folder, providerName, sessionID string) error
	ResetSession(folder, providerName string) error
}

type fileStore struct {
	path string

	mu       sync.RWMutex
	groups   map[string]Group              // keyed by folder
	byAddr   map[string]string             // address -> folder
	sessions map[string]map[string]Session // folder -> provider -> session
}

type storeState struct {
	Groups   map[string]Group              `json:"groups"`
	Sessions map[string]map[string]Session `json:"sessions"`
}

func NewFileStore(path string) Store {
	return &fileStore{
		path:     path,
		groups:   make(map[string]Group),
		byAddr:   make(map[string]string),
		sessions: make(map[string]map[string]Session),
	}
}

func (s *fileStore) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read group state: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var state storeState
	if err := sonic.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal group state: %w", err)
	}

	s.groups = make(map[string]Group, len(state.Groups))
	s.byAddr = make(map[string]string, len(state.Groups))
	for folder, g := range state.Groups {
		s.groups[folder] = g
		s.byAddr[g.Address] = folder
	}
	s.sessions = state.Sessions
	if s.sessions == nil {
		s.sessions = make(map[string]map[string]Session)
	}
	return nil
}

func (s *fileStore) Register(g Group) (Group, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if g.Folder == "" {
		return Group{}, fmt.Errorf("group folder is required")
	}
	if _, exists := s.groups[g.Folder]; exists {
		return Group{}, fmt.Errorf("group already exists: %s", g.Folder)
	}
	if g.CreatedAt.IsZero() {
		g.CreatedAt = time.Now()
	}

	s.groups[g.Folder] = g
	if g.Address != "" {
		s.byAddr[g.Address] = g.Folder
	}
	if err := s.saveLocked(); err != nil {
		delete(s.groups, g.Folder)
		delete(s.byAddr, g.Address)
		return Group{}, err
	}
	return g, nil
}

func (s *fileStore) Get(folder string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.groups[folder]
	return g, ok
}

func (s *fileStore) FindByAddress(address string) (Group, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	folder, ok := s.byAddr[address]
	if !ok {
		return Group{}, false
	}
	g, ok := s.groups[folder]
	return g, ok
}

// EnsureForAddress returns the group owning the address, creating one on
// first contact. The derived folder is suffixed until unique.
func (s *fileStore) EnsureForAddress(address, name string) (Group, bool, error) {
	if g, ok := s.FindByAddress(address); ok {
		return g, false, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if folder, ok := s.byAddr[address]; ok {
		return s.groups[folder], false, nil
	}

	base := FolderFromAddress(address)
	folder := base
	for i := 2; ; i++ {
		if _, taken := s.groups[folder]; !taken {
			break
		}
		folder = fmt.Sprintf("%s-%d", base, i)
	}

	g := Group{
		Folder:    folder,
		Name:      name,
		Address:   address,
		CreatedAt: time.Now(),
	}
	s.groups[folder] = g
	s.byAddr[address] = folder
	if err := s.saveLocked(); err != nil {
		delete(s.groups, folder)
		delete(s.byAddr, address)
		return Group{}, false, err
	}
	return g, true, nil
}

func (s *fileStore) List() []Group {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Group, 0, len(s.groups))
	for _, g := range s.groups {
		out = append(out, g)
	}
	return out
}

func (s *fileStore) Session(folder, providerName string) (Session, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[folder][providerName]
	return sess, ok
}

// PutSession overwrites the live session id for the pair. Called only after
// a successful run; failed runs leave the previous id in place.
func (s *fileStore) PutSession(folder, providerName, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[folder] == nil {
		s.sessions[folder] = make(map[string]Session)
	}
	prev, had := s.sessions[folder][providerName]
	s.sessions[folder][providerName] = Session{ID: sessionID, UpdatedAt: time.Now()}
	if err := s.saveLocked(); err != nil {
		if had {
			s.sessions[folder][providerName] = prev
		} else {
			delete(s.sessions[folder], providerName)
		}
		return err
	}
	return nil
}

func (s *fileStore) ResetSession(folder, providerName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sessions[folder] == nil {
		return nil
	}
	delete(s.sessions[folder], providerName)
	return s.saveLocked()
}

func (s *fileStore) saveLocked() error {
	data, err := sonic.Marshal(storeState{
		Groups:   s.groups,
		Sessions: s.sessions,
	})
	if err != nil {
		return fmt.Errorf("marshal group state: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write group state: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename group state: %w", err)
	}
	return nil
}
