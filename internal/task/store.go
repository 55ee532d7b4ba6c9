package task

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
)

// Store persists the task table and its append-only run log in one JSON
// file. Both the Scheduler and the IPC watcher mutate it; the mutex
// serializes their read-modify-write cycles so a pause cannot race a
// concurrent schedule advance into a lost update.
type Store struct {
	path string

	mu    sync.RWMutex
	tasks map[string]Task
	runs  []RunRecord
}

type storeState struct {
	Tasks []Task      `json:"tasks"`
	Runs  []RunRecord `json:"runs"`
}

func NewStore(path string) *Store {
	return &Store{
		path:  path,
		tasks: make(map[string]Task),
	}
}

// Load reads persisted state. Safe to call on a missing file.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read task store: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	var state storeState
	if err := sonic.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("unmarshal task store: %w", err)
	}

	s.tasks = make(map[string]Task, len(state.Tasks))
	for _, t := range state.Tasks {
		s.tasks[t.ID] = t
	}
	s.runs = state.Runs
	return nil
}

// Add inserts a new task and persists. Duplicate IDs are an error.
func (s *Store) Add(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; exists {
		return fmt.Errorf("task already exists: %s", t.ID)
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	s.tasks[t.ID] = t
	return s.saveLocked()
}

// Update replaces an existing task and persists.
func (s *Store) Update(t Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[t.ID]; !exists {
		return fmt.Errorf("task not found: %s", t.ID)
	}
	s.tasks[t.ID] = t
	return s.saveLocked()
}

// UpdateWith applies fn to the task under the store lock, then persists.
// Mutators that read-modify-write must use this to avoid lost updates.
func (s *Store) UpdateWith(taskID string, fn func(*Task) error) (Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, exists := s.tasks[taskID]
	if !exists {
		return Task{}, fmt.Errorf("task not found: %s", taskID)
	}
	if err := fn(&t); err != nil {
		return Task{}, err
	}
	s.tasks[taskID] = t
	return t, s.saveLocked()
}

// Delete removes a task. Dependent run records go first.
func (s *Store) Delete(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tasks[taskID]; !exists {
		return fmt.Errorf("task not found: %s", taskID)
	}

	kept := s.runs[:0]
	for _, r := range s.runs {
		if r.TaskID != taskID {
			kept = append(kept, r)
		}
	}
	s.runs = kept
	delete(s.tasks, taskID)
	return s.saveLocked()
}

func (s *Store) Get(taskID string) (Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[taskID]
	return t, ok
}

func (s *Store) List() []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

// ListDue returns active tasks due at or before now, ascending by due time.
func (s *Store) ListDue(now time.Time) []Task {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []Task
	for _, t := range s.tasks {
		if t.Status != StatusActive {
			continue
		}
		if t.NextDue != nil && !t.NextDue.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].NextDue.Before(*due[j].NextDue) })
	return due
}

// AppendRun records one run in the audit log and persists.
func (s *Store) AppendRun(r RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs = append(s.runs, r)
	return s.saveLocked()
}

func (s *Store) RunsForTask(taskID string) []RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []RunRecord
	for _, r := range s.runs {
		if r.TaskID == taskID {
			out = append(out, r)
		}
	}
	return out
}

func (s *Store) saveLocked() error {
	tasks := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i].ID < tasks[j].ID })

	data, err := sonic.Marshal(storeState{Tasks: tasks, Runs: s.runs})
	if err != nil {
		return fmt.Errorf("marshal task store: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create task store dir: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write tmp task store: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename task store: %w", err)
	}
	return nil
}
