// Package tasks holds the in-memory store for asynchronous background
// tasks started by agents. Tasks outlive the call that created them but
// not the process.
package tasks

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a task.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// Task is one background job. Copies are handed out; the store owns the
// canonical record.
type Task struct {
	ID          string    `json:"id"`
	AgentName   string    `json:"agent_name"`
	Description string    `json:"description"`
	Status      Status    `json:"status"`
	Result      string    `json:"result,omitempty"`
	Error       string    `json:"error,omitempty"`
	Progress    string    `json:"progress,omitempty"`
	CallerID    string    `json:"caller_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Done reports whether the task reached a terminal state.
func (t *Task) Done() bool {
	return t.Status == StatusCompleted || t.Status == StatusFailed || t.Status == StatusCancelled
}

// Listener is notified with a snapshot after every task change.
type Listener func(Task)

// Store keeps all tasks in memory behind one mutex.
type Store struct {
	mu        sync.Mutex
	tasks     map[string]*Task
	listeners []Listener
	logger    *slog.Logger
}

// NewStore creates an empty task store.
func NewStore(logger *slog.Logger) *Store {
	return &Store{
		tasks:  make(map[string]*Task),
		logger: logger.With("component", "tasks"),
	}
}

// Subscribe registers a listener for task updates. Listeners are invoked
// synchronously under the store lock and must not call back into the store.
func (s *Store) Subscribe(l Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Create adds a new pending task and returns a snapshot of it. Task ids
// are short so the assistant can speak them.
func (s *Store) Create(agentName, description, callerID string) Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	t := &Task{
		ID:          uuid.NewString()[:8],
		AgentName:   agentName,
		Description: description,
		Status:      StatusPending,
		CallerID:    callerID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	s.tasks[t.ID] = t
	s.logger.Info("task created", "task_id", t.ID, "agent", agentName, "description", description)
	s.notifyLocked(t)
	return *t
}

// Get returns a snapshot of one task.
func (s *Store) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok {
		return Task{}, false
	}
	return *t, true
}

// List returns snapshots of all tasks, newest first.
func (s *Store) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out
}

// MarkRunning moves a pending task to running.
func (s *Store) MarkRunning(id string) {
	s.update(id, func(t *Task) {
		t.Status = StatusRunning
	})
}

// SetProgress records a human-readable progress note.
func (s *Store) SetProgress(id, progress string) {
	s.update(id, func(t *Task) {
		t.Progress = progress
	})
}

// Complete finishes a task with its result.
func (s *Store) Complete(id, result string) {
	s.update(id, func(t *Task) {
		t.Status = StatusCompleted
		t.Result = result
	})
}

// Fail finishes a task with an error message.
func (s *Store) Fail(id, errMsg string) {
	s.update(id, func(t *Task) {
		t.Status = StatusFailed
		t.Error = errMsg
	})
}

// Cancel marks a task cancelled. Terminal tasks are left untouched.
func (s *Store) Cancel(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return fmt.Errorf("task %s not found", id)
	}
	if t.Done() {
		return fmt.Errorf("task %s already %s", id, t.Status)
	}
	t.Status = StatusCancelled
	t.UpdatedAt = time.Now()
	s.logger.Info("task cancelled", "task_id", id)
	s.notifyLocked(t)
	return nil
}

func (s *Store) update(id string, fn func(*Task)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tasks[id]
	if !ok {
		return
	}
	fn(t)
	t.UpdatedAt = time.Now()
	s.notifyLocked(t)
}

func (s *Store) notifyLocked(t *Task) {
	snapshot := *t
	for _, l := range s.listeners {
		l(snapshot)
	}
}

// Speech summarises the task list in German for the assistant to read out.
func (s *Store) Speech() string {
	list := s.List()
	if len(list) == 0 {
		return "Es gibt derzeit keine Aufgaben."
	}

	var open, done []string
	for _, t := range list {
		line := fmt.Sprintf("%s (%s): %s", t.Description, t.ID, statusSpeech(t))
		if t.Done() {
			done = append(done, line)
		} else {
			open = append(open, line)
		}
	}

	var b strings.Builder
	if len(open) > 0 {
		fmt.Fprintf(&b, "%d laufende Aufgaben: %s.", len(open), strings.Join(open, "; "))
	}
	if len(done) > 0 {
		if b.Len() > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "%d abgeschlossene Aufgaben: %s.", len(done), strings.Join(done, "; "))
	}
	return b.String()
}

func statusSpeech(t Task) string {
	switch t.Status {
	case StatusPending:
		return "wartet"
	case StatusRunning:
		if t.Progress != "" {
			return "laeuft, " + t.Progress
		}
		return "laeuft"
	case StatusCompleted:
		if t.Result != "" {
			return "fertig. Ergebnis: " + t.Result
		}
		return "fertig"
	case StatusFailed:
		return "fehlgeschlagen"
	case StatusCancelled:
		return "abgebrochen"
	}
	return string(t.Status)
}
