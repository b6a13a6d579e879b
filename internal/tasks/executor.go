package tasks

import (
	"context"
	"errors"
	"sync"
)

// Handler runs one background task. The returned string becomes the task
// result. A ctx error means the task was cancelled.
type Handler func(ctx context.Context, t Task) (string, error)

// Executor runs task handlers in goroutines and tracks their cancel
// functions so the store's cancel reaches a running handler.
type Executor struct {
	store *Store

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewExecutor creates an executor over the given store.
func NewExecutor(store *Store) *Executor {
	return &Executor{
		store:   store,
		cancels: make(map[string]context.CancelFunc),
	}
}

// Run creates a task and starts its handler in the background. It returns
// the pending task snapshot immediately.
func (e *Executor) Run(agentName, description, callerID string, h Handler) Task {
	t := e.store.Create(agentName, description, callerID)

	ctx, cancel := context.WithCancel(context.Background())
	e.mu.Lock()
	e.cancels[t.ID] = cancel
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.cancels, t.ID)
			e.mu.Unlock()
			cancel()
		}()

		e.store.MarkRunning(t.ID)
		result, err := h(ctx, t)
		switch {
		case errors.Is(err, context.Canceled):
			// Store state was already set by Cancel.
		case err != nil:
			e.store.Fail(t.ID, err.Error())
		default:
			e.store.Complete(t.ID, result)
		}
	}()

	return t
}

// Cancel stops a task: the store record is marked cancelled and the
// handler's context is cancelled if it is still running.
func (e *Executor) Cancel(id string) error {
	if err := e.store.Cancel(id); err != nil {
		return err
	}

	e.mu.Lock()
	cancel, ok := e.cancels[id]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return nil
}
