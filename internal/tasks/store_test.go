package tasks

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"
)

func testStore() *Store {
	return NewStore(slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestCreateAndGet(t *testing.T) {
	s := testStore()
	created := s.Create("main_agent", "Wetterbericht holen", "01590111")

	if len(created.ID) != 8 {
		t.Errorf("id length = %d, want 8", len(created.ID))
	}
	if created.Status != StatusPending {
		t.Errorf("status = %q, want pending", created.Status)
	}

	got, ok := s.Get(created.ID)
	if !ok {
		t.Fatal("Get() did not find created task")
	}
	if got.Description != "Wetterbericht holen" {
		t.Errorf("description = %q", got.Description)
	}
}

func TestListNewestFirst(t *testing.T) {
	s := testStore()
	first := s.Create("main_agent", "first", "")
	time.Sleep(2 * time.Millisecond)
	second := s.Create("main_agent", "second", "")

	list := s.List()
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != second.ID || list[1].ID != first.ID {
		t.Errorf("order = [%s %s], want [%s %s]", list[0].ID, list[1].ID, second.ID, first.ID)
	}
}

func TestCancelTerminalTask(t *testing.T) {
	s := testStore()
	task := s.Create("main_agent", "x", "")
	s.Complete(task.ID, "done")

	if err := s.Cancel(task.ID); err == nil {
		t.Error("Cancel() on completed task succeeded, want error")
	}
}

func TestListenerNotified(t *testing.T) {
	s := testStore()

	var mu sync.Mutex
	var seen []Status
	s.Subscribe(func(task Task) {
		mu.Lock()
		seen = append(seen, task.Status)
		mu.Unlock()
	})

	task := s.Create("main_agent", "x", "")
	s.MarkRunning(task.ID)
	s.Complete(task.ID, "ok")

	mu.Lock()
	defer mu.Unlock()
	want := []Status{StatusPending, StatusRunning, StatusCompleted}
	if len(seen) != len(want) {
		t.Fatalf("listener saw %d updates, want %d", len(seen), len(want))
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("update %d = %q, want %q", i, seen[i], want[i])
		}
	}
}

func TestSpeech(t *testing.T) {
	s := testStore()
	if got := s.Speech(); got != "Es gibt derzeit keine Aufgaben." {
		t.Errorf("Speech() on empty store = %q", got)
	}

	task := s.Create("main_agent", "Einkaufsliste", "")
	s.Complete(task.ID, "erledigt")

	got := s.Speech()
	if !strings.Contains(got, "Einkaufsliste") || !strings.Contains(got, "erledigt") {
		t.Errorf("Speech() = %q, want description and result mentioned", got)
	}
}

func TestExecutorCompletes(t *testing.T) {
	s := testStore()
	e := NewExecutor(s)

	task := e.Run("main_agent", "quick", "", func(ctx context.Context, t Task) (string, error) {
		return "result", nil
	})

	waitForStatus(t, s, task.ID, StatusCompleted)
	got, _ := s.Get(task.ID)
	if got.Result != "result" {
		t.Errorf("result = %q, want result", got.Result)
	}
}

func TestExecutorFailure(t *testing.T) {
	s := testStore()
	e := NewExecutor(s)

	task := e.Run("main_agent", "broken", "", func(ctx context.Context, t Task) (string, error) {
		return "", errors.New("boom")
	})

	waitForStatus(t, s, task.ID, StatusFailed)
	got, _ := s.Get(task.ID)
	if got.Error != "boom" {
		t.Errorf("error = %q, want boom", got.Error)
	}
}

func TestExecutorCancel(t *testing.T) {
	s := testStore()
	e := NewExecutor(s)

	started := make(chan struct{})
	task := e.Run("main_agent", "slow", "", func(ctx context.Context, t Task) (string, error) {
		close(started)
		<-ctx.Done()
		return "", ctx.Err()
	})

	<-started
	if err := e.Cancel(task.ID); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}

	waitForStatus(t, s, task.ID, StatusCancelled)
}

func waitForStatus(t *testing.T, s *Store, id string, want Status) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got, ok := s.Get(id); ok && got.Status == want {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	got, _ := s.Get(id)
	t.Fatalf("task %s status = %q, want %q", id, got.Status, want)
}
