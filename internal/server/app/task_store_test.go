package app

import (
	"errors"
	"strings"
	"sync"
	"testing"

	"cua/internal/task"
)

func TestInMemoryTaskStore_Create(t *testing.T) {
	store := NewInMemoryTaskStore()

	created, err := store.Create("Test task")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	if !strings.HasPrefix(created.ID(), "task-") {
		t.Errorf("Expected task- prefix, got '%s'", created.ID())
	}

	if created.Description() != "Test task" {
		t.Errorf("Expected description 'Test task', got '%s'", created.Description())
	}

	if created.Status() != task.StatusPlanning {
		t.Errorf("Expected status 'planning', got '%s'", created.Status())
	}

	if store.Len() != 1 {
		t.Errorf("Expected 1 task, got %d", store.Len())
	}
}

func TestInMemoryTaskStore_Get(t *testing.T) {
	store := NewInMemoryTaskStore()

	created, err := store.Create("Test task")
	if err != nil {
		t.Fatalf("Failed to create task: %v", err)
	}

	retrieved, err := store.Get(created.ID())
	if err != nil {
		t.Fatalf("Failed to get task: %v", err)
	}
	if retrieved != created {
		t.Errorf("Expected the stored task to be returned")
	}

	_, err = store.Get("non-existent")
	var notFound *task.NotFoundError
	if !errors.As(err, &notFound) {
		t.Fatalf("Expected NotFoundError, got %v", err)
	}
	if notFound.ID != "non-existent" {
		t.Errorf("Expected id 'non-existent', got '%s'", notFound.ID)
	}
	if store.Exists("non-existent") || !store.Exists(created.ID()) {
		t.Error("Exists disagrees with Get")
	}
}

func TestInMemoryTaskStore_Delete(t *testing.T) {
	store := NewInMemoryTaskStore()

	created, _ := store.Create("Test task")
	if err := store.Delete(created.ID()); err != nil {
		t.Fatalf("Failed to delete task: %v", err)
	}
	if store.Exists(created.ID()) {
		t.Error("Task should be gone after delete")
	}
	if err := store.Delete(created.ID()); err == nil {
		t.Error("Expected error deleting a missing task")
	}
	if len(store.List()) != 0 {
		t.Error("List should be empty after delete")
	}
}

func TestInMemoryTaskStore_ListNewestFirst(t *testing.T) {
	store := NewInMemoryTaskStore()

	var ids []string
	for _, desc := range []string{"first", "second", "third"} {
		created, _ := store.Create(desc)
		ids = append(ids, created.ID())
	}

	listed := store.List()
	if len(listed) != 3 {
		t.Fatalf("Expected 3 tasks, got %d", len(listed))
	}
	for i, want := range []string{ids[2], ids[1], ids[0]} {
		if listed[i].ID() != want {
			t.Errorf("Position %d: expected %s, got %s", i, want, listed[i].ID())
		}
	}
}

func TestInMemoryTaskStore_CountActive(t *testing.T) {
	store := NewInMemoryTaskStore()

	a, _ := store.Create("a")
	b, _ := store.Create("b")
	c, _ := store.Create("c")
	b.SetStatus(task.StatusVerifying)
	c.Finish(task.StatusFailed, nil)
	_ = a

	if got := store.CountActive(); got != 2 {
		t.Errorf("Expected 2 active tasks, got %d", got)
	}
}

func TestInMemoryTaskStore_CleanupKeepsNewestFinished(t *testing.T) {
	store := NewInMemoryTaskStore()

	var finished []*task.Task
	for i := 0; i < 5; i++ {
		created, _ := store.Create("done")
		created.Finish(task.StatusCompleted, nil)
		finished = append(finished, created)
	}
	running, _ := store.Create("running")

	if removed := store.Cleanup(10); removed != 0 {
		t.Errorf("Expected nothing removed, got %d", removed)
	}

	removed := store.Cleanup(2)
	if removed != 3 {
		t.Fatalf("Expected 3 removed, got %d", removed)
	}
	for i, tk := range finished {
		kept := store.Exists(tk.ID())
		if i < 3 && kept {
			t.Errorf("Task %d should have been removed", i)
		}
		if i >= 3 && !kept {
			t.Errorf("Task %d should have been kept", i)
		}
	}
	if !store.Exists(running.ID()) {
		t.Error("Active tasks must never be cleaned up")
	}
	if store.Len() != 3 {
		t.Errorf("Expected 3 remaining, got %d", store.Len())
	}

	if removed := store.Cleanup(0); removed != 2 {
		t.Errorf("Expected 2 removed with keep 0, got %d", removed)
	}
}

func TestInMemoryTaskStore_ConcurrentAccess(t *testing.T) {
	store := NewInMemoryTaskStore()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			created, err := store.Create("parallel")
			if err != nil {
				t.Errorf("create: %v", err)
				return
			}
			_ = store.List()
			_ = store.CountActive()
			created.Finish(task.StatusCompleted, nil)
			_ = store.Cleanup(5)
		}()
	}
	wg.Wait()

	if store.Len() > 20 {
		t.Errorf("Unexpected task count %d", store.Len())
	}
}
