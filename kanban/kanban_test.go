package kanban

import (
	"context"
	"testing"
	"time"
)

func TestAddTaskAsync_ResolvesWhenMovedToDone(t *testing.T) {
	b := New("topic", Config{PollInterval: 10 * time.Millisecond, Timeout: time.Second})

	var taskID string
	done := make(chan struct{})
	go func() {
		for {
			todo := b.Tasks(TaskTodo)
			if len(todo) > 0 {
				taskID = todo[0].ID
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
		_ = b.CompleteTask(taskID, "ok")
		close(done)
	}()

	task, err := b.AddTaskAsync(context.Background(), "t", "d", "skill", 1)
	<-done
	if err != nil {
		t.Fatalf("AddTaskAsync: %v", err)
	}
	if task.Response != "ok" {
		t.Fatalf("expected response %q, got %q", "ok", task.Response)
	}
}

func TestAddTaskAsync_TimesOutAndLeavesTaskOnBoard(t *testing.T) {
	b := New("topic", Config{PollInterval: 5 * time.Millisecond, Timeout: 20 * time.Millisecond})

	_, err := b.AddTaskAsync(context.Background(), "t", "d", "skill", 1)
	if err == nil {
		t.Fatalf("expected timeout error")
	}
	if len(b.Tasks(TaskTodo)) != 1 {
		t.Fatalf("expected task to remain on the board after timeout")
	}
}

func TestUpdateDescription_AppendsToHistory(t *testing.T) {
	b := New("v1", DefaultConfig())
	b.UpdateDescription("v2")
	b.UpdateDescription("v3")

	if b.Description() != "v3" {
		t.Fatalf("expected current description v3, got %s", b.Description())
	}
	if len(b.Thesis.History) != 2 || b.Thesis.History[0] != "v1" || b.Thesis.History[1] != "v2" {
		t.Fatalf("unexpected history: %v", b.Thesis.History)
	}
}
