// Package kanban implements the Board (§3, §5, §9): the single
// mutex-guarded coordination point for the expert-set deliberation
// loop — the evolving topic description and its version history, the
// accumulated round-by-round thoughts, the growing SotaTable, and a
// three-column (Todo/InProgress/Done) task list used for inter-agent
// handoff, including the cooperative polling contract for async tasks.
//
// §9 notes the source keeps two Board variants (sync and thread-safe)
// and directs implementers to the thread-safe one; this is that one —
// every method acquires the single mutex, matching the teacher's
// single-re-entrant-lock style absent from this codebase but present
// throughout the pack's concurrent stores (kg.Graph, vectorindex.Memory).
package kanban

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	sota "github.com/sotatable/sota"
	"github.com/sotatable/sota/sotatable"
)

// TaskStatus is one of the three Kanban columns.
type TaskStatus string

const (
	TaskTodo       TaskStatus = "Todo"
	TaskInProgress TaskStatus = "InProgress"
	TaskDone       TaskStatus = "Done"
)

// Task is one unit of inter-agent work (§3).
type Task struct {
	ID          string
	Title       string
	Description string
	Skill       string
	Priority    int
	IsAsync     bool
	Response    string
}

// ThesisKnowledge is the evolving topic state: the current description,
// the accumulated deliberation thoughts, and the full description
// history (§4.9; SPEC_FULL §5 keeps the complete history rather than
// only the immediately prior value).
type ThesisKnowledge struct {
	Description string
	Thoughts    []string
	History     []string
}

// Config tunes the async task polling contract (§5).
type Config struct {
	PollInterval time.Duration // default 3s
	Timeout      time.Duration // default 600s
}

// DefaultConfig matches §5's documented poll/timeout defaults.
func DefaultConfig() Config {
	return Config{PollInterval: 3 * time.Second, Timeout: 600 * time.Second}
}

// Board is the central knowledge repository guarded by a single mutex
// (§5: "The Kanban board is guarded by a single re-entrant mutex; every
// board op acquires it"). Go's sync.Mutex is not re-entrant; every
// method here acquires it exactly once and never calls another locking
// method while held, which gives the same externally-observed
// serialization the source's re-entrant lock provides.
type Board struct {
	mu sync.Mutex

	Table  *sotatable.Table
	Thesis ThesisKnowledge

	cfg   Config
	tasks map[TaskStatus][]Task
}

// New returns a Board seeded with initialDescription. The version
// history starts empty; UpdateDescription adds each replaced
// description to it (§4.9).
func New(initialDescription string, cfg Config) *Board {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 3 * time.Second
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 600 * time.Second
	}
	b := &Board{
		Table: sotatable.New(),
		cfg:   cfg,
		tasks: map[TaskStatus][]Task{TaskTodo: nil, TaskInProgress: nil, TaskDone: nil},
	}
	b.Thesis.Description = initialDescription
	return b
}

// Description returns the current topic description.
func (b *Board) Description() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Thesis.Description
}

// Thoughts returns a snapshot of the accumulated deliberation thoughts.
func (b *Board) Thoughts() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, len(b.Thesis.Thoughts))
	copy(out, b.Thesis.Thoughts)
	return out
}

// UpdateDescription records the current description into history, then
// replaces it (§4.9: "append old description to a version history").
func (b *Board) UpdateDescription(newDescription string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Thesis.History = append(b.Thesis.History, b.Thesis.Description)
	b.Thesis.Description = newDescription
}

// RecordThought appends a note to the round-by-round thought log, fed
// back into the next round's ActionPicker prompt (§4.7 step 2).
func (b *Board) RecordThought(thought string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Thesis.Thoughts = append(b.Thesis.Thoughts, thought)
}

// SotaMarkdown renders the current SOTA table as markdown (§6).
func (b *Board) SotaMarkdown() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.Table.Markdown()
}

// WithTable runs fn with exclusive access to the SotaTable, serializing
// every table mutation through the board's single mutex.
func (b *Board) WithTable(fn func(*sotatable.Table)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b.Table)
}

// --- Kanban task list ---

// AddTask appends a task to Todo and returns it, with its freshly
// assigned id.
func (b *Board) AddTask(title, description, skill string, priority int, isAsync bool) Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	t := Task{ID: uuid.NewString(), Title: title, Description: description, Skill: skill, Priority: priority, IsAsync: isAsync}
	b.tasks[TaskTodo] = append(b.tasks[TaskTodo], t)
	return t
}

// Tasks returns a snapshot of the tasks in one column.
func (b *Board) Tasks(status TaskStatus) []Task {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Task, len(b.tasks[status]))
	copy(out, b.tasks[status])
	return out
}

// MoveTask moves a task by id from its current column to to, returning
// ErrTaskNotFound if no task with that id exists.
func (b *Board) MoveTask(id string, to TaskStatus) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for status, list := range b.tasks {
		for i, t := range list {
			if t.ID == id {
				b.tasks[status] = append(list[:i], list[i+1:]...)
				b.tasks[to] = append(b.tasks[to], t)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", sota.ErrTaskNotFound, id)
}

// CompleteTask moves a task to Done and records its response.
func (b *Board) CompleteTask(id, response string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for status, list := range b.tasks {
		for i, t := range list {
			if t.ID == id {
				t.Response = response
				b.tasks[status] = append(list[:i], list[i+1:]...)
				b.tasks[TaskDone] = append(b.tasks[TaskDone], t)
				return nil
			}
		}
	}
	return fmt.Errorf("%w: %s", sota.ErrTaskNotFound, id)
}

// AddTaskAsync is the cooperative polling contract of §5: it enqueues
// task to Todo, then suspends the caller on a PollInterval ticker until
// the task surfaces in Done (by id) or Timeout elapses, in which case
// it returns ErrAsyncTaskTimeout and leaves the task on the board
// (§7 Cancellation/timeout taxonomy). §9 prefers a condition-variable +
// signal-on-move design but accepts polling as a fallback; this
// implementation polls, matching the original's asyncio loop.
func (b *Board) AddTaskAsync(ctx context.Context, title, description, skill string, priority int) (Task, error) {
	task := b.AddTask(title, description, skill, priority, true)

	deadline := time.Now().Add(b.cfg.Timeout)
	ticker := time.NewTicker(b.cfg.PollInterval)
	defer ticker.Stop()

	for {
		for _, t := range b.Tasks(TaskDone) {
			if t.ID == task.ID {
				return t, nil
			}
		}
		if time.Now().After(deadline) {
			return task, fmt.Errorf("%w: %s", sota.ErrAsyncTaskTimeout, task.ID)
		}
		select {
		case <-ctx.Done():
			return task, ctx.Err()
		case <-ticker.C:
		}
	}
}
