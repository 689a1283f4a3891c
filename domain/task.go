package domain

import (
	"time"
)

// Status is the lifecycle state of a task on the board.
type Status string

const (
	StatusTodo    Status = "todo"
	StatusWorking Status = "working"
	StatusStuck   Status = "stuck"
	StatusReview  Status = "review"
	StatusDone    Status = "done"
)

// statusTransitions is the fixed transition table. A status maps to the set
// of states it may move to; anything else is rejected.
var statusTransitions = map[Status][]Status{
	StatusTodo:    {StatusWorking},
	StatusWorking: {StatusStuck, StatusReview, StatusDone},
	StatusStuck:   {StatusWorking},
	StatusReview:  {StatusWorking, StatusDone},
	StatusDone:    {StatusWorking},
}

// ParseStatus validates a raw status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if _, ok := statusTransitions[st]; !ok {
		return "", Validationf("unknown status %q", s)
	}
	return st, nil
}

// CanTransitionTo reports whether the table allows moving from s to target.
func (s Status) CanTransitionTo(target Status) bool {
	for _, next := range statusTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// Subtask is owned by its parent task; it is only ever read or written as
// part of the parent aggregate.
type Subtask struct {
	ID           string `json:"id"`
	ParentTaskID string `json:"parentTaskId"`
	Title        string `json:"title"`
	IsCompleted  bool   `json:"isCompleted"`
	Order        int    `json:"order"`
}

// Task is the aggregate root: task fields plus the ordered subtask sequence,
// always loaded and committed as one unit.
type Task struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"projectId"`
	Title     string     `json:"title"`
	Status    Status     `json:"status"`
	Assignees []string   `json:"assignees"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
	Subtasks  []Subtask  `json:"subtasks"`
	Version   int64      `json:"version"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

// Clone returns a deep copy so patch application never aliases the loaded
// aggregate's slices.
func (t Task) Clone() Task {
	next := t
	if t.Assignees != nil {
		next.Assignees = append([]string(nil), t.Assignees...)
	}
	if t.Subtasks != nil {
		next.Subtasks = append([]Subtask(nil), t.Subtasks...)
	}
	if t.DueDate != nil {
		due := *t.DueDate
		next.DueDate = &due
	}
	return next
}

// SubtaskIndex returns the position of the subtask with the given id.
func (t Task) SubtaskIndex(subtaskID string) (int, bool) {
	for i := range t.Subtasks {
		if t.Subtasks[i].ID == subtaskID {
			return i, true
		}
	}
	return 0, false
}

// NormalizeAssignees deduplicates an assignee set while keeping first-seen
// order stable.
func NormalizeAssignees(ids []string) []string {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func sameAssignees(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	set := make(map[string]struct{}, len(a))
	for _, id := range a {
		set[id] = struct{}{}
	}
	for _, id := range b {
		if _, ok := set[id]; !ok {
			return false
		}
	}
	return true
}
