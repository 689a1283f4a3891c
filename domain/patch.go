package domain

import (
	"bytes"
	"time"

	"github.com/bytedance/sonic"
)

// Optional is a tagged optional for merge-patch fields. It distinguishes a
// field absent from the request body (leave untouched) from one explicitly
// sent as null (clear) and from one sent with a value (replace). An ambient
// nullable cannot express all three.
type Optional[T any] struct {
	present bool
	null    bool
	value   T
}

// Set returns an Optional carrying a value.
func Set[T any](v T) Optional[T] {
	return Optional[T]{present: true, value: v}
}

// Null returns an Optional that explicitly clears the field.
func Null[T any]() Optional[T] {
	return Optional[T]{present: true, null: true}
}

// Absent reports whether the field was not part of the patch at all.
func (o Optional[T]) Absent() bool { return !o.present }

// IsNull reports whether the field was explicitly sent as null.
func (o Optional[T]) IsNull() bool { return o.present && o.null }

// Get returns the carried value; ok is false when the field is absent or null.
func (o Optional[T]) Get() (T, bool) {
	if !o.present || o.null {
		var zero T
		return zero, false
	}
	return o.value, true
}

var jsonNull = []byte("null")

// UnmarshalJSON is only invoked for fields present in the body, which is what
// makes the absent case detectable: an untouched Optional stays absent.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), jsonNull) {
		*o = Optional[T]{present: true, null: true}
		return nil
	}
	var v T
	if err := sonic.Unmarshal(data, &v); err != nil {
		return err
	}
	*o = Optional[T]{present: true, value: v}
	return nil
}

// TaskPatch is the widest patch shape a caller can express against task
// fields. It deliberately has no subtasks field, so no task-field mutation
// can touch the subtask sequence.
type TaskPatch struct {
	Title     Optional[string]    `json:"title"`
	DueDate   Optional[time.Time] `json:"dueDate"`
	Assignees Optional[[]string]  `json:"assignees"`
}

// IsEmpty reports whether the patch changes nothing.
func (p TaskPatch) IsEmpty() bool {
	return p.Title.Absent() && p.DueDate.Absent() && p.Assignees.Absent()
}

// SubtaskPatch is scoped to a single subtask's own fields; siblings and
// parent task fields are structurally out of reach.
type SubtaskPatch struct {
	Title       Optional[string] `json:"title"`
	IsCompleted Optional[bool]   `json:"isCompleted"`
}

// IsEmpty reports whether the patch changes nothing.
func (p SubtaskPatch) IsEmpty() bool {
	return p.Title.Absent() && p.IsCompleted.Absent()
}

// ApplyTaskPatch merges a TaskPatch into a copy of t. Only fields present in
// the patch change; the subtask sequence is carried over verbatim.
func ApplyTaskPatch(t Task, p TaskPatch) (Task, error) {
	next := t.Clone()
	if !p.Title.Absent() {
		title, ok := p.Title.Get()
		if !ok {
			return Task{}, Validationf("title cannot be cleared")
		}
		if title == "" {
			return Task{}, Validationf("title cannot be empty")
		}
		next.Title = title
	}
	if !p.DueDate.Absent() {
		if due, ok := p.DueDate.Get(); ok {
			d := due
			next.DueDate = &d
		} else {
			next.DueDate = nil
		}
	}
	if !p.Assignees.Absent() {
		ids, ok := p.Assignees.Get()
		if !ok {
			return Task{}, Validationf("assignees cannot be null; send an empty set to unassign")
		}
		next.Assignees = NormalizeAssignees(ids)
	}
	return next, nil
}

// ApplySubtaskPatch merges a SubtaskPatch into a copy of st.
func ApplySubtaskPatch(st Subtask, p SubtaskPatch) (Subtask, error) {
	next := st
	if !p.Title.Absent() {
		title, ok := p.Title.Get()
		if !ok || title == "" {
			return Subtask{}, Validationf("subtask title cannot be empty")
		}
		next.Title = title
	}
	if !p.IsCompleted.Absent() {
		done, ok := p.IsCompleted.Get()
		if !ok {
			return Subtask{}, Validationf("isCompleted cannot be null")
		}
		next.IsCompleted = done
	}
	return next, nil
}
