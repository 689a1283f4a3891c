package domain

import (
	"reflect"
	"testing"
	"time"

	"github.com/bytedance/sonic"
)

func TestOptionalDistinguishesAbsentNullAndValue(t *testing.T) {
	var p TaskPatch
	if err := sonic.Unmarshal([]byte(`{"title":"New title","dueDate":null}`), &p); err != nil {
		t.Fatalf("unmarshal patch: %v", err)
	}
	if title, ok := p.Title.Get(); !ok || title != "New title" {
		t.Fatalf("expected title set, got %#v", p.Title)
	}
	if !p.DueDate.IsNull() {
		t.Fatal("expected dueDate explicitly null")
	}
	if !p.Assignees.Absent() {
		t.Fatal("expected assignees absent")
	}
}

func TestApplyTaskPatchOnlyTouchesPresentFields(t *testing.T) {
	due := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	cur := Task{
		Title:     "Old",
		Status:    StatusWorking,
		Assignees: []string{"a"},
		DueDate:   &due,
		Subtasks:  []Subtask{{ID: "s1", Title: "one", Order: 0}},
	}

	next, err := ApplyTaskPatch(cur, TaskPatch{Title: Set("New")})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if next.Title != "New" {
		t.Fatalf("expected title replaced, got %q", next.Title)
	}
	if !next.DueDate.Equal(due) || next.Status != StatusWorking {
		t.Fatal("absent fields must be untouched")
	}
	if !reflect.DeepEqual(next.Subtasks, cur.Subtasks) {
		t.Fatalf("subtasks changed: %#v", next.Subtasks)
	}
}

func TestApplyTaskPatchClearVsReplaceDueDate(t *testing.T) {
	due := time.Now()
	cur := Task{Title: "t", DueDate: &due}

	cleared, err := ApplyTaskPatch(cur, TaskPatch{DueDate: Null[time.Time]()})
	if err != nil {
		t.Fatalf("apply clear: %v", err)
	}
	if cleared.DueDate != nil {
		t.Fatal("expected due date cleared")
	}

	newDue := due.Add(48 * time.Hour)
	replaced, err := ApplyTaskPatch(cur, TaskPatch{DueDate: Set(newDue)})
	if err != nil {
		t.Fatalf("apply replace: %v", err)
	}
	if replaced.DueDate == nil || !replaced.DueDate.Equal(newDue) {
		t.Fatalf("expected due date replaced, got %v", replaced.DueDate)
	}
}

func TestApplyTaskPatchRejectsNullTitleAndAssignees(t *testing.T) {
	cur := Task{Title: "t"}
	if _, err := ApplyTaskPatch(cur, TaskPatch{Title: Null[string]()}); !IsValidation(err) {
		t.Fatalf("expected validation error for null title, got %v", err)
	}
	if _, err := ApplyTaskPatch(cur, TaskPatch{Assignees: Null[[]string]()}); !IsValidation(err) {
		t.Fatalf("expected validation error for null assignees, got %v", err)
	}
	got, err := ApplyTaskPatch(cur, TaskPatch{Assignees: Set([]string{})})
	if err != nil {
		t.Fatalf("empty assignee set must be accepted: %v", err)
	}
	if len(got.Assignees) != 0 {
		t.Fatalf("expected unassigned, got %#v", got.Assignees)
	}
}

func TestApplySubtaskPatch(t *testing.T) {
	cur := Subtask{ID: "s1", Title: "one", Order: 4}

	next, err := ApplySubtaskPatch(cur, SubtaskPatch{IsCompleted: Set(true)})
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if !next.IsCompleted || next.Title != "one" || next.Order != 4 {
		t.Fatalf("unexpected result: %#v", next)
	}

	if _, err := ApplySubtaskPatch(cur, SubtaskPatch{Title: Null[string]()}); !IsValidation(err) {
		t.Fatalf("expected validation error for null subtask title, got %v", err)
	}
}
