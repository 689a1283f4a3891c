package storage

import (
	"testing"
	"time"

	"unity-api/domain"
)

func TestTaskEntityRoundTrip(t *testing.T) {
	due := time.Date(2026, 4, 2, 9, 30, 0, 0, time.UTC)
	orig := domain.Task{
		ID:        "task-1",
		ProjectID: "project-7",
		Title:     "Ship it",
		Status:    domain.StatusWorking,
		Assignees: []string{"u1", "u2"},
		DueDate:   &due,
		Subtasks: []domain.Subtask{
			{ID: "s1", ParentTaskID: "task-1", Title: "one", IsCompleted: true, Order: 0},
			{ID: "s2", ParentTaskID: "task-1", Title: "two", Order: 1},
		},
		Version:   12,
		UpdatedAt: time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC),
	}

	payload, err := encodeTaskEntity(orig)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := decodeTaskEntity(payload)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != orig.ID || got.ProjectID != orig.ProjectID || got.Status != orig.Status {
		t.Fatalf("unexpected task: %#v", got)
	}
	if got.Version != 12 {
		t.Fatalf("version lost in codec: %d", got.Version)
	}
	if len(got.Subtasks) != 2 || got.Subtasks[0] != orig.Subtasks[0] || got.Subtasks[1] != orig.Subtasks[1] {
		t.Fatalf("subtask sequence not preserved: %#v", got.Subtasks)
	}
	if got.DueDate == nil || !got.DueDate.Equal(due) {
		t.Fatalf("due date not preserved: %v", got.DueDate)
	}
}

func TestDecodeTaskEntityDefaultsEmptyCollections(t *testing.T) {
	data := []byte(`{"PartitionKey":"t1","RowKey":"t1","ProjectId":"p1","Title":"bare","Status":"todo","Version":"0"}`)
	got, err := decodeTaskEntity(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Assignees == nil || len(got.Assignees) != 0 {
		t.Fatalf("expected empty assignee set, got %#v", got.Assignees)
	}
	if got.Subtasks == nil || len(got.Subtasks) != 0 {
		t.Fatalf("expected empty subtask sequence, got %#v", got.Subtasks)
	}
	if got.DueDate != nil {
		t.Fatalf("expected no due date, got %v", got.DueDate)
	}
}
