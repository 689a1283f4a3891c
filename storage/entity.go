package storage

import (
	"encoding/json"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"

	"unity-api/domain"
)

const edmInt64 = "Edm.Int64"

// taskEntity is the table representation of a task aggregate. The assignee
// set and subtask sequence are embedded as JSON so the aggregate stays a
// single entity and every commit is one conditional write.
type taskEntity struct {
	aztables.Entity
	ProjectID   string `json:"ProjectId"`
	Title       string `json:"Title"`
	Status      string `json:"Status"`
	Assignees   string `json:"Assignees"`
	DueDate     string `json:"DueDate,omitempty"`
	Subtasks    string `json:"Subtasks"`
	Version     int64  `json:"Version,string"`
	VersionType string `json:"Version@odata.type"`
	UpdatedAt   string `json:"UpdatedAt"`
}

// subtaskIndexEntity maps a subtask id to the task that owns it.
type subtaskIndexEntity struct {
	aztables.Entity
	TaskID string `json:"TaskId"`
}

func encodeTaskEntity(t domain.Task) ([]byte, error) {
	assignees, err := json.Marshal(t.Assignees)
	if err != nil {
		return nil, err
	}
	subtasks, err := json.Marshal(t.Subtasks)
	if err != nil {
		return nil, err
	}
	ent := taskEntity{
		Entity:      aztables.Entity{PartitionKey: t.ID, RowKey: t.ID},
		ProjectID:   t.ProjectID,
		Title:       t.Title,
		Status:      string(t.Status),
		Assignees:   string(assignees),
		Subtasks:    string(subtasks),
		Version:     t.Version,
		VersionType: edmInt64,
		UpdatedAt:   t.UpdatedAt.UTC().Format(time.RFC3339Nano),
	}
	if t.DueDate != nil {
		ent.DueDate = t.DueDate.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(ent)
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent taskEntity
	if err := json.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	t := domain.Task{
		ID:        ent.RowKey,
		ProjectID: ent.ProjectID,
		Title:     ent.Title,
		Status:    domain.Status(ent.Status),
		Version:   ent.Version,
	}
	if ent.Assignees != "" {
		if err := json.Unmarshal([]byte(ent.Assignees), &t.Assignees); err != nil {
			return domain.Task{}, err
		}
	}
	if t.Assignees == nil {
		t.Assignees = []string{}
	}
	if ent.Subtasks != "" {
		if err := json.Unmarshal([]byte(ent.Subtasks), &t.Subtasks); err != nil {
			return domain.Task{}, err
		}
	}
	if t.Subtasks == nil {
		t.Subtasks = []domain.Subtask{}
	}
	if ent.DueDate != "" {
		due, err := time.Parse(time.RFC3339Nano, ent.DueDate)
		if err != nil {
			return domain.Task{}, err
		}
		t.DueDate = &due
	}
	if ent.UpdatedAt != "" {
		updated, err := time.Parse(time.RFC3339Nano, ent.UpdatedAt)
		if err != nil {
			return domain.Task{}, err
		}
		t.UpdatedAt = updated
	}
	return t, nil
}
