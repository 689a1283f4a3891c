package api

import (
	"context"

	"unity-api/domain"
)

// Tasks is the mutation pipeline surface consumed by the handlers.
type Tasks interface {
	Get(ctx context.Context, taskID string) (domain.Task, error)
	ListProject(ctx context.Context, projectID string) ([]domain.Task, error)
	Create(ctx context.Context, in domain.NewTask) (domain.Task, error)
	PatchFields(ctx context.Context, taskID string, p domain.TaskPatch) (domain.Task, error)
	SetStatus(ctx context.Context, taskID string, target domain.Status) (domain.Task, error)
	SetAssignees(ctx context.Context, taskID string, assignees []string) (domain.Task, error)
	CreateSubtask(ctx context.Context, taskID, title string, isCompleted bool) (domain.Subtask, domain.Task, error)
	UpdateSubtask(ctx context.Context, subtaskID string, p domain.SubtaskPatch) (domain.Subtask, domain.Task, error)
	DeleteSubtask(ctx context.Context, subtaskID string) (domain.Task, error)
}

// Authenticator is implemented by types able to extract user IDs from headers.
type Authenticator interface {
	UserIDFromAuthHeader(string) (string, error)
}

// Subscriptions exposes the live-update broker to the streaming endpoint.
type Subscriptions interface {
	Subscribe(key string) chan []byte
	Unsubscribe(key string, ch chan []byte)
}

// Deduper prevents reprocessing of duplicate creation requests.
type Deduper interface {
	// Add records the idempotency key and returns true if it was newly added.
	Add(ctx context.Context, userID, key string) (bool, error)
	// Remove deletes a previously added key, used when downstream processing fails.
	Remove(ctx context.Context, userID, key string) error
}
