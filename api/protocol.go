package api

import (
	"time"

	"unity-api/domain"
)

const mutationBodyMaxSize = 64 * 1024 // 64 KiB

// POST /api/tasks request body.
type createTaskRequest struct {
	Title     string     `json:"title"`
	ProjectID string     `json:"projectId"`
	Status    string     `json:"status"`
	DueDate   *time.Time `json:"dueDate"`
	Assignees []string   `json:"assignees"`
}

// PATCH /api/tasks/:id request body. Optional fields distinguish a key
// that is absent from one that is explicitly null.
type patchTaskRequest struct {
	Title     domain.Optional[string]    `json:"title"`
	DueDate   domain.Optional[time.Time] `json:"dueDate"`
	Assignees domain.Optional[[]string]  `json:"assignees"`
}

func (r patchTaskRequest) patch() domain.TaskPatch {
	return domain.TaskPatch{
		Title:     r.Title,
		DueDate:   r.DueDate,
		Assignees: r.Assignees,
	}
}

// PUT /api/tasks/:id/status request body.
type setStatusRequest struct {
	Status string `json:"status"`
}

// PUT /api/tasks/:id/assignees request body.
type setAssigneesRequest struct {
	AssigneeIDs []string `json:"assigneeIds"`
}

// POST /api/tasks/:id/subtasks request body.
type createSubtaskRequest struct {
	Title       string `json:"title"`
	IsCompleted bool   `json:"isCompleted"`
}

// PUT /api/tasks/subtasks/:id request body.
type updateSubtaskRequest struct {
	Title       domain.Optional[string] `json:"title"`
	IsCompleted domain.Optional[bool]   `json:"isCompleted"`
}

func (r updateSubtaskRequest) patch() domain.SubtaskPatch {
	return domain.SubtaskPatch{
		Title:       r.Title,
		IsCompleted: r.IsCompleted,
	}
}

// Subtask mutation responses carry the affected subtask together with the
// parent aggregate so clients can reconcile versions without a re-fetch.
type subtaskResponse struct {
	Subtask domain.Subtask `json:"subtask"`
	Task    domain.Task    `json:"task"`
}
