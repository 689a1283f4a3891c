package stream

import (
	"unity-api/domain"
)

// Event is one fan-out message: the complete post-commit aggregate, tagged
// with its version so consumers can discard anything stale. It is a full
// snapshot, never a diff, which makes redelivery harmless.
type Event struct {
	TaskID    string      `json:"taskId"`
	ProjectID string      `json:"projectId"`
	Version   int64       `json:"version"`
	Task      domain.Task `json:"task"`
}

// TaskChannel is the subscription key for a single task.
func TaskChannel(taskID string) string { return "task:" + taskID }

// ProjectChannel is the subscription key for all tasks of a project.
func ProjectChannel(projectID string) string { return "project:" + projectID }
