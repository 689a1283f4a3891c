package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"

	"unity-api/domain"
)

// Storage persists task aggregates in Azure Table Storage. Each aggregate is
// one entity (task fields plus the serialized subtask sequence), so a commit
// is a single conditional write and the whole aggregate changes or nothing
// does. A second table maps subtask ids to their parent task for point
// mutations, and a queue carries best-effort assignee notifications.
type Storage struct {
	taskTable    *aztables.Client
	subtaskIndex *aztables.Client
	userTable    *aztables.Client
	notifyQueue  *azqueue.QueueClient
}

// New creates a Storage instance from the given connection string.
func New(connStr, tasksTable, subtaskIndexTable, usersTable, notifyQueue string) (*Storage, error) {
	tablesClientOptions := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    3,
				TryTimeout:    time.Minute * 3,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &tablesClientOptions)
	if err != nil {
		return nil, err
	}
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    2,
				TryTimeout:    time.Second * 30,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 15,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	nq, err := azqueue.NewQueueClientFromConnectionString(connStr, notifyQueue, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return &Storage{
		taskTable:    svc.NewClient(tasksTable),
		subtaskIndex: svc.NewClient(subtaskIndexTable),
		userTable:    svc.NewClient(usersTable),
		notifyQueue:  nq,
	}, nil
}

// Load retrieves the full aggregate for a task id.
func (s *Storage) Load(ctx context.Context, taskID string) (domain.Task, error) {
	ent, err := s.taskTable.GetEntity(ctx, taskID, taskID, nil)
	if err != nil {
		return domain.Task{}, mapStatusError(err)
	}
	return decodeTaskEntity(ent.Value)
}

// LoadBySubtask resolves a subtask id to its parent and loads the parent
// aggregate.
func (s *Storage) LoadBySubtask(ctx context.Context, subtaskID string) (domain.Task, error) {
	ent, err := s.subtaskIndex.GetEntity(ctx, subtaskID, subtaskID, nil)
	if err != nil {
		return domain.Task{}, mapStatusError(err)
	}
	var idx subtaskIndexEntity
	if err := json.Unmarshal(ent.Value, &idx); err != nil {
		return domain.Task{}, err
	}
	return s.Load(ctx, idx.TaskID)
}

// ListByProject retrieves all aggregates belonging to a project.
func (s *Storage) ListByProject(ctx context.Context, projectID string) ([]domain.Task, error) {
	filter := "ProjectId eq '" + projectID + "'"
	pager := s.taskTable.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	tasks := []domain.Task{}
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, raw := range resp.Entities {
			t, err := decodeTaskEntity(raw)
			if err != nil {
				return nil, err
			}
			tasks = append(tasks, t)
		}
	}
	return tasks, nil
}

// Insert persists a brand-new aggregate. The entity must not already exist.
func (s *Storage) Insert(ctx context.Context, t domain.Task) error {
	payload, err := encodeTaskEntity(t)
	if err != nil {
		return err
	}
	if _, err := s.taskTable.AddEntity(ctx, payload, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 409 {
			return domain.ErrConflict
		}
		return err
	}
	return s.syncSubtaskIndex(ctx, nil, t)
}

// Save commits the aggregate if and only if the stored version still equals
// expectedVersion. The conditional write uses the entity ETag, so two writers
// racing past the version check cannot both land.
func (s *Storage) Save(ctx context.Context, t domain.Task, expectedVersion int64) error {
	cur, err := s.taskTable.GetEntity(ctx, t.ID, t.ID, nil)
	if err != nil {
		return mapStatusError(err)
	}
	var stored taskEntity
	if err := json.Unmarshal(cur.Value, &stored); err != nil {
		return err
	}
	if stored.Version != expectedVersion {
		return domain.ErrConflict
	}

	payload, err := encodeTaskEntity(t)
	if err != nil {
		return err
	}
	opts := &aztables.UpdateEntityOptions{
		IfMatch:    &cur.ETag,
		UpdateMode: aztables.UpdateModeReplace,
	}
	if _, err := s.taskTable.UpdateEntity(ctx, payload, opts); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && (respErr.StatusCode == 412 || respErr.StatusCode == 409) {
			return domain.ErrConflict
		}
		return mapStatusError(err)
	}

	prev, err := decodeTaskEntity(cur.Value)
	if err != nil {
		return err
	}
	return s.syncSubtaskIndex(ctx, prev.Subtasks, t)
}

// UserExists reports whether the user table knows the given id.
func (s *Storage) UserExists(ctx context.Context, userID string) (bool, error) {
	_, err := s.userTable.GetEntity(ctx, userID, userID, nil)
	if err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == 404 {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// assigneeNotification is the queue message for best-effort assignee pushes.
type assigneeNotification struct {
	TaskID    string   `json:"taskId"`
	ProjectID string   `json:"projectId"`
	Title     string   `json:"title"`
	Assignees []string `json:"assignees"`
}

// NotifyAssignees enqueues one notification message for the given assignees.
func (s *Storage) NotifyAssignees(ctx context.Context, t domain.Task, assignees []string) error {
	msg := assigneeNotification{
		TaskID:    t.ID,
		ProjectID: t.ProjectID,
		Title:     t.Title,
		Assignees: assignees,
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	_, err = s.notifyQueue.EnqueueMessage(ctx, string(data), nil)
	return err
}

// syncSubtaskIndex reconciles the subtask-id index with the committed
// aggregate. Index writes are not transactional with the aggregate write; a
// dangling index row only costs an extra lookup that ends in NotFound.
func (s *Storage) syncSubtaskIndex(ctx context.Context, before []domain.Subtask, t domain.Task) error {
	current := make(map[string]struct{}, len(t.Subtasks))
	for _, st := range t.Subtasks {
		current[st.ID] = struct{}{}
		ent := subtaskIndexEntity{
			Entity: aztables.Entity{PartitionKey: st.ID, RowKey: st.ID},
			TaskID: t.ID,
		}
		payload, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		if _, err := s.subtaskIndex.UpsertEntity(ctx, payload, nil); err != nil {
			return err
		}
	}
	for _, st := range before {
		if _, ok := current[st.ID]; ok {
			continue
		}
		if _, err := s.subtaskIndex.DeleteEntity(ctx, st.ID, st.ID, nil); err != nil {
			var respErr *azcore.ResponseError
			if errors.As(err, &respErr) && respErr.StatusCode == 404 {
				continue
			}
			return err
		}
	}
	return nil
}

func mapStatusError(err error) error {
	var respErr *azcore.ResponseError
	if errors.As(err, &respErr) && respErr.StatusCode == 404 {
		return domain.ErrNotFound
	}
	return err
}
