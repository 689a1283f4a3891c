package domain

import (
	"context"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

// Store is the aggregate store. Save must be atomic: either the whole
// aggregate is persisted under the new version or nothing changes. It returns
// ErrConflict when the stored version no longer equals expectedVersion.
type Store interface {
	Load(ctx context.Context, taskID string) (Task, error)
	LoadBySubtask(ctx context.Context, subtaskID string) (Task, error)
	ListByProject(ctx context.Context, projectID string) ([]Task, error)
	Insert(ctx context.Context, t Task) error
	Save(ctx context.Context, t Task, expectedVersion int64) error
}

// UserDirectory reports whether an assignee id refers to a known user. The
// lookup is delegated to the user store; the pipeline treats it as an
// external collaborator.
type UserDirectory interface {
	UserExists(ctx context.Context, userID string) (bool, error)
}

// Publisher fans a committed aggregate snapshot out to live subscribers.
// Delivery is at-least-once and best effort; a failure never unwinds the
// already-committed mutation.
type Publisher interface {
	Publish(ctx context.Context, t Task) error
}

// Notifier delivers best-effort assignee notifications after a commit.
type Notifier interface {
	NotifyAssignees(ctx context.Context, t Task, assignees []string) error
}

const defaultPublishTimeout = 10 * time.Second

// TaskService runs every mutation through the same load, patch, commit,
// publish cycle. All methods are safe for concurrent use; the version check
// in Save serializes writers per aggregate.
type TaskService struct {
	store  Store
	users  UserDirectory
	pub    Publisher
	notify Notifier
	logger *log.Logger

	publishTimeout time.Duration
	now            func() time.Time
}

// NewTaskService wires the mutation pipeline. notify may be nil when assignee
// notifications are not configured.
func NewTaskService(store Store, users UserDirectory, pub Publisher, notify Notifier, logger *log.Logger) *TaskService {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &TaskService{
		store:          store,
		users:          users,
		pub:            pub,
		notify:         notify,
		logger:         logger,
		publishTimeout: defaultPublishTimeout,
		now:            time.Now,
	}
}

// Get returns the full aggregate: task fields and the complete subtask
// sequence.
func (s *TaskService) Get(ctx context.Context, taskID string) (Task, error) {
	return s.store.Load(ctx, taskID)
}

// ListProject returns all aggregates belonging to a project.
func (s *TaskService) ListProject(ctx context.Context, projectID string) ([]Task, error) {
	return s.store.ListByProject(ctx, projectID)
}

// NewTask carries the fields accepted at task creation.
type NewTask struct {
	Title     string
	ProjectID string
	Status    string
	DueDate   *time.Time
	Assignees []string
}

// Create persists a fresh aggregate with an empty subtask sequence and
// version 0.
func (s *TaskService) Create(ctx context.Context, in NewTask) (Task, error) {
	if in.Title == "" {
		return Task{}, Validationf("title is required")
	}
	if in.ProjectID == "" {
		return Task{}, Validationf("projectId is required")
	}
	status := StatusTodo
	if in.Status != "" {
		parsed, err := ParseStatus(in.Status)
		if err != nil {
			return Task{}, err
		}
		status = parsed
	}
	assignees := NormalizeAssignees(in.Assignees)
	if err := s.checkAssignees(ctx, assignees); err != nil {
		return Task{}, err
	}
	t := Task{
		ID:        uuid.NewString(),
		ProjectID: in.ProjectID,
		Title:     in.Title,
		Status:    status,
		Assignees: assignees,
		DueDate:   in.DueDate,
		Subtasks:  []Subtask{},
		Version:   0,
		UpdatedAt: s.now(),
	}
	if err := s.store.Insert(ctx, t); err != nil {
		return Task{}, err
	}
	s.fanOut(t)
	s.notifyAssigned(t, assignees)
	return t, nil
}

// PatchFields applies a general field patch (title, due date, assignees).
// The patch type cannot express a subtasks change, so the sequence is carried
// through the commit untouched. An empty patch short-circuits without a
// commit or broadcast.
func (s *TaskService) PatchFields(ctx context.Context, taskID string, p TaskPatch) (Task, error) {
	if p.IsEmpty() {
		return s.store.Load(ctx, taskID)
	}
	if ids, ok := p.Assignees.Get(); ok {
		if err := s.checkAssignees(ctx, NormalizeAssignees(ids)); err != nil {
			return Task{}, err
		}
	}
	cur, err := s.store.Load(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	next, err := ApplyTaskPatch(cur, p)
	if err != nil {
		return Task{}, err
	}
	committed, err := s.commit(ctx, next, cur.Version)
	if err != nil {
		return Task{}, err
	}
	if ids, ok := p.Assignees.Get(); ok {
		s.notifyAssigned(committed, added(cur.Assignees, NormalizeAssignees(ids)))
	}
	return committed, nil
}

// SetStatus validates the move against the transition table and commits a
// patch containing only the status field.
func (s *TaskService) SetStatus(ctx context.Context, taskID string, target Status) (Task, error) {
	cur, err := s.store.Load(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if cur.Status == target {
		return cur, nil
	}
	if !cur.Status.CanTransitionTo(target) {
		return Task{}, Validationf("illegal status transition %s -> %s", cur.Status, target)
	}
	next := cur.Clone()
	next.Status = target
	return s.commit(ctx, next, cur.Version)
}

// SetAssignees replaces the assignee set. Each id must resolve to a known
// user. Sending the current set is a no-op.
func (s *TaskService) SetAssignees(ctx context.Context, taskID string, assignees []string) (Task, error) {
	ids := NormalizeAssignees(assignees)
	if err := s.checkAssignees(ctx, ids); err != nil {
		return Task{}, err
	}
	cur, err := s.store.Load(ctx, taskID)
	if err != nil {
		return Task{}, err
	}
	if sameAssignees(cur.Assignees, ids) {
		return cur, nil
	}
	next := cur.Clone()
	next.Assignees = ids
	committed, err := s.commit(ctx, next, cur.Version)
	if err != nil {
		return Task{}, err
	}
	s.notifyAssigned(committed, added(cur.Assignees, ids))
	return committed, nil
}

// CreateSubtask appends a subtask to the end of the parent's sequence and
// commits the whole aggregate.
func (s *TaskService) CreateSubtask(ctx context.Context, taskID, title string, isCompleted bool) (Subtask, Task, error) {
	if title == "" {
		return Subtask{}, Task{}, Validationf("subtask title is required")
	}
	cur, err := s.store.Load(ctx, taskID)
	if err != nil {
		return Subtask{}, Task{}, err
	}
	st := Subtask{
		ID:           uuid.NewString(),
		ParentTaskID: cur.ID,
		Title:        title,
		IsCompleted:  isCompleted,
		Order:        len(cur.Subtasks),
	}
	next := cur.Clone()
	next.Subtasks = append(next.Subtasks, st)
	committed, err := s.commit(ctx, next, cur.Version)
	if err != nil {
		return Subtask{}, Task{}, err
	}
	return st, committed, nil
}

// UpdateSubtask merges a subtask-scoped patch into the identified subtask.
// Sibling subtasks and parent task fields pass through unchanged; the commit
// still runs on the parent aggregate, so it serializes against concurrent
// task-field mutations.
func (s *TaskService) UpdateSubtask(ctx context.Context, subtaskID string, p SubtaskPatch) (Subtask, Task, error) {
	cur, err := s.store.LoadBySubtask(ctx, subtaskID)
	if err != nil {
		return Subtask{}, Task{}, err
	}
	i, ok := cur.SubtaskIndex(subtaskID)
	if !ok {
		return Subtask{}, Task{}, ErrNotFound
	}
	if p.IsEmpty() {
		return cur.Subtasks[i], cur, nil
	}
	updated, err := ApplySubtaskPatch(cur.Subtasks[i], p)
	if err != nil {
		return Subtask{}, Task{}, err
	}
	next := cur.Clone()
	next.Subtasks[i] = updated
	committed, err := s.commit(ctx, next, cur.Version)
	if err != nil {
		return Subtask{}, Task{}, err
	}
	return updated, committed, nil
}

// DeleteSubtask removes the subtask from its parent's sequence and compacts
// the order positions of the remaining subtasks.
func (s *TaskService) DeleteSubtask(ctx context.Context, subtaskID string) (Task, error) {
	cur, err := s.store.LoadBySubtask(ctx, subtaskID)
	if err != nil {
		return Task{}, err
	}
	i, ok := cur.SubtaskIndex(subtaskID)
	if !ok {
		return Task{}, ErrNotFound
	}
	next := cur.Clone()
	next.Subtasks = append(next.Subtasks[:i], next.Subtasks[i+1:]...)
	for j := range next.Subtasks {
		next.Subtasks[j].Order = j
	}
	return s.commit(ctx, next, cur.Version)
}

// commit is the consistency guard: the new state is persisted only if the
// stored version still equals the one read at the start of the cycle. On
// success the snapshot is handed to the publisher off the caller's path.
func (s *TaskService) commit(ctx context.Context, next Task, expectedVersion int64) (Task, error) {
	next.Version = expectedVersion + 1
	next.UpdatedAt = s.now()
	if err := s.store.Save(ctx, next, expectedVersion); err != nil {
		return Task{}, err
	}
	s.fanOut(next)
	return next, nil
}

// fanOut publishes the post-commit snapshot asynchronously. Failures are
// logged and dropped: clients that miss an event re-fetch on reconnect.
func (s *TaskService) fanOut(t Task) {
	if s.pub == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		defer cancel()
		if err := s.pub.Publish(ctx, t); err != nil {
			s.logger.WithFields(log.Fields{"task": t.ID, "version": t.Version}).Errorf("publish failed: %v", err)
		}
	}()
}

func (s *TaskService) notifyAssigned(t Task, assignees []string) {
	if s.notify == nil || len(assignees) == 0 {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.publishTimeout)
		defer cancel()
		if err := s.notify.NotifyAssignees(ctx, t, assignees); err != nil {
			s.logger.WithFields(log.Fields{"task": t.ID}).Warnf("assignee notification failed: %v", err)
		}
	}()
}

func (s *TaskService) checkAssignees(ctx context.Context, ids []string) error {
	for _, id := range ids {
		exists, err := s.users.UserExists(ctx, id)
		if err != nil {
			return err
		}
		if !exists {
			return Validationf("unknown assignee %q", id)
		}
	}
	return nil
}

// added returns the ids in next that are not in prev.
func added(prev, next []string) []string {
	before := make(map[string]struct{}, len(prev))
	for _, id := range prev {
		before[id] = struct{}{}
	}
	var out []string
	for _, id := range next {
		if _, ok := before[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
