package domain

import (
	"context"
	"sync"
)

type fakeStore struct {
	mu    sync.Mutex
	tasks map[string]Task

	// beforeSave runs once inside the next Save call, before the version
	// check, to simulate an interleaved writer.
	beforeSave func()
}

func newFakeStore() *fakeStore {
	return &fakeStore{tasks: map[string]Task{}}
}

func (f *fakeStore) Load(ctx context.Context, taskID string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tasks[taskID]
	if !ok {
		return Task{}, ErrNotFound
	}
	return t.Clone(), nil
}

func (f *fakeStore) LoadBySubtask(ctx context.Context, subtaskID string) (Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, t := range f.tasks {
		if _, ok := t.SubtaskIndex(subtaskID); ok {
			return t.Clone(), nil
		}
	}
	return Task{}, ErrNotFound
}

func (f *fakeStore) ListByProject(ctx context.Context, projectID string) ([]Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []Task{}
	for _, t := range f.tasks {
		if t.ProjectID == projectID {
			out = append(out, t.Clone())
		}
	}
	return out, nil
}

func (f *fakeStore) Insert(ctx context.Context, t Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.tasks[t.ID]; exists {
		return ErrConflict
	}
	f.tasks[t.ID] = t.Clone()
	return nil
}

func (f *fakeStore) Save(ctx context.Context, t Task, expectedVersion int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if hook := f.beforeSave; hook != nil {
		f.beforeSave = nil
		f.mu.Unlock()
		hook()
		f.mu.Lock()
	}
	cur, ok := f.tasks[t.ID]
	if !ok {
		return ErrNotFound
	}
	if cur.Version != expectedVersion {
		return ErrConflict
	}
	f.tasks[t.ID] = t.Clone()
	return nil
}

func (f *fakeStore) seed(t Task) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[t.ID] = t.Clone()
}

func (f *fakeStore) snapshot(taskID string) Task {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[taskID].Clone()
}

type fakeUsers struct {
	known map[string]bool
}

func (f *fakeUsers) UserExists(ctx context.Context, userID string) (bool, error) {
	return f.known[userID], nil
}

type capturePublisher struct {
	mu     sync.Mutex
	events []Task
	ch     chan Task
}

func newCapturePublisher() *capturePublisher {
	return &capturePublisher{ch: make(chan Task, 32)}
}

func (p *capturePublisher) Publish(ctx context.Context, t Task) error {
	p.mu.Lock()
	p.events = append(p.events, t)
	p.mu.Unlock()
	p.ch <- t
	return nil
}

func (p *capturePublisher) all() []Task {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Task, len(p.events))
	copy(out, p.events)
	return out
}

type captureNotifier struct {
	mu       sync.Mutex
	notified [][]string
	ch       chan []string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan []string, 32)}
}

func (n *captureNotifier) NotifyAssignees(ctx context.Context, t Task, assignees []string) error {
	n.mu.Lock()
	n.notified = append(n.notified, assignees)
	n.mu.Unlock()
	n.ch <- assignees
	return nil
}
