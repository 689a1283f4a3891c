package api

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
	log "github.com/sirupsen/logrus"

	"unity-api/domain"
	"unity-api/stream"
)

type flushRecorder struct{ *httptest.ResponseRecorder }

func (flushRecorder) Flush() {}

func runStream(t *testing.T, store *memStore, broker *stream.Broker, target string, during func()) *httptest.ResponseRecorder {
	t.Helper()
	svc := domain.NewTaskService(store, allUsers{}, nil, nil, log.New())
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	req.Header.Set(echo.HeaderAuthorization, "Bearer token")
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)
	handler := streamTask(svc, mockAuth{}, broker)

	errCh := make(chan error, 1)
	go func() { errCh <- handler(c) }()
	time.Sleep(100 * time.Millisecond)
	if during != nil {
		during()
		time.Sleep(100 * time.Millisecond)
	}
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	return rec.ResponseRecorder
}

func TestStreamSendsInitialTaskSnapshot(t *testing.T) {
	store := newMemStore()
	seeded := seedParentTask()
	store.tasks["task-1"] = seeded
	broker := stream.NewBroker()

	rec := runStream(t, store, broker, "/api/stream?taskId=task-1", nil)

	expectedData, _ := sonic.Marshal(stream.Event{TaskID: "task-1", ProjectID: "project-1", Version: seeded.Version, Task: seeded})
	expected := "data: " + string(expectedData) + "\n\n"
	if rec.Body.String() != expected {
		t.Fatalf("unexpected body %q", rec.Body.String())
	}
}

func TestStreamSnapshotUsesEventEnvelope(t *testing.T) {
	store := newMemStore()
	store.tasks["task-1"] = seedParentTask()
	broker := stream.NewBroker()

	rec := runStream(t, store, broker, "/api/stream?taskId=task-1", nil)

	payload := strings.TrimSuffix(strings.TrimPrefix(rec.Body.String(), "data: "), "\n\n")
	var ev stream.Event
	if err := sonic.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("snapshot is not an event envelope: %v", err)
	}
	if ev.TaskID != "task-1" || ev.Version != 3 {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
	if len(ev.Task.Subtasks) != 2 {
		t.Fatalf("snapshot task incomplete: %+v", ev.Task)
	}
}

func TestStreamSendsInitialProjectSnapshot(t *testing.T) {
	store := newMemStore()
	store.tasks["task-1"] = seedParentTask()
	broker := stream.NewBroker()

	rec := runStream(t, store, broker, "/api/stream?projectId=project-1", nil)

	payload := strings.TrimSuffix(strings.TrimPrefix(rec.Body.String(), "data: "), "\n\n")
	var ev stream.Event
	if err := sonic.Unmarshal([]byte(payload), &ev); err != nil {
		t.Fatalf("project snapshot frame is not an event envelope: %v", err)
	}
	if ev.TaskID != "task-1" || ev.ProjectID != "project-1" || ev.Version != 3 {
		t.Fatalf("unexpected envelope: %+v", ev)
	}
}

func TestStreamDeliversBroadcasts(t *testing.T) {
	store := newMemStore()
	store.tasks["task-1"] = seedParentTask()
	broker := stream.NewBroker()

	rec := runStream(t, store, broker, "/api/stream?taskId=task-1", func() {
		broker.Broadcast(stream.TaskChannel("task-1"), []byte(`{"taskId":"task-1","version":4}`))
	})

	if !strings.Contains(rec.Body.String(), `data: {"taskId":"task-1","version":4}`) {
		t.Fatalf("expected broadcast payload in body, got %q", rec.Body.String())
	}
}

func TestStreamIgnoresOtherKeys(t *testing.T) {
	store := newMemStore()
	store.tasks["task-1"] = seedParentTask()
	broker := stream.NewBroker()

	rec := runStream(t, store, broker, "/api/stream?taskId=task-1", func() {
		broker.Broadcast(stream.TaskChannel("task-2"), []byte(`{"taskId":"task-2"}`))
	})

	if strings.Contains(rec.Body.String(), "task-2") {
		t.Fatalf("received event for unrelated task: %q", rec.Body.String())
	}
}

func TestStreamRequiresExactlyOneKey(t *testing.T) {
	store := newMemStore()
	broker := stream.NewBroker()
	svc := domain.NewTaskService(store, allUsers{}, nil, nil, log.New())
	e := echo.New()

	for _, target := range []string{"/api/stream", "/api/stream?taskId=a&projectId=b"} {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.Header.Set(echo.HeaderAuthorization, "Bearer token")
		rec := flushRecorder{httptest.NewRecorder()}
		c := e.NewContext(req, rec)
		if err := streamTask(svc, mockAuth{}, broker)(c); err != nil {
			t.Fatalf("handler error: %v", err)
		}
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("target %s: expected 400, got %d", target, rec.Code)
		}
	}
}

func TestStreamTokenQueryParamAuth(t *testing.T) {
	store := newMemStore()
	store.tasks["task-1"] = seedParentTask()
	broker := stream.NewBroker()
	svc := domain.NewTaskService(store, allUsers{}, nil, nil, log.New())
	e := echo.New()

	req := httptest.NewRequest(http.MethodGet, "/api/stream?taskId=task-1&token=abc", nil)
	rec := flushRecorder{httptest.NewRecorder()}
	ctx, cancel := context.WithCancel(context.Background())
	req = req.WithContext(ctx)
	c := e.NewContext(req, rec)

	errCh := make(chan error, 1)
	go func() { errCh <- streamTask(svc, mockAuth{}, broker)(c) }()
	time.Sleep(100 * time.Millisecond)
	cancel()
	if err := <-errCh; err != nil {
		t.Fatalf("handler error: %v", err)
	}
	if !strings.HasPrefix(rec.Body.String(), "data: ") {
		t.Fatalf("expected snapshot for token auth, got %q", rec.Body.String())
	}
}
