package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/reclive/backend/internal/config"
	"github.com/reclive/backend/internal/core/ports"
	"github.com/reclive/backend/internal/core/services"
	"github.com/reclive/backend/internal/domain"
	"github.com/reclive/backend/internal/infrastructure/logger"
	"github.com/reclive/backend/internal/transport/http/dto"
	httpmw "github.com/reclive/backend/internal/transport/http/middleware"
	"github.com/stretchr/testify/require"
)

type fakeRecorder struct {
	mu       sync.Mutex
	tasks    map[string]*domain.Task
	startErr error
	stopped  []string
	inputs   []string
	deleted  []string
}

func newFakeRecorder(tasks ...domain.Task) *fakeRecorder {
	r := &fakeRecorder{tasks: make(map[string]*domain.Task)}
	for i := range tasks {
		r.tasks[tasks[i].ID] = &tasks[i]
	}
	return r
}

func (r *fakeRecorder) Start(ctx context.Context, in ports.StartTaskInput) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := fmt.Sprintf("task-%d", len(r.tasks)+1)
	status := domain.TaskStatusRunning
	if r.startErr != nil {
		if !errors.Is(r.startErr, services.ErrTaskSpawnFailed) {
			return "", r.startErr
		}
		status = domain.TaskStatusFailed
	}
	r.tasks[id] = &domain.Task{ID: id, Username: in.Username, URL: in.URL, Status: status, Options: in.Options}
	return id, r.startErr
}

func (r *fakeRecorder) Stop(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stopped = append(r.stopped, taskID)
	return nil
}

func (r *fakeRecorder) SendInput(taskID, line string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inputs = append(r.inputs, taskID+":"+line)
}

func (r *fakeRecorder) Delete(ctx context.Context, taskID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, taskID)
	r.deleted = append(r.deleted, taskID)
	return nil
}

func (r *fakeRecorder) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.tasks[taskID]
	if !ok {
		return nil, services.ErrTaskNotFound
	}
	out := *t
	return &out, nil
}

func (r *fakeRecorder) ListTasks(ctx context.Context, username string) ([]domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []domain.Task
	for _, t := range r.tasks {
		if t.Username == username {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (r *fakeRecorder) History(ctx context.Context, taskID string, limit int) ([]domain.TaskHistory, error) {
	return []domain.TaskHistory{
		{TaskID: taskID, Stream: domain.StreamStdout, Line: "first"},
		{TaskID: taskID, Stream: domain.StreamStderr, Line: fmt.Sprintf("limit=%d", limit)},
	}, nil
}

type fakeGroups struct {
	group   *domain.TaskGroup
	members []domain.Task
	stopErr error
	deleted bool
}

func (g *fakeGroups) StartGroup(ctx context.Context, in ports.StartGroupInput) (*domain.TaskGroup, error) {
	return &domain.TaskGroup{ID: "g-new", Name: in.Name, Username: in.Username, Status: domain.GroupStatusRunning, TaskCount: len(in.URLs)}, nil
}

func (g *fakeGroups) StopGroup(ctx context.Context, groupID string) error { return g.stopErr }

func (g *fakeGroups) DeleteGroup(ctx context.Context, groupID string) error {
	g.deleted = true
	return nil
}

func (g *fakeGroups) GetGroup(ctx context.Context, groupID string) (*domain.TaskGroup, []domain.Task, error) {
	if g.group == nil || g.group.ID != groupID {
		return nil, nil, services.ErrGroupNotFound
	}
	return g.group, g.members, nil
}

func (g *fakeGroups) ListGroups(ctx context.Context, username string) ([]domain.TaskGroup, error) {
	if g.group != nil && g.group.Username == username {
		return []domain.TaskGroup{*g.group}, nil
	}
	return nil, nil
}

func newTestApp(rec ports.RecordingService, groups ports.GroupService) *fiber.App {
	cfg := &config.Config{Auth: config.AuthConfig{AdminAPIKey: "secret"}}
	app := fiber.New()
	th := NewTaskHandler(rec, logger.NewNop())
	gh := NewGroupHandler(groups, logger.NewNop())

	api := app.Group("/api/v1", httpmw.AdminAuth(cfg), httpmw.RequireUser())
	api.Post("/tasks", th.StartTask)
	api.Get("/tasks", th.GetTasks)
	api.Get("/tasks/:id", th.GetTask)
	api.Get("/tasks/:id/history", th.GetHistory)
	api.Post("/tasks/:id/stop", th.StopTask)
	api.Post("/tasks/:id/input", th.SendInput)
	api.Delete("/tasks/:id", th.DeleteTask)
	api.Post("/groups", gh.StartGroup)
	api.Get("/groups", gh.GetGroups)
	api.Get("/groups/:id", gh.GetGroup)
	api.Post("/groups/:id/stop", gh.StopGroup)
	api.Delete("/groups/:id", gh.DeleteGroup)
	return app
}

func do(t *testing.T, app *fiber.App, method, path, user, body string) (int, []byte) {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Authorization", "Bearer secret")
	if user != "" {
		req.Header.Set(httpmw.UsernameHeader, user)
	}
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, raw
}

func TestAuthAndUserRequired(t *testing.T) {
	app := newTestApp(newFakeRecorder(), &fakeGroups{})

	req := httptest.NewRequest("GET", "/api/v1/tasks", nil)
	req.Header.Set(httpmw.UsernameHeader, "alice")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)

	req = httptest.NewRequest("GET", "/api/v1/tasks?token=secret&username=alice", nil)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	code, _ := do(t, app, "GET", "/api/v1/tasks", "", "")
	require.Equal(t, fiber.StatusUnauthorized, code)
}

func TestStartTask(t *testing.T) {
	rec := newFakeRecorder()
	app := newTestApp(rec, &fakeGroups{})

	code, body := do(t, app, "POST", "/api/v1/tasks", "alice", `{"url":"https://live.example.com/a.m3u8","options":{"save-name":"a"}}`)
	require.Equal(t, fiber.StatusCreated, code)
	var task dto.TaskResponse
	require.NoError(t, json.Unmarshal(body, &task))
	require.Equal(t, "alice", task.Username)
	require.Equal(t, domain.TaskStatusRunning, task.Status)
	require.Equal(t, "a", task.Options["save-name"])

	code, body = do(t, app, "POST", "/api/v1/tasks", "alice", `{"url":"ftp://nope"}`)
	require.Equal(t, fiber.StatusBadRequest, code)
	var errResp dto.ErrorResponse
	require.NoError(t, json.Unmarshal(body, &errResp))
	require.Equal(t, "validation failed", errResp.Error)
	require.NotEmpty(t, errResp.Details)

	code, _ = do(t, app, "POST", "/api/v1/tasks", "alice", `{not json`)
	require.Equal(t, fiber.StatusBadRequest, code)
}

func TestStartTaskSpawnFailureReturnsFailedTask(t *testing.T) {
	rec := newFakeRecorder()
	rec.startErr = fmt.Errorf("%w: exec: not found", services.ErrTaskSpawnFailed)
	app := newTestApp(rec, &fakeGroups{})

	code, body := do(t, app, "POST", "/api/v1/tasks", "alice", `{"url":"https://x/y.m3u8"}`)
	require.Equal(t, fiber.StatusCreated, code)
	var task dto.TaskResponse
	require.NoError(t, json.Unmarshal(body, &task))
	require.Equal(t, domain.TaskStatusFailed, task.Status)
}

func TestStartTaskServiceErrors(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{services.ErrTaskExists, fiber.StatusConflict},
		{services.ErrTaskInvalidInput, fiber.StatusBadRequest},
		{errors.New("disk on fire"), fiber.StatusInternalServerError},
	}
	for _, tc := range cases {
		rec := newFakeRecorder()
		rec.startErr = tc.err
		app := newTestApp(rec, &fakeGroups{})
		code, _ := do(t, app, "POST", "/api/v1/tasks", "alice", `{"url":"https://x/y.m3u8"}`)
		require.Equal(t, tc.want, code, tc.err.Error())
	}
}

func TestTaskOwnership(t *testing.T) {
	rec := newFakeRecorder(domain.Task{ID: "t1", Username: "alice", URL: "https://x", Status: domain.TaskStatusRunning})
	app := newTestApp(rec, &fakeGroups{})

	code, _ := do(t, app, "GET", "/api/v1/tasks/t1", "alice", "")
	require.Equal(t, fiber.StatusOK, code)

	for _, path := range []string{"/api/v1/tasks/t1", "/api/v1/tasks/missing"} {
		code, _ = do(t, app, "GET", path, "bob", "")
		require.Equal(t, fiber.StatusNotFound, code, path)
	}

	code, _ = do(t, app, "POST", "/api/v1/tasks/t1/stop", "bob", "")
	require.Equal(t, fiber.StatusNotFound, code)
	code, _ = do(t, app, "DELETE", "/api/v1/tasks/t1", "bob", "")
	require.Equal(t, fiber.StatusNotFound, code)
	require.Empty(t, rec.stopped)
	require.Empty(t, rec.deleted)

	code, body := do(t, app, "GET", "/api/v1/tasks", "bob", "")
	require.Equal(t, fiber.StatusOK, code)
	require.JSONEq(t, `[]`, string(body))
}

func TestTaskLifecycleEndpoints(t *testing.T) {
	rec := newFakeRecorder(domain.Task{ID: "t1", Username: "alice", URL: "https://x", Status: domain.TaskStatusRunning})
	app := newTestApp(rec, &fakeGroups{})

	code, body := do(t, app, "GET", "/api/v1/tasks/t1/history?limit=50", "alice", "")
	require.Equal(t, fiber.StatusOK, code)
	var lines []dto.HistoryLineResponse
	require.NoError(t, json.Unmarshal(body, &lines))
	require.Len(t, lines, 2)
	require.Equal(t, "limit=50", lines[1].Line)

	code, _ = do(t, app, "GET", "/api/v1/tasks/t1/history?limit=-1", "alice", "")
	require.Equal(t, fiber.StatusBadRequest, code)

	code, _ = do(t, app, "POST", "/api/v1/tasks/t1/input", "alice", `{"data":"p"}`)
	require.Equal(t, fiber.StatusAccepted, code)
	require.Equal(t, []string{"t1:p"}, rec.inputs)

	code, _ = do(t, app, "POST", "/api/v1/tasks/t1/stop", "alice", "")
	require.Equal(t, fiber.StatusOK, code)
	require.Equal(t, []string{"t1"}, rec.stopped)

	code, _ = do(t, app, "DELETE", "/api/v1/tasks/t1", "alice", "")
	require.Equal(t, fiber.StatusNoContent, code)
	code, _ = do(t, app, "GET", "/api/v1/tasks/t1", "alice", "")
	require.Equal(t, fiber.StatusNotFound, code)
}

func TestGroupEndpoints(t *testing.T) {
	groups := &fakeGroups{
		group:   &domain.TaskGroup{ID: "g1", Name: "Batch", Username: "alice", Status: domain.GroupStatusRunning, TaskCount: 2},
		members: []domain.Task{{ID: "g1-1", Username: "alice"}, {ID: "g1-2", Username: "alice"}},
	}
	app := newTestApp(newFakeRecorder(), groups)

	code, body := do(t, app, "POST", "/api/v1/groups", "alice", `{"name":"N","urls":["https://a/1.m3u8","https://a/2.m3u8"]}`)
	require.Equal(t, fiber.StatusCreated, code)
	var created dto.GroupResponse
	require.NoError(t, json.Unmarshal(body, &created))
	require.Equal(t, 2, created.TaskCount)

	code, _ = do(t, app, "POST", "/api/v1/groups", "alice", `{"urls":[]}`)
	require.Equal(t, fiber.StatusBadRequest, code)

	code, body = do(t, app, "GET", "/api/v1/groups/g1", "alice", "")
	require.Equal(t, fiber.StatusOK, code)
	var detail dto.GroupDetailResponse
	require.NoError(t, json.Unmarshal(body, &detail))
	require.Len(t, detail.Tasks, 2)

	code, _ = do(t, app, "GET", "/api/v1/groups/g1", "bob", "")
	require.Equal(t, fiber.StatusNotFound, code)

	groups.stopErr = errors.New("g1-2: boom")
	code, body = do(t, app, "POST", "/api/v1/groups/g1/stop", "alice", "")
	require.Equal(t, fiber.StatusMultiStatus, code)
	require.Contains(t, string(body), "g1-2: boom")

	code, _ = do(t, app, "DELETE", "/api/v1/groups/g1", "bob", "")
	require.Equal(t, fiber.StatusNotFound, code)
	require.False(t, groups.deleted)
	code, _ = do(t, app, "DELETE", "/api/v1/groups/g1", "alice", "")
	require.Equal(t, fiber.StatusNoContent, code)
	require.True(t, groups.deleted)
}
