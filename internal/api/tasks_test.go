package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"taskmanager/internal/config"
	"taskmanager/internal/dashboard"
	"taskmanager/internal/lifecycle"
	"taskmanager/internal/model"
	"taskmanager/internal/pkg/apperr"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/store"
)

type mockTaskService struct {
	createFunc    func(ctx context.Context, caller model.Caller, in lifecycle.CreateInput) (*model.Task, error)
	getFunc       func(ctx context.Context, id uint) (*model.Task, error)
	listFunc      func(ctx context.Context, filter store.TaskFilter) ([]model.Task, error)
	deleteFunc    func(ctx context.Context, id uint, action lifecycle.Action) (int64, error)
	createCalls   int
	lastFilter    store.TaskFilter
	lastDeleteID  uint
	lastAction    lifecycle.Action
	lastActivity  string
	lastSubTaskIn lifecycle.SubTaskInput
}

func (m *mockTaskService) Create(ctx context.Context, caller model.Caller, in lifecycle.CreateInput) (*model.Task, error) {
	m.createCalls++
	return m.createFunc(ctx, caller, in)
}

func (m *mockTaskService) Duplicate(ctx context.Context, caller model.Caller, id uint) (*model.Task, error) {
	return &model.Task{ID: id + 100, Title: "copy - Duplicate"}, nil
}

func (m *mockTaskService) PostActivity(ctx context.Context, caller model.Caller, id uint, activityType, text string) (*model.Activity, error) {
	m.lastActivity = activityType
	return &model.Activity{ID: 1, Type: activityType, Activity: text, ByID: caller.UserID}, nil
}

func (m *mockTaskService) AddSubTask(ctx context.Context, id uint, in lifecycle.SubTaskInput) (*model.SubTask, error) {
	m.lastSubTaskIn = in
	return &model.SubTask{ID: 1, TaskID: id, Title: in.Title, Tag: in.Tag, Date: in.Date}, nil
}

func (m *mockTaskService) Update(ctx context.Context, id uint, in lifecycle.UpdateInput) (*model.Task, error) {
	return &model.Task{ID: id, Title: in.Title}, nil
}

func (m *mockTaskService) Trash(ctx context.Context, id uint) error {
	return nil
}

func (m *mockTaskService) DeleteOrRestore(ctx context.Context, id uint, action lifecycle.Action) (int64, error) {
	m.lastDeleteID = id
	m.lastAction = action
	if m.deleteFunc != nil {
		return m.deleteFunc(ctx, id, action)
	}
	return 1, nil
}

func (m *mockTaskService) Get(ctx context.Context, id uint) (*model.Task, error) {
	return m.getFunc(ctx, id)
}

func (m *mockTaskService) List(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	m.lastFilter = filter
	if m.listFunc != nil {
		return m.listFunc(ctx, filter)
	}
	return []model.Task{}, nil
}

type mockDeduper struct {
	dupFunc     func(ctx context.Context, scope, key string) (bool, error)
	calls       int
	deleteCalls int
	lastScope   string
}

func (m *mockDeduper) IsDuplicate(ctx context.Context, scope, key string) (bool, error) {
	m.calls++
	m.lastScope = scope
	return m.dupFunc(ctx, scope, key)
}

func (m *mockDeduper) Delete(ctx context.Context, scope, key string) error {
	m.deleteCalls++
	return nil
}

type mockDashboard struct {
	summary    *dashboard.Summary
	lastPolicy dashboard.Policy
}

func (m *mockDashboard) Summarize(ctx context.Context, policy dashboard.Policy) (*dashboard.Summary, error) {
	m.lastPolicy = policy
	return m.summary, nil
}

func newTestServer(svc TaskService, deduper Deduper, dash DashboardBuilder) *Server {
	gin.SetMode(gin.TestMode)
	metrics.InitMetrics()
	return &Server{
		cfg:       &config.Config{},
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		tasks:     svc,
		deduper:   deduper,
		dashboard: dash,
	}
}

// asCaller 模拟认证中间件写入的上下文。
func asCaller(userID uint, isAdmin bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Set("userID", userID)
		c.Set("isAdmin", isAdmin)
		c.Set("email", "caller@example.com")
		c.Next()
	}
}

func doRequest(r http.Handler, method, target string, body []byte, headers map[string]string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCreateTask_Normal(t *testing.T) {
	var got lifecycle.CreateInput
	svc := &mockTaskService{createFunc: func(ctx context.Context, caller model.Caller, in lifecycle.CreateInput) (*model.Task, error) {
		got = in
		return &model.Task{
			ID:       1,
			Title:    in.Title,
			Team:     []model.User{{ID: 1, Name: "Alice", Email: "alice@example.com", Password: "hash"}},
			Stage:    model.StageInitial,
			Priority: model.PriorityHigh,
			Date:     in.Date,
		}, nil
	}}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.POST("/tasks", asCaller(9, true), s.handleCreateTask)

	payload := []byte(`{"title":"Ship","team":[1],"stage":"initial stage","priority":"high","date":"2025-01-01"}`)
	w := doRequest(r, http.MethodPost, "/tasks", payload, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if svc.createCalls != 1 {
		t.Fatalf("expected create to be called once")
	}
	if !got.Date.Equal(time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)) || len(got.Team) != 1 {
		t.Fatalf("unexpected input %+v", got)
	}
	body := decodeBody(t, w)
	if body["status"] != true || body["message"] != "Task created successfully." {
		t.Fatalf("unexpected body %v", body)
	}
	if strings.Contains(w.Body.String(), "hash") {
		t.Fatalf("password hash leaked in response: %s", w.Body.String())
	}
}

func TestCreateTask_InvalidBody(t *testing.T) {
	svc := &mockTaskService{}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.POST("/tasks", asCaller(1, true), s.handleCreateTask)

	w := doRequest(r, http.MethodPost, "/tasks", []byte("{"), nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if svc.createCalls != 0 {
		t.Fatalf("expected no create on invalid body")
	}
}

func TestCreateTask_InvalidDate(t *testing.T) {
	svc := &mockTaskService{}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.POST("/tasks", asCaller(1, true), s.handleCreateTask)

	w := doRequest(r, http.MethodPost, "/tasks", []byte(`{"title":"x","team":[1],"stage":"todo","priority":"high","date":"tomorrow"}`), nil)
	if w.Code != http.StatusBadRequest || svc.createCalls != 0 {
		t.Fatalf("expected 400 without create, got %d calls=%d", w.Code, svc.createCalls)
	}
}

func TestCreateTask_IdempotentReplay(t *testing.T) {
	svc := &mockTaskService{}
	deduper := &mockDeduper{dupFunc: func(ctx context.Context, scope, key string) (bool, error) { return true, nil }}
	s := newTestServer(svc, deduper, nil)
	r := gin.New()
	r.POST("/tasks", asCaller(7, true), s.handleCreateTask)

	payload := []byte(`{"title":"Ship","team":[1],"stage":"todo","priority":"high","date":"2025-01-01"}`)
	w := doRequest(r, http.MethodPost, "/tasks", payload, map[string]string{IdempotencyHeader: "abc"})

	if w.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", w.Code)
	}
	if svc.createCalls != 0 {
		t.Fatalf("expected no create on replay")
	}
	if deduper.lastScope != "user:7" {
		t.Fatalf("expected scope user:7, got %q", deduper.lastScope)
	}
}

func TestCreateTask_FailureReleasesIdempotencyKey(t *testing.T) {
	svc := &mockTaskService{createFunc: func(ctx context.Context, caller model.Caller, in lifecycle.CreateInput) (*model.Task, error) {
		return nil, apperr.Validation("Some selected users are invalid.")
	}}
	deduper := &mockDeduper{dupFunc: func(ctx context.Context, scope, key string) (bool, error) { return false, nil }}
	s := newTestServer(svc, deduper, nil)
	r := gin.New()
	r.POST("/tasks", asCaller(1, true), s.handleCreateTask)

	payload := []byte(`{"title":"Ship","team":[1,99],"stage":"todo","priority":"high","date":"2025-01-01"}`)
	w := doRequest(r, http.MethodPost, "/tasks", payload, map[string]string{IdempotencyHeader: "abc"})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
	if body := decodeBody(t, w); body["message"] != "Some selected users are invalid." {
		t.Fatalf("unexpected message %v", body["message"])
	}
	if deduper.deleteCalls != 1 {
		t.Fatalf("expected idempotency key to be released")
	}
}

func TestCreateTask_WithoutKeySkipsDedup(t *testing.T) {
	svc := &mockTaskService{createFunc: func(ctx context.Context, caller model.Caller, in lifecycle.CreateInput) (*model.Task, error) {
		return &model.Task{ID: 1}, nil
	}}
	deduper := &mockDeduper{dupFunc: func(ctx context.Context, scope, key string) (bool, error) { return true, nil }}
	s := newTestServer(svc, deduper, nil)
	r := gin.New()
	r.POST("/tasks", asCaller(1, true), s.handleCreateTask)

	payload := []byte(`{"title":"Ship","team":[1],"stage":"todo","priority":"high","date":"2025-01-01"}`)
	w := doRequest(r, http.MethodPost, "/tasks", payload, nil)
	if w.Code != http.StatusOK || deduper.calls != 0 {
		t.Fatalf("expected create without dedup, got %d calls=%d", w.Code, deduper.calls)
	}
}

func TestGetTask_StatusMapping(t *testing.T) {
	svc := &mockTaskService{getFunc: func(ctx context.Context, id uint) (*model.Task, error) {
		switch id {
		case 404:
			return nil, apperr.NotFound("task", id)
		case 500:
			return nil, errors.New("connection refused: secret-host:3306")
		}
		return &model.Task{
			ID:    id,
			Title: "Ship",
			Activities: []model.Activity{
				{ID: 1, Type: "assigned", ByID: 2, By: &model.User{ID: 2, Name: "Bob", Email: "bob@example.com"}},
			},
		}, nil
	}}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.GET("/tasks/:id", asCaller(1, false), s.handleGetTask)

	cases := []struct {
		path   string
		status int
	}{
		{"/tasks/1", http.StatusOK},
		{"/tasks/404", http.StatusNotFound},
		{"/tasks/500", http.StatusInternalServerError},
		{"/tasks/abc", http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := doRequest(r, http.MethodGet, tc.path, nil, nil)
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.path, tc.status, w.Code)
		}
		if tc.status == http.StatusInternalServerError && strings.Contains(w.Body.String(), "secret-host") {
			t.Fatalf("internal error detail leaked: %s", w.Body.String())
		}
	}

	w := doRequest(r, http.MethodGet, "/tasks/1", nil, nil)
	if !strings.Contains(w.Body.String(), `"by":{"_id":2,"name":"Bob"}`) {
		t.Fatalf("expected activity actor summary, got %s", w.Body.String())
	}
	if strings.Contains(w.Body.String(), "bob@example.com") {
		t.Fatalf("activity actor should only expose id and name")
	}
}

func TestListTasks_QueryFilters(t *testing.T) {
	svc := &mockTaskService{}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.GET("/tasks", asCaller(1, false), s.handleListTasks)

	w := doRequest(r, http.MethodGet, "/tasks?stage=In-Progress&isTrashed=true", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastFilter.Trashed == nil || !*svc.lastFilter.Trashed || svc.lastFilter.Stage != model.StageInProgress {
		t.Fatalf("unexpected filter %+v", svc.lastFilter)
	}
	if svc.lastFilter.MemberID != 0 {
		t.Fatalf("task list should not be scoped to the caller")
	}

	doRequest(r, http.MethodGet, "/tasks", nil, nil)
	if svc.lastFilter.Trashed == nil || *svc.lastFilter.Trashed {
		t.Fatalf("expected default to non-trashed tasks, got %+v", svc.lastFilter)
	}

	if w := doRequest(r, http.MethodGet, "/tasks?stage=blocked", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown stage, got %d", w.Code)
	}
	if w := doRequest(r, http.MethodGet, "/tasks?isTrashed=maybe", nil, nil); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid isTrashed, got %d", w.Code)
	}
}

func TestDashboard_ResponseShape(t *testing.T) {
	stages := dashboard.NewCounts()
	stages.Add("in progress")
	stages.Add("completed")
	stages.Add("in progress")
	dash := &mockDashboard{summary: &dashboard.Summary{
		TotalTasks:        3,
		RecentTasks:       []model.Task{{ID: 3}, {ID: 2}, {ID: 1}},
		RecentUsers:       []model.User{},
		GroupedByStage:    stages,
		GroupedByPriority: []dashboard.NameTotal{{Name: "high", Total: 3}},
	}}
	s := newTestServer(&mockTaskService{}, nil, dash)
	r := gin.New()
	r.GET("/dashboard", asCaller(5, false), s.handleDashboard)

	w := doRequest(r, http.MethodGet, "/dashboard", nil, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"tasks":{"in progress":2,"completed":1}`) {
		t.Fatalf("expected stage counts in first-seen order, got %s", w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"users":[]`) {
		t.Fatalf("expected empty users list, got %s", w.Body.String())
	}
	if dash.lastPolicy.Scope != dashboard.ScopeMember || dash.lastPolicy.MemberID != 5 {
		t.Fatalf("unexpected policy %+v", dash.lastPolicy)
	}
	body := decodeBody(t, w)
	for _, key := range []string{"status", "message", "totalTasks", "last10Task", "users", "tasks", "graphData"} {
		if _, ok := body[key]; !ok {
			t.Fatalf("missing key %q in %v", key, body)
		}
	}
}

func TestDeleteRestore_Actions(t *testing.T) {
	svc := &mockTaskService{}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.DELETE("/tasks/:id", asCaller(1, true), s.handleDeleteRestore)
	r.PUT("/tasks/delete-restore/:id", asCaller(1, true), s.handleDeleteRestore)
	r.DELETE("/tasks/delete-restore", asCaller(1, true), s.handleDeleteRestore)

	if w := doRequest(r, http.MethodDelete, "/tasks/5?actionType=delete", nil, nil); w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastDeleteID != 5 || svc.lastAction != lifecycle.ActionDelete {
		t.Fatalf("unexpected call id=%d action=%s", svc.lastDeleteID, svc.lastAction)
	}

	doRequest(r, http.MethodPut, "/tasks/delete-restore/6?actionType=restore", nil, nil)
	if svc.lastDeleteID != 6 || svc.lastAction != lifecycle.ActionRestore {
		t.Fatalf("unexpected call id=%d action=%s", svc.lastDeleteID, svc.lastAction)
	}

	doRequest(r, http.MethodDelete, "/tasks/delete-restore?actionType=deleteAll", nil, nil)
	if svc.lastDeleteID != 0 || svc.lastAction != lifecycle.ActionDeleteAll {
		t.Fatalf("unexpected call id=%d action=%s", svc.lastDeleteID, svc.lastAction)
	}

	svc.lastAction = ""
	w := doRequest(r, http.MethodDelete, "/tasks/5?actionType=purge", nil, nil)
	if w.Code != http.StatusBadRequest || svc.lastAction != "" {
		t.Fatalf("expected 400 without service call, got %d action=%q", w.Code, svc.lastAction)
	}
}

func TestAddSubTask_ParsesDate(t *testing.T) {
	svc := &mockTaskService{}
	s := newTestServer(svc, nil, nil)
	r := gin.New()
	r.POST("/tasks/:id/subtask", asCaller(1, true), s.handleAddSubTask)

	w := doRequest(r, http.MethodPost, "/tasks/3/subtask", []byte(`{"title":"Write docs","tag":"docs","date":"2025-02-03"}`), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if svc.lastSubTaskIn.Date == nil || svc.lastSubTaskIn.Date.Day() != 3 {
		t.Fatalf("expected parsed date, got %+v", svc.lastSubTaskIn)
	}

	doRequest(r, http.MethodPost, "/tasks/3/subtask", []byte(`{"title":"No date"}`), nil)
	if svc.lastSubTaskIn.Date != nil {
		t.Fatalf("expected nil date when omitted")
	}
}

func TestParseDate(t *testing.T) {
	cases := []struct {
		in      string
		want    time.Time
		wantErr bool
	}{
		{"", time.Time{}, false},
		{"2025-01-01", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), false},
		{"2025-01-01T10:30:00Z", time.Date(2025, 1, 1, 10, 30, 0, 0, time.UTC), false},
		{"2025-01-01T10:30:00+02:00", time.Date(2025, 1, 1, 8, 30, 0, 0, time.UTC), false},
		{"01/02/2025", time.Time{}, true},
	}
	for _, tc := range cases {
		got, err := parseDate(tc.in)
		if (err != nil) != tc.wantErr {
			t.Fatalf("%q: unexpected error %v", tc.in, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("%q: expected %v, got %v", tc.in, tc.want, got)
		}
	}
}
