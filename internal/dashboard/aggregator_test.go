package dashboard

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"sort"
	"testing"

	"taskmanager/internal/model"
	"taskmanager/internal/store"
)

type fakeTasks struct {
	tasks []model.Task
	calls int
}

func (f *fakeTasks) ListTasks(ctx context.Context, filter store.TaskFilter) ([]model.Task, error) {
	f.calls++
	out := []model.Task{}
	for _, t := range f.tasks {
		if filter.Trashed != nil && t.IsTrashed != *filter.Trashed {
			continue
		}
		if filter.MemberID != 0 && !t.HasMember(filter.MemberID) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out, nil
}

type fakeUsers struct {
	users []model.User
	calls int
}

func (f *fakeUsers) RecentActiveUsers(ctx context.Context, limit int) ([]model.User, error) {
	f.calls++
	if len(f.users) > limit {
		return f.users[:limit], nil
	}
	return f.users, nil
}

func task(id uint, stage model.Stage, priority model.Priority, members ...uint) model.Task {
	t := model.Task{ID: id, Title: "t", Stage: stage, Priority: priority}
	for _, m := range members {
		t.Team = append(t.Team, model.User{ID: m})
	}
	return t
}

func newAggregator(tasks []model.Task) (*Aggregator, *fakeTasks, *fakeUsers) {
	ft := &fakeTasks{tasks: tasks}
	fu := &fakeUsers{users: []model.User{{ID: 3, Name: "Carol"}, {ID: 2, Name: "Bob"}, {ID: 1, Name: "Alice"}}}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewAggregator(ft, fu, logger, 10), ft, fu
}

func TestSummarize_NonAdminScope(t *testing.T) {
	t1 := task(1, model.StageInitial, model.PriorityHigh, 1, 2)
	t2 := task(2, model.StageInitial, model.PriorityHigh, 1)
	agg, _, users := newAggregator([]model.Task{t1, t2})

	summary, err := agg.Summarize(context.Background(), PolicyFor(model.Caller{UserID: 2}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTasks != 1 || summary.RecentTasks[0].ID != 1 {
		t.Fatalf("expected working set {T1}, got %d tasks", summary.TotalTasks)
	}
	for _, rt := range summary.RecentTasks {
		if !rt.HasMember(2) {
			t.Fatalf("non-admin summary leaked task %d", rt.ID)
		}
	}
	if summary.RecentUsers == nil || len(summary.RecentUsers) != 0 {
		t.Fatalf("expected empty users for non-admin, got %v", summary.RecentUsers)
	}
	if users.calls != 0 {
		t.Fatalf("expected user directory not queried for non-admin")
	}
}

func TestSummarize_AdminSeesAllAndUsers(t *testing.T) {
	trashed := task(4, model.StageCompleted, model.PriorityLow, 1)
	trashed.IsTrashed = true
	agg, ft, _ := newAggregator([]model.Task{
		task(1, model.StageInitial, model.PriorityHigh, 1),
		task(2, model.StageInProgress, model.PriorityLow, 2),
		task(3, model.StageInitial, model.PriorityHigh, 3),
		trashed,
	})

	summary, err := agg.Summarize(context.Background(), PolicyFor(model.Caller{UserID: 1, IsAdmin: true}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTasks != 3 {
		t.Fatalf("expected 3 non-trashed tasks, got %d", summary.TotalTasks)
	}
	if len(summary.RecentUsers) != 3 {
		t.Fatalf("expected recent users for admin, got %d", len(summary.RecentUsers))
	}
	if summary.GroupedByStage.Sum() != summary.TotalTasks {
		t.Fatalf("expected stage counts to sum to total")
	}
	// 最新在前：T3(initial), T2(in progress), T1(initial)
	keys := summary.GroupedByStage.Keys()
	if len(keys) != 2 || keys[0] != string(model.StageInitial) || keys[1] != string(model.StageInProgress) {
		t.Fatalf("expected first-seen stage order, got %v", keys)
	}
	if summary.GroupedByStage.Get(string(model.StageCompleted)) != 0 {
		t.Fatalf("expected no zero-filled completed bucket")
	}
	graph := summary.GroupedByPriority
	if len(graph) != 2 || graph[0] != (NameTotal{Name: "high", Total: 2}) || graph[1] != (NameTotal{Name: "low", Total: 1}) {
		t.Fatalf("unexpected graph data %+v", graph)
	}
	if ft.calls != 1 {
		t.Fatalf("expected working set loaded once, got %d", ft.calls)
	}
}

func TestSummarize_RecentLimit(t *testing.T) {
	var tasks []model.Task
	for i := uint(1); i <= 15; i++ {
		tasks = append(tasks, task(i, model.StageInitial, model.PriorityNormal, 1))
	}
	agg, _, _ := newAggregator(tasks)

	summary, err := agg.Summarize(context.Background(), PolicyFor(model.Caller{UserID: 1, IsAdmin: true}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTasks != 15 || len(summary.RecentTasks) != 10 {
		t.Fatalf("expected 15 total and 10 recent, got %d/%d", summary.TotalTasks, len(summary.RecentTasks))
	}
	if summary.RecentTasks[0].ID != 15 {
		t.Fatalf("expected most recent first, got %d", summary.RecentTasks[0].ID)
	}
}

func TestSummarize_Empty(t *testing.T) {
	agg, _, _ := newAggregator(nil)
	summary, err := agg.Summarize(context.Background(), PolicyFor(model.Caller{UserID: 9}))
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTasks != 0 || summary.RecentTasks == nil || len(summary.GroupedByPriority) != 0 {
		t.Fatalf("expected empty summary, got %+v", summary)
	}
	data, _ := json.Marshal(summary.GroupedByStage)
	if string(data) != "{}" {
		t.Fatalf("expected empty object, got %s", data)
	}
}

func TestCounts_MarshalOrder(t *testing.T) {
	c := NewCounts()
	c.Add("in progress")
	c.Add("initial stage")
	c.Add("in progress")

	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"in progress":2,"initial stage":1}`
	if string(data) != want {
		t.Fatalf("expected %s, got %s", want, data)
	}
}

func TestPolicyFor(t *testing.T) {
	p := PolicyFor(model.Caller{UserID: 5})
	f := p.TaskFilter()
	if p.IncludeUsers || f.MemberID != 5 || f.Trashed == nil || *f.Trashed {
		t.Fatalf("unexpected member policy %+v filter %+v", p, f)
	}
	p = PolicyFor(model.Caller{UserID: 5, IsAdmin: true})
	if f := p.TaskFilter(); !p.IncludeUsers || f.MemberID != 0 {
		t.Fatalf("unexpected admin policy %+v", p)
	}
}
