package api

import (
	"time"

	"taskmanager/internal/model"
)

// memberView 是任务响应中的成员摘要，只暴露展示所需字段。
type memberView struct {
	ID    uint   `json:"_id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Title string `json:"title,omitempty"`
	Role  string `json:"role,omitempty"`
}

type actorView struct {
	ID   uint   `json:"_id"`
	Name string `json:"name"`
}

type activityView struct {
	ID        uint       `json:"_id"`
	Type      string     `json:"type"`
	Activity  string     `json:"activity"`
	By        *actorView `json:"by,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

type taskView struct {
	ID         uint            `json:"_id"`
	Title      string          `json:"title"`
	Team       []memberView    `json:"team"`
	Stage      model.Stage     `json:"stage"`
	Priority   model.Priority  `json:"priority"`
	Date       time.Time       `json:"date"`
	Assets     []string        `json:"assets"`
	SubTasks   []model.SubTask `json:"subTasks"`
	Activities []activityView  `json:"activities"`
	IsTrashed  bool            `json:"isTrashed"`
	CreatedAt  time.Time       `json:"createdAt"`
	UpdatedAt  time.Time       `json:"updatedAt"`
}

type userView struct {
	ID        uint      `json:"_id"`
	Name      string    `json:"name"`
	Email     string    `json:"email"`
	Title     string    `json:"title"`
	Role      string    `json:"role"`
	IsAdmin   bool      `json:"isAdmin"`
	IsActive  bool      `json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
}

func newMemberView(u model.User) memberView {
	return memberView{ID: u.ID, Name: u.Name, Email: u.Email, Title: u.Title, Role: u.Role}
}

func newTaskView(t *model.Task) taskView {
	team := make([]memberView, 0, len(t.Team))
	for _, u := range t.Team {
		team = append(team, newMemberView(u))
	}
	activities := make([]activityView, 0, len(t.Activities))
	for _, a := range t.Activities {
		av := activityView{ID: a.ID, Type: a.Type, Activity: a.Activity, Timestamp: a.Timestamp}
		if a.By != nil {
			av.By = &actorView{ID: a.By.ID, Name: a.By.Name}
		} else if a.ByID != 0 {
			av.By = &actorView{ID: a.ByID}
		}
		activities = append(activities, av)
	}
	subTasks := t.SubTasks
	if subTasks == nil {
		subTasks = []model.SubTask{}
	}
	assets := t.Assets
	if assets == nil {
		assets = []string{}
	}
	return taskView{
		ID:         t.ID,
		Title:      t.Title,
		Team:       team,
		Stage:      t.Stage,
		Priority:   t.Priority,
		Date:       t.Date,
		Assets:     assets,
		SubTasks:   subTasks,
		Activities: activities,
		IsTrashed:  t.IsTrashed,
		CreatedAt:  t.CreatedAt,
		UpdatedAt:  t.UpdatedAt,
	}
}

func newTaskViews(tasks []model.Task) []taskView {
	out := make([]taskView, 0, len(tasks))
	for i := range tasks {
		out = append(out, newTaskView(&tasks[i]))
	}
	return out
}

func newUserViews(users []model.User) []userView {
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, userView{
			ID:        u.ID,
			Name:      u.Name,
			Email:     u.Email,
			Title:     u.Title,
			Role:      u.Role,
			IsAdmin:   u.IsAdmin,
			IsActive:  u.IsActive,
			CreatedAt: u.CreatedAt,
		})
	}
	return out
}
