package model

import (
	"strings"
	"time"
)

// Stage 表示任务所处的工作流阶段。
type Stage string

const (
	StageInitial    Stage = "initial stage"
	StageInProgress Stage = "in progress"
	StageCompleted  Stage = "completed"
)

// Priority 表示任务优先级。
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

// ActivityAssigned 是任务创建（或复制）时写入的第一条活动类型。
const ActivityAssigned = "assigned"

// ParseStage 将输入规范化为小写的 Stage。
//
// 大小写、首尾空白以及 "-"、"_" 分隔符都会被归一，
// 因此 "IN PROGRESS"、"in-progress" 与 "in progress" 等价。
func ParseStage(s string) (Stage, bool) {
	v := Stage(normalizeEnum(s))
	switch v {
	case StageInitial, StageInProgress, StageCompleted:
		return v, true
	}
	return "", false
}

// ParsePriority 将输入规范化为小写的 Priority。
func ParsePriority(s string) (Priority, bool) {
	v := Priority(normalizeEnum(s))
	switch v {
	case PriorityHigh, PriorityMedium, PriorityNormal, PriorityLow:
		return v, true
	}
	return "", false
}

func normalizeEnum(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = strings.NewReplacer("-", " ", "_", " ").Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

// Task 表示一个团队任务。
//
// Team 通过 task_team 关联表保存成员 ID；Activities 只追加不修改，
// 按写入顺序（自增 ID）排列。IsTrashed 为软删除标记，物理删除只发生在
// 已进入回收站的任务上。
type Task struct {
	ID         uint       `gorm:"primaryKey" json:"_id"`
	Title      string     `gorm:"type:varchar(255);not null" json:"title"`
	Team       []User     `gorm:"many2many:task_team" json:"team"`
	Stage      Stage      `gorm:"type:varchar(32);not null;index" json:"stage"`
	Priority   Priority   `gorm:"type:varchar(16);not null" json:"priority"`
	Date       time.Time  `gorm:"not null" json:"date"`
	Assets     []string   `gorm:"type:text;serializer:json" json:"assets"`
	SubTasks   []SubTask  `gorm:"foreignKey:TaskID" json:"subTasks"`
	Activities []Activity `gorm:"foreignKey:TaskID" json:"activities"`
	IsTrashed  bool       `gorm:"default:false;index" json:"isTrashed"`
	CreatedAt  time.Time  `json:"createdAt"`
	UpdatedAt  time.Time  `json:"updatedAt"`
}

// TeamIDs 返回任务成员的 ID 列表（保持 Team 顺序）。
func (t *Task) TeamIDs() []uint {
	ids := make([]uint, 0, len(t.Team))
	for _, u := range t.Team {
		ids = append(ids, u.ID)
	}
	return ids
}

// HasMember 判断用户是否为任务成员。
func (t *Task) HasMember(userID uint) bool {
	for _, u := range t.Team {
		if u.ID == userID {
			return true
		}
	}
	return false
}

// SubTask 是任务下的子任务，标题不要求唯一。
type SubTask struct {
	ID     uint       `gorm:"primaryKey" json:"_id"`
	TaskID uint       `gorm:"index;not null" json:"-"`
	Title  string     `gorm:"type:varchar(255)" json:"title"`
	Date   *time.Time `json:"date,omitempty"`
	Tag    string     `gorm:"type:varchar(64)" json:"tag"`
}

// Activity 是任务的活动日志条目，一经写入不再修改。
type Activity struct {
	ID        uint      `gorm:"primaryKey" json:"_id"`
	TaskID    uint      `gorm:"index;not null" json:"-"`
	Type      string    `gorm:"type:varchar(32);not null" json:"type"`
	Activity  string    `gorm:"type:text" json:"activity"`
	ByID      uint      `gorm:"index" json:"-"`
	By        *User     `gorm:"foreignKey:ByID" json:"by,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// TaskMember 是任务与成员的关联表。
type TaskMember struct {
	TaskID uint `gorm:"primaryKey"`
	UserID uint `gorm:"primaryKey;index"`
}

// TableName 与 Task.Team 的 many2many 表名保持一致。
func (TaskMember) TableName() string {
	return "task_team"
}
