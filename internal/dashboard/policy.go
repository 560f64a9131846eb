package dashboard

import (
	"taskmanager/internal/model"
	"taskmanager/internal/store"
)

// Scope 标识仪表盘可见范围，同时作为指标标签。
type Scope string

const (
	ScopeAll    Scope = "all"
	ScopeMember Scope = "member"
)

// Policy 是每个请求解析一次的可见性策略。
//
// 管理员可以看到全部未删除任务以及最近用户；普通成员只能看到
// 自己所在团队的任务，且看不到任何用户记录。
type Policy struct {
	Scope        Scope
	MemberID     uint
	IncludeUsers bool
}

// PolicyFor 根据调用方身份解析策略。
func PolicyFor(caller model.Caller) Policy {
	if caller.IsAdmin {
		return Policy{Scope: ScopeAll, IncludeUsers: true}
	}
	return Policy{Scope: ScopeMember, MemberID: caller.UserID}
}

// TaskFilter 返回该策略对应的工作集查询条件（始终排除回收站）。
func (p Policy) TaskFilter() store.TaskFilter {
	trashed := false
	filter := store.TaskFilter{Trashed: &trashed}
	if p.Scope != ScopeAll {
		filter.MemberID = p.MemberID
	}
	return filter
}
