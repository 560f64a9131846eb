package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"taskmanager/internal/model"
)

// TaskFilter 描述任务列表查询条件，零值字段不参与过滤。
type TaskFilter struct {
	Trashed  *bool
	Stage    model.Stage
	MemberID uint
}

// CreateTaskWithNotice 在同一个事务中写入任务（含初始活动、子任务）、成员关联以及对应的通知。
//
// Team 只写关联表，不会回写 users 表。任一步失败整体回滚，
// 因此不会出现没有通知的孤立任务。
//
// 参数:
//
//	ctx: 上下文
//	task: 待写入的任务，Team 中的用户必须已存在
//	notice: 待写入的通知，TaskID 会被设置为新任务 ID
//
// 返回值:
//
//	error: 写入失败返回错误
func (s *Store) CreateTaskWithNotice(ctx context.Context, task *model.Task, notice *model.Notice) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Omit("Team").Create(task).Error; err != nil {
			return fmt.Errorf("create task: %w", err)
		}
		if err := insertTaskMembers(tx, task.ID, task.TeamIDs()); err != nil {
			return err
		}

		notice.TaskID = task.ID
		if err := tx.Omit("Team", "ReadBy").Create(notice).Error; err != nil {
			return fmt.Errorf("create notice: %w", err)
		}
		recipients := make([]model.NoticeRecipient, 0, len(notice.Team))
		for _, id := range notice.RecipientIDs() {
			recipients = append(recipients, model.NoticeRecipient{NoticeID: notice.ID, UserID: id})
		}
		if len(recipients) > 0 {
			if err := tx.Create(&recipients).Error; err != nil {
				return fmt.Errorf("create notice recipients: %w", err)
			}
		}
		return nil
	})
}

func insertTaskMembers(tx *gorm.DB, taskID uint, userIDs []uint) error {
	if len(userIDs) == 0 {
		return nil
	}
	members := make([]model.TaskMember, 0, len(userIDs))
	for _, id := range userIDs {
		members = append(members, model.TaskMember{TaskID: taskID, UserID: id})
	}
	if err := tx.Create(&members).Error; err != nil {
		return fmt.Errorf("create task members: %w", err)
	}
	return nil
}

// GetTask 读取单个任务，附带成员、子任务以及活动（含操作人）。
func (s *Store) GetTask(ctx context.Context, id uint) (*model.Task, error) {
	var task model.Task
	err := s.db.WithContext(ctx).
		Preload("Team", orderByID).
		Preload("SubTasks", orderByID).
		Preload("Activities", orderByID).
		Preload("Activities.By").
		First(&task, id).Error
	if err != nil {
		return nil, translate(err)
	}
	return &task, nil
}

// ListTasks 按条件列出任务，最新创建的在前。
//
// 成员、子任务与活动各用一次预加载查询，不会按任务逐条查询。
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]model.Task, error) {
	q := s.db.WithContext(ctx).Model(&model.Task{})
	if filter.Trashed != nil {
		q = q.Where("is_trashed = ?", *filter.Trashed)
	}
	if filter.Stage != "" {
		q = q.Where("stage = ?", filter.Stage)
	}
	if filter.MemberID != 0 {
		q = q.Where("id IN (?)", s.db.Model(&model.TaskMember{}).Select("task_id").Where("user_id = ?", filter.MemberID))
	}

	var tasks []model.Task
	err := q.
		Preload("Team", orderByID).
		Preload("SubTasks", orderByID).
		Preload("Activities", orderByID).
		Order("id DESC").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func orderByID(db *gorm.DB) *gorm.DB {
	return db.Order("id ASC")
}

// AppendActivity 追加一条活动记录。
//
// 活动是独立的行，追加只是一条 INSERT，不会读改写整个任务，
// 并发追加不会互相覆盖。
func (s *Store) AppendActivity(ctx context.Context, taskID uint, activity *model.Activity) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchTask(tx, taskID); err != nil {
			return err
		}
		activity.TaskID = taskID
		if err := tx.Omit("By").Create(activity).Error; err != nil {
			return fmt.Errorf("append activity: %w", err)
		}
		return nil
	})
}

// AppendSubTask 追加一个子任务。
func (s *Store) AppendSubTask(ctx context.Context, taskID uint, sub *model.SubTask) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := touchTask(tx, taskID); err != nil {
			return err
		}
		sub.TaskID = taskID
		if err := tx.Create(sub).Error; err != nil {
			return fmt.Errorf("append subtask: %w", err)
		}
		return nil
	})
}

// touchTask 确认任务存在并刷新 updated_at。
func touchTask(tx *gorm.DB, taskID uint) error {
	var task model.Task
	if err := tx.Select("id").First(&task, taskID).Error; err != nil {
		return translate(err)
	}
	if err := tx.Model(&task).UpdateColumn("updated_at", tx.NowFunc()).Error; err != nil {
		return fmt.Errorf("touch task: %w", err)
	}
	return nil
}

// ReplaceTask 整体覆盖任务的可变字段与成员。
//
// 标题、日期、阶段、优先级与附件无条件覆盖（零值同样写入），
// 成员关联先删后插，全部在一个事务内完成。
func (s *Store) ReplaceTask(ctx context.Context, task *model.Task) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing model.Task
		if err := tx.Select("id").First(&existing, task.ID).Error; err != nil {
			return translate(err)
		}
		if task.Assets == nil {
			task.Assets = []string{}
		}
		if err := tx.Model(&model.Task{ID: task.ID}).
			Select("Title", "Date", "Stage", "Priority", "Assets").
			Updates(task).Error; err != nil {
			return fmt.Errorf("replace task: %w", err)
		}
		if err := tx.Where("task_id = ?", task.ID).Delete(&model.TaskMember{}).Error; err != nil {
			return fmt.Errorf("clear task members: %w", err)
		}
		return insertTaskMembers(tx, task.ID, task.TeamIDs())
	})
}

// SetTrashed 设置单个任务的回收站标记，任务不存在时返回 ErrNotFound。
func (s *Store) SetTrashed(ctx context.Context, id uint, trashed bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Select("id").First(&task, id).Error; err != nil {
			return translate(err)
		}
		if err := tx.Model(&task).Update("is_trashed", trashed).Error; err != nil {
			return fmt.Errorf("set trashed: %w", err)
		}
		return nil
	})
}

// RestoreTrashed 将回收站中的全部任务恢复，返回恢复数量。
func (s *Store) RestoreTrashed(ctx context.Context) (int64, error) {
	res := s.db.WithContext(ctx).Model(&model.Task{}).
		Where("is_trashed = ?", true).
		Update("is_trashed", false)
	if res.Error != nil {
		return 0, fmt.Errorf("restore trashed: %w", res.Error)
	}
	return res.RowsAffected, nil
}

// DeleteTask 物理删除一个已在回收站中的任务及其子记录。
//
// 任务不存在返回 ErrNotFound；未进入回收站的任务不会被删除，返回 false。
// 通知只按 ID 引用任务，不随任务删除。
func (s *Store) DeleteTask(ctx context.Context, id uint) (bool, error) {
	deleted := false
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var task model.Task
		if err := tx.Select("id", "is_trashed").First(&task, id).Error; err != nil {
			return translate(err)
		}
		if !task.IsTrashed {
			return nil
		}
		if err := deleteTasks(tx, []uint{id}); err != nil {
			return err
		}
		deleted = true
		return nil
	})
	return deleted, err
}

// DeleteTrashed 物理删除回收站中的全部任务，返回删除数量。
func (s *Store) DeleteTrashed(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ids []uint
		if err := tx.Model(&model.Task{}).Where("is_trashed = ?", true).Pluck("id", &ids).Error; err != nil {
			return fmt.Errorf("collect trashed: %w", err)
		}
		if len(ids) == 0 {
			return nil
		}
		if err := deleteTasks(tx, ids); err != nil {
			return err
		}
		count = int64(len(ids))
		return nil
	})
	return count, err
}

func deleteTasks(tx *gorm.DB, ids []uint) error {
	if err := tx.Where("task_id IN ?", ids).Delete(&model.Activity{}).Error; err != nil {
		return fmt.Errorf("delete activities: %w", err)
	}
	if err := tx.Where("task_id IN ?", ids).Delete(&model.SubTask{}).Error; err != nil {
		return fmt.Errorf("delete subtasks: %w", err)
	}
	if err := tx.Where("task_id IN ?", ids).Delete(&model.TaskMember{}).Error; err != nil {
		return fmt.Errorf("delete task members: %w", err)
	}
	if err := tx.Where("id IN ?", ids).Delete(&model.Task{}).Error; err != nil {
		return fmt.Errorf("delete tasks: %w", err)
	}
	return nil
}
