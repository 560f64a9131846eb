package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"taskmanager/internal/model"
)

// ListUnreadNotices 返回用户尚未读的通知，最新的在前，并填充任务标题。
func (s *Store) ListUnreadNotices(ctx context.Context, userID uint) ([]model.Notice, error) {
	db := s.db.WithContext(ctx)
	var notices []model.Notice
	err := db.
		Where("id IN (?)", s.db.Model(&model.NoticeRecipient{}).Select("notice_id").Where("user_id = ?", userID)).
		Where("id NOT IN (?)", s.db.Model(&model.NoticeRead{}).Select("notice_id").Where("user_id = ?", userID)).
		Preload("Team", orderByID).
		Order("id DESC").
		Find(&notices).Error
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	if len(notices) == 0 {
		return notices, nil
	}

	taskIDs := make([]uint, 0, len(notices))
	for _, n := range notices {
		taskIDs = append(taskIDs, n.TaskID)
	}
	var tasks []model.Task
	if err := db.Select("id", "title").Where("id IN ?", taskIDs).Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("load notice tasks: %w", err)
	}
	titles := make(map[uint]string, len(tasks))
	for _, t := range tasks {
		titles[t.ID] = t.Title
	}
	for i := range notices {
		notices[i].TaskTitle = titles[notices[i].TaskID]
	}
	return notices, nil
}

// MarkNoticesRead 将通知标记为已读。
//
// all 为 true 时标记该用户全部通知，否则只标记 noticeID（用户必须是接收人）。
// 重复标记没有副作用。
func (s *Store) MarkNoticesRead(ctx context.Context, userID, noticeID uint, all bool) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Model(&model.NoticeRecipient{}).Where("user_id = ?", userID)
		if !all {
			q = q.Where("notice_id = ?", noticeID)
		}
		var ids []uint
		if err := q.Pluck("notice_id", &ids).Error; err != nil {
			return fmt.Errorf("collect notices: %w", err)
		}
		if len(ids) == 0 {
			if all {
				return nil
			}
			return ErrNotFound
		}
		reads := make([]model.NoticeRead, 0, len(ids))
		for _, id := range ids {
			reads = append(reads, model.NoticeRead{NoticeID: id, UserID: userID})
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&reads).Error; err != nil {
			return fmt.Errorf("mark read: %w", err)
		}
		return nil
	})
}

// CountNotices 返回某任务关联的通知数量。
func (s *Store) CountNotices(ctx context.Context, taskID uint) (int64, error) {
	var count int64
	if err := s.db.WithContext(ctx).Model(&model.Notice{}).Where("task_id = ?", taskID).Count(&count).Error; err != nil {
		return 0, fmt.Errorf("count notices: %w", err)
	}
	return count, nil
}
