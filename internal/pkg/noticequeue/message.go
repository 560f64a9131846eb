package noticequeue

import (
	"time"

	"taskmanager/internal/model"
)

// NoticeMessage 是通知投递 Stream 中的消息体。
type NoticeMessage struct {
	NoticeID   uint      `json:"notice_id"`
	TaskID     uint      `json:"task_id"`
	TaskTitle  string    `json:"task_title"`
	Recipients []uint    `json:"recipients"`
	Text       string    `json:"text"`
	Timestamp  time.Time `json:"timestamp"`
	Retry      int       `json:"retry"`
}

// NewNoticeMessage 由刚落库的任务与通知构造消息。
func NewNoticeMessage(task *model.Task, notice *model.Notice) *NoticeMessage {
	return &NoticeMessage{
		NoticeID:   notice.ID,
		TaskID:     task.ID,
		TaskTitle:  task.Title,
		Recipients: notice.RecipientIDs(),
		Text:       notice.Text,
		Timestamp:  time.Now().UTC(),
	}
}
