package model

import "time"

// Notice 表示一次任务分配产生的通知，发送给 Team 中的全部成员。
//
// TaskID 只是引用，不建外键：任务被物理删除后通知仍然保留。
// ReadBy 记录已读用户。
type Notice struct {
	ID        uint      `gorm:"primaryKey" json:"_id"`
	Team      []User    `gorm:"many2many:notice_team" json:"team"`
	Text      string    `gorm:"type:text" json:"text"`
	TaskID    uint      `gorm:"index" json:"task"`
	TaskTitle string    `gorm:"-" json:"taskTitle,omitempty"`
	NotiType  string    `gorm:"type:varchar(16);default:alert" json:"notiType"`
	ReadBy    []User    `gorm:"many2many:notice_reads" json:"isRead"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// RecipientIDs 返回通知接收人 ID。
func (n *Notice) RecipientIDs() []uint {
	ids := make([]uint, 0, len(n.Team))
	for _, u := range n.Team {
		ids = append(ids, u.ID)
	}
	return ids
}

// NoticeRecipient 是通知与接收人的关联表。
type NoticeRecipient struct {
	NoticeID uint `gorm:"primaryKey"`
	UserID   uint `gorm:"primaryKey;index"`
}

func (NoticeRecipient) TableName() string {
	return "notice_team"
}

// NoticeRead 记录某个用户已读了某条通知。
type NoticeRead struct {
	NoticeID  uint `gorm:"primaryKey"`
	UserID    uint `gorm:"primaryKey;index"`
	CreatedAt time.Time
}

func (NoticeRead) TableName() string {
	return "notice_reads"
}
