package model

import "time"

// User 表示系统用户（团队成员）。
//
// 用户记录不会被物理删除，停用通过 IsActive 标记。
// Password 保存 bcrypt 哈希，永不序列化到响应中。
type User struct {
	ID        uint      `gorm:"primaryKey" json:"_id"`
	Name      string    `gorm:"type:varchar(128);not null" json:"name"`
	Email     string    `gorm:"type:varchar(191);uniqueIndex" json:"email"`
	Password  string    `gorm:"not null" json:"-"`
	Title     string    `gorm:"type:varchar(128)" json:"title"`
	Role      string    `gorm:"type:varchar(64)" json:"role"`
	IsAdmin   bool      `gorm:"default:false" json:"isAdmin"`
	IsActive  bool      `gorm:"default:true;index" json:"isActive"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Caller 是一次请求中已认证的调用方身份。
//
// 由认证中间件解析后显式向下传递，不使用任何进程级会话状态。
type Caller struct {
	UserID  uint
	Email   string
	IsAdmin bool
}
