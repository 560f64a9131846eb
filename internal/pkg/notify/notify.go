// Package notify 负责把任务通知发送给成员。
package notify

import (
	"context"
)

// Message 是一次待发送的通知。
type Message struct {
	To        string // 接收邮箱
	Name      string // 接收人姓名
	TaskID    uint   // 关联任务
	TaskTitle string // 任务标题
	Text      string // 通知正文
}

// Notifier 定义通知发送接口。
type Notifier interface {
	// Send 发送一条通知。
	//
	// 参数:
	//   ctx: 上下文
	//   msg: 通知内容
	Send(ctx context.Context, msg Message) error
}
