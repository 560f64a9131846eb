package lifecycle

import (
	"fmt"
	"strings"
	"time"

	"taskmanager/internal/model"
)

// dueDateLayout 与浏览器 Date.toDateString() 的输出格式一致，例如 "Wed Jan 01 2025"。
const dueDateLayout = "Mon Jan 02 2006"

// AssignmentMessage 构造任务分配通知文案。
//
// 只有一名成员时为 "New task has been assigned to Alice. Priority: high. Due Date: Wed Jan 01 2025."，
// 多名成员时在名字后追加 " and <n-1> others."。日期按 UTC 格式化。
func AssignmentMessage(team []model.User, priority model.Priority, due time.Time) string {
	var b strings.Builder
	b.WriteString("New task has been assigned to ")
	if len(team) > 0 {
		b.WriteString(team[0].Name)
	}
	if len(team) > 1 {
		fmt.Fprintf(&b, " and %d others.", len(team)-1)
	} else {
		b.WriteString(".")
	}
	fmt.Fprintf(&b, " Priority: %s. Due Date: %s.", priority, due.UTC().Format(dueDateLayout))
	return b.String()
}
