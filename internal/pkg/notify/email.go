package notify

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"

	"gopkg.in/gomail.v2"

	"taskmanager/internal/config"
)

// ErrNotConfigured 表示 SMTP 配置不完整。
var ErrNotConfigured = errors.New("email config missing")

// EmailNotifier 通过 SMTP 发送通知邮件。
type EmailNotifier struct {
	cfg    *config.EmailConfig
	logger *slog.Logger
	send   func(m *gomail.Message) error
}

// NewEmailNotifier 创建一个新的邮件通知器。
func NewEmailNotifier(cfg *config.EmailConfig, logger *slog.Logger) *EmailNotifier {
	n := &EmailNotifier{
		cfg:    cfg,
		logger: logger,
	}
	n.send = func(m *gomail.Message) error {
		d := gomail.NewDialer(cfg.SMTPHost, cfg.SMTPPort, cfg.SMTPUser, cfg.SMTPPass)
		return d.DialAndSend(m)
	}
	return n
}

// Configured 判断 SMTP 配置是否完整。
func (n *EmailNotifier) Configured() bool {
	return n.cfg != nil && n.cfg.SMTPHost != "" && n.cfg.SMTPUser != "" && n.cfg.FromEmail != ""
}

// Send 发送通知邮件。接收邮箱为空时跳过。
func (n *EmailNotifier) Send(ctx context.Context, msg Message) error {
	if !n.Configured() {
		return ErrNotConfigured
	}
	if strings.TrimSpace(msg.To) == "" {
		n.logger.Warn("email recipient empty, skip notification", slog.Uint64("task_id", uint64(msg.TaskID)))
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m := gomail.NewMessage()
	m.SetHeader("From", n.cfg.FromEmail)
	m.SetHeader("To", msg.To)
	m.SetHeader("Subject", Subject(msg))
	m.SetBody("text/plain", msg.Text)
	m.AddAlternative("text/html", buildHTMLBody(msg))

	if err := n.send(m); err != nil {
		return fmt.Errorf("send email: %w", err)
	}
	n.logger.Info("notice email sent",
		slog.String("to", msg.To),
		slog.Uint64("task_id", uint64(msg.TaskID)))
	return nil
}

// Subject 返回通知邮件标题。
func Subject(msg Message) string {
	if msg.TaskTitle == "" {
		return "[TaskManager] New task assigned"
	}
	return "[TaskManager] New task assigned: " + msg.TaskTitle
}

func buildHTMLBody(msg Message) string {
	const template = `<!DOCTYPE html>
<html>
<body style="font-family: Arial, sans-serif; background: #f6f7fb; color: #1f2937;">
  <div style="max-width: 560px; margin: 24px auto; background: #ffffff; border: 1px solid #e5e7eb; border-radius: 12px; padding: 20px;">
    <p>Hi %s,</p>
    <p style="font-size: 16px; font-weight: bold;">%s</p>
    <p>%s</p>
  </div>
</body>
</html>`
	name := msg.Name
	if name == "" {
		name = "there"
	}
	return fmt.Sprintf(template, html.EscapeString(name), html.EscapeString(msg.TaskTitle), html.EscapeString(msg.Text))
}
