package api

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// SeedAdmin 确保配置中的初始管理员存在。未配置管理员邮箱时跳过。
func (s *Server) SeedAdmin(ctx context.Context) error {
	sec := s.cfg.Security
	email := strings.ToLower(strings.TrimSpace(sec.AdminEmail))
	if email == "" {
		s.logger.Info("admin seeding skipped: no admin email configured")
		return nil
	}
	if len(sec.AdminPassword) < 6 {
		return fmt.Errorf("admin password for %s must be at least 6 characters", email)
	}
	created, err := s.store.EnsureAdmin(ctx, sec.AdminName, email, sec.AdminPassword)
	if err != nil {
		return err
	}
	if created {
		s.logger.Info("bootstrap admin created", slog.String("email", email))
	}
	return nil
}
