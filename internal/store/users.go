package store

import (
	"context"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"taskmanager/internal/model"
)

// CreateUser 写入新用户。
func (s *Store) CreateUser(ctx context.Context, user *model.User) error {
	if err := s.db.WithContext(ctx).Create(user).Error; err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

// FindByEmail 按邮箱查找用户。
func (s *Store) FindByEmail(ctx context.Context, email string) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).Where("email = ?", email).First(&user).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindByID 按 ID 查找用户。
func (s *Store) FindByID(ctx context.Context, id uint) (*model.User, error) {
	var user model.User
	if err := s.db.WithContext(ctx).First(&user, id).Error; err != nil {
		return nil, translate(err)
	}
	return &user, nil
}

// FindUsersByIDs 批量查找用户，不存在的 ID 会被忽略。
func (s *Store) FindUsersByIDs(ctx context.Context, ids []uint) ([]model.User, error) {
	if len(ids) == 0 {
		return []model.User{}, nil
	}
	var users []model.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, fmt.Errorf("find users: %w", err)
	}
	return users, nil
}

// ListUsers 返回全部用户（按创建顺序）。
func (s *Store) ListUsers(ctx context.Context) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).Order("id ASC").Find(&users).Error; err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	return users, nil
}

// RecentActiveUsers 返回最近创建的活跃用户，最新的在前。
func (s *Store) RecentActiveUsers(ctx context.Context, limit int) ([]model.User, error) {
	var users []model.User
	if err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("id DESC").
		Limit(limit).
		Find(&users).Error; err != nil {
		return nil, fmt.Errorf("recent users: %w", err)
	}
	return users, nil
}

// UpdateProfile 更新姓名、职位与角色。
func (s *Store) UpdateProfile(ctx context.Context, id uint, name, title, role string) (*model.User, error) {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Updates(map[string]any{
		"name":  name,
		"title": title,
		"role":  role,
	})
	if res.Error != nil {
		return nil, fmt.Errorf("update profile: %w", res.Error)
	}
	return s.FindByID(ctx, id)
}

// SetActive 启用或停用用户。
func (s *Store) SetActive(ctx context.Context, id uint, active bool) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("is_active", active)
	if res.Error != nil {
		return fmt.Errorf("set active: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		if _, err := s.FindByID(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// SetPassword 保存新的密码哈希。
func (s *Store) SetPassword(ctx context.Context, id uint, hash string) error {
	res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", id).Update("password", hash)
	if res.Error != nil {
		return fmt.Errorf("set password: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// EnsureAdmin 确保指定邮箱的管理员存在。
//
// 已存在时只会补齐管理员与启用标记，不覆盖密码。
//
// 返回值:
//
//	bool: 是否新建了用户
//	error: 失败时返回错误
func (s *Store) EnsureAdmin(ctx context.Context, name, email, password string) (bool, error) {
	existing, err := s.FindByEmail(ctx, email)
	if err == nil {
		if existing.IsAdmin && existing.IsActive {
			return false, nil
		}
		res := s.db.WithContext(ctx).Model(&model.User{}).Where("id = ?", existing.ID).Updates(map[string]any{
			"is_admin":  true,
			"is_active": true,
		})
		if res.Error != nil {
			return false, fmt.Errorf("promote admin: %w", res.Error)
		}
		return false, nil
	}
	if err != ErrNotFound {
		return false, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return false, fmt.Errorf("hash password: %w", err)
	}
	user := &model.User{
		Name:     name,
		Email:    email,
		Password: string(hash),
		Title:    "Administrator",
		Role:     "admin",
		IsAdmin:  true,
		IsActive: true,
	}
	if err := s.CreateUser(ctx, user); err != nil {
		return false, err
	}
	return true, nil
}
