// Package auth 提供用户注册、登录与账户管理接口。
package auth

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"

	"taskmanager/internal/model"
	"taskmanager/internal/store"
)

// UserStore 定义账户接口依赖的用户与通知存储。
type UserStore interface {
	CreateUser(ctx context.Context, user *model.User) error
	FindByEmail(ctx context.Context, email string) (*model.User, error)
	FindByID(ctx context.Context, id uint) (*model.User, error)
	ListUsers(ctx context.Context) ([]model.User, error)
	UpdateProfile(ctx context.Context, id uint, name, title, role string) (*model.User, error)
	SetActive(ctx context.Context, id uint, active bool) error
	SetPassword(ctx context.Context, id uint, hash string) error
	ListUnreadNotices(ctx context.Context, userID uint) ([]model.Notice, error)
	MarkNoticesRead(ctx context.Context, userID, noticeID uint, all bool) error
}

// Handler 提供用户相关接口。
type Handler struct {
	users      UserStore
	jwtSecret  []byte
	tokenTTL   time.Duration
	inviteCode string
	secure     bool
	logger     *slog.Logger
}

// NewHandler 创建 Auth Handler。
//
// 参数:
//
//	users: 用户存储
//	jwtSecret: 令牌签名密钥
//	tokenTTL: 令牌有效期
//	inviteCode: 注册邀请码，为空时关闭注册
//	secure: 令牌 Cookie 是否只在 HTTPS 下发送
//	logger: 日志记录器
func NewHandler(users UserStore, jwtSecret string, tokenTTL time.Duration, inviteCode string, secure bool, logger *slog.Logger) *Handler {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Handler{
		users:      users,
		jwtSecret:  []byte(jwtSecret),
		tokenTTL:   tokenTTL,
		inviteCode: strings.TrimSpace(inviteCode),
		secure:     secure,
		logger:     logger,
	}
}

type registerRequest struct {
	Name       string `json:"name" binding:"required"`
	Email      string `json:"email" binding:"required,email"`
	Password   string `json:"password" binding:"required,min=6"`
	Title      string `json:"title"`
	Role       string `json:"role"`
	InviteCode string `json:"invite_code"`
}

type loginRequest struct {
	Email    string `json:"email" binding:"required,email"`
	Password string `json:"password" binding:"required"`
}

type profileRequest struct {
	ID    uint   `json:"_id"`
	Name  string `json:"name" binding:"required"`
	Title string `json:"title"`
	Role  string `json:"role"`
}

type passwordRequest struct {
	Password string `json:"password" binding:"required,min=6"`
}

type activateRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// Register 凭邀请码注册普通成员。管理员只能通过初始化或 taskctl 创建。
func (h *Handler) Register(c *gin.Context) {
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Missing required fields")
		return
	}
	if h.inviteCode == "" {
		fail(c, http.StatusForbidden, "Registration is disabled.")
		return
	}
	if strings.TrimSpace(req.InviteCode) != h.inviteCode {
		fail(c, http.StatusForbidden, "Invalid invite code.")
		return
	}
	email := normalizeEmail(req.Email)
	ctx := c.Request.Context()

	_, err := h.users.FindByEmail(ctx, email)
	if err == nil {
		fail(c, http.StatusConflict, "User already exists.")
		return
	}
	if !errors.Is(err, store.ErrNotFound) {
		h.internal(c, "query user failed", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internal(c, "hash password failed", err)
		return
	}
	user := &model.User{
		Name:     strings.TrimSpace(req.Name),
		Email:    email,
		Password: string(hash),
		Title:    strings.TrimSpace(req.Title),
		Role:     strings.TrimSpace(req.Role),
		IsActive: true,
	}
	if err := h.users.CreateUser(ctx, user); err != nil {
		h.internal(c, "create user failed", err)
		return
	}

	h.logger.Info("user registered", slog.Uint64("user_id", uint64(user.ID)), slog.String("email", email))
	c.JSON(http.StatusCreated, gin.H{"status": true, "message": "User registered successfully.", "user": user})
}

// Login 校验密码，签发令牌并写入 Cookie。
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Missing required fields")
		return
	}
	email := normalizeEmail(req.Email)

	user, err := h.users.FindByEmail(c.Request.Context(), email)
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			h.internal(c, "query user failed", err)
			return
		}
		fail(c, http.StatusUnauthorized, "Invalid email or password.")
		return
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
		fail(c, http.StatusUnauthorized, "Invalid email or password.")
		return
	}
	if !user.IsActive {
		fail(c, http.StatusUnauthorized, "User account has been deactivated, contact the administrator.")
		return
	}

	token, err := IssueToken(h.jwtSecret, user.ID, user.IsAdmin, h.tokenTTL)
	if err != nil {
		h.internal(c, "sign token failed", err)
		return
	}
	c.SetSameSite(http.SameSiteStrictMode)
	c.SetCookie("token", token, int(h.tokenTTL.Seconds()), "/", "", h.secure, true)

	h.logger.Info("user logged in", slog.Uint64("user_id", uint64(user.ID)), slog.Bool("is_admin", user.IsAdmin))
	c.JSON(http.StatusOK, gin.H{"status": true, "user": user, "token": token})
}

// Logout 清除令牌 Cookie。令牌本身无状态，到期前仍然有效。
func (h *Handler) Logout(c *gin.Context) {
	c.SetCookie("token", "", -1, "/", "", h.secure, true)
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Logout successful."})
}

// TeamList 返回全部用户。
func (h *Handler) TeamList(c *gin.Context) {
	users, err := h.users.ListUsers(c.Request.Context())
	if err != nil {
		h.internal(c, "list users failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "users": users})
}

// Notifications 返回当前用户的未读通知，最新的在前。
func (h *Handler) Notifications(c *gin.Context) {
	notices, err := h.users.ListUnreadNotices(c.Request.Context(), c.GetUint("userID"))
	if err != nil {
		h.internal(c, "list notices failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "notifications": notices})
}

// MarkNotificationRead 标记通知已读。
//
// isReadType=all 标记全部；否则按 id 标记单条，当前用户不是接收人时返回 404。
func (h *Handler) MarkNotificationRead(c *gin.Context) {
	all := c.Query("isReadType") == "all"
	var noticeID uint
	if !all {
		id, err := strconv.ParseUint(c.Query("id"), 10, 64)
		if err != nil || id == 0 {
			fail(c, http.StatusBadRequest, "Notification id is required.")
			return
		}
		noticeID = uint(id)
	}

	err := h.users.MarkNoticesRead(c.Request.Context(), c.GetUint("userID"), noticeID, all)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "Notification not found.")
		return
	}
	if err != nil {
		h.internal(c, "mark notices read failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Done"})
}

// UpdateProfile 更新个人资料。管理员可以通过 _id 指定其他用户。
func (h *Handler) UpdateProfile(c *gin.Context) {
	var req profileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Missing required fields")
		return
	}
	target := c.GetUint("userID")
	if req.ID != 0 && req.ID != target {
		if !c.GetBool("isAdmin") {
			fail(c, http.StatusForbidden, "Not authorized as admin. Try login as admin.")
			return
		}
		target = req.ID
	}

	user, err := h.users.UpdateProfile(c.Request.Context(), target,
		strings.TrimSpace(req.Name), strings.TrimSpace(req.Title), strings.TrimSpace(req.Role))
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "User not found.")
		return
	}
	if err != nil {
		h.internal(c, "update profile failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Profile Updated Successfully.", "user": user})
}

// ChangePassword 修改当前用户密码。
func (h *Handler) ChangePassword(c *gin.Context) {
	var req passwordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Password must be at least 6 characters.")
		return
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.internal(c, "hash password failed", err)
		return
	}
	if err := h.users.SetPassword(c.Request.Context(), c.GetUint("userID"), string(hash)); err != nil {
		h.internal(c, "set password failed", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": true, "message": "Password changed successfully."})
}

// SetActive 启用或停用用户账户。
func (h *Handler) SetActive(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		fail(c, http.StatusBadRequest, "Invalid user id.")
		return
	}
	var req activateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, "Missing required fields")
		return
	}

	err = h.users.SetActive(c.Request.Context(), uint(id), *req.IsActive)
	if errors.Is(err, store.ErrNotFound) {
		fail(c, http.StatusNotFound, "User not found.")
		return
	}
	if err != nil {
		h.internal(c, "set active failed", err)
		return
	}

	message := "User account has been disabled."
	if *req.IsActive {
		message = "User account has been activated."
	}
	h.logger.Info("user activation changed", slog.Uint64("user_id", id), slog.Bool("active", *req.IsActive))
	c.JSON(http.StatusOK, gin.H{"status": true, "message": message})
}

func (h *Handler) internal(c *gin.Context, msg string, err error) {
	h.logger.Error(msg, slog.String("error", err.Error()))
	fail(c, http.StatusInternalServerError, "Internal server error.")
}

func fail(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"status": false, "message": message})
}

func normalizeEmail(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
