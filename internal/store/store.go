// Package store 基于 gorm 实现用户目录、任务存储与通知存储。
package store

import (
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/mysql"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"taskmanager/internal/model"
)

// ErrNotFound 表示记录不存在。
var ErrNotFound = errors.New("record not found")

// Store 封装数据库访问。
type Store struct {
	db *gorm.DB
}

// New 使用已打开的连接构造 Store。
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// DB 返回底层 gorm 连接。
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Open 按驱动名打开数据库连接。
//
// 参数:
//
//	driver: mysql 或 sqlite
//	dsn: 连接字符串
//
// 返回值:
//
//	*gorm.DB: 数据库连接
//	error: 驱动不支持或连接失败时返回错误
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(driver) {
	case "mysql":
		dialector = mysql.Open(dsn)
	case "sqlite":
		dialector = sqlite.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	// sqlite 只允许单写连接，内存库多连接时还会各自拿到独立数据库
	if strings.ToLower(driver) == "sqlite" {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("get sql db: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	}
	return db, nil
}

// Migrate 建立关联表并执行自动迁移。
func Migrate(db *gorm.DB) error {
	if err := db.SetupJoinTable(&model.Task{}, "Team", &model.TaskMember{}); err != nil {
		return fmt.Errorf("setup task_team: %w", err)
	}
	if err := db.SetupJoinTable(&model.Notice{}, "Team", &model.NoticeRecipient{}); err != nil {
		return fmt.Errorf("setup notice_team: %w", err)
	}
	if err := db.SetupJoinTable(&model.Notice{}, "ReadBy", &model.NoticeRead{}); err != nil {
		return fmt.Errorf("setup notice_reads: %w", err)
	}
	if err := db.AutoMigrate(
		&model.User{},
		&model.Task{},
		&model.SubTask{},
		&model.Activity{},
		&model.TaskMember{},
		&model.Notice{},
		&model.NoticeRecipient{},
		&model.NoticeRead{},
	); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func translate(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}
