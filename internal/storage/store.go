// Package storage 诊断数据落地：排空的插件错误和拦截记录。
package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/tidwall/sjson"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"tabguard/internal/logger"
	"tabguard/internal/plugerr"
	"tabguard/pkg/model"
)

// ErrorRecord 插件错误记录
type ErrorRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	ProcessID   int
	ThreadID    int
	ErrorID     int `gorm:"index"`
	SubID       int
	ErrorCode   int
	Description string
	CreatedAt   time.Time
}

// BlockRecord 拦截记录，Detail 为 JSON 文本
type BlockRecord struct {
	ID          string `gorm:"primaryKey;size:36"`
	Tab         string `gorm:"index"`
	TraceID     string `gorm:"size:36"`
	URL         string
	ContentType string `gorm:"index"`
	Detail      string
	CreatedAt   time.Time
}

// Store sqlite 存储
type Store struct {
	db  *gorm.DB
	log logger.Logger
}

// Open 打开数据库并迁移表结构
func Open(dsn, prefix string, l logger.Logger) (*Store, error) {
	if l == nil {
		l = logger.NewNop()
	}
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:         NewGormLogger(l),
		NamingStrategy: schema.NamingStrategy{TablePrefix: prefix},
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", dsn, err)
	}
	if err := db.AutoMigrate(&ErrorRecord{}, &BlockRecord{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	l.Info("数据库已就绪", "dsn", dsn)
	return &Store{db: db, log: l}, nil
}

// SaveError 保存插件错误
func (s *Store) SaveError(ctx context.Context, e plugerr.PluginError) error {
	rec := ErrorRecord{
		ID:          uuid.NewString(),
		ProcessID:   e.ProcessID,
		ThreadID:    e.ThreadID,
		ErrorID:     e.ErrorID,
		SubID:       e.SubID,
		ErrorCode:   e.ErrorCode,
		Description: e.Description,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

// SaveBlock 保存拦截事件
func (s *Store) SaveBlock(ctx context.Context, evt model.Event) error {
	detail, err := blockDetail(evt)
	if err != nil {
		return err
	}
	rec := BlockRecord{
		ID:          uuid.NewString(),
		Tab:         string(evt.Tab),
		TraceID:     evt.TraceID,
		URL:         evt.URL,
		ContentType: evt.ContentType.String(),
		Detail:      detail,
	}
	return s.db.WithContext(ctx).Create(&rec).Error
}

func blockDetail(evt model.Event) (string, error) {
	detail := `{}`
	var err error
	if detail, err = sjson.Set(detail, "referrer", evt.Referrer); err != nil {
		return "", err
	}
	if detail, err = sjson.Set(detail, "synthetic", evt.Synthetic); err != nil {
		return "", err
	}
	if detail, err = sjson.Set(detail, "timestamp", evt.Timestamp); err != nil {
		return "", err
	}
	if evt.Error != "" {
		if detail, err = sjson.Set(detail, "error", evt.Error); err != nil {
			return "", err
		}
	}
	return detail, nil
}

// ListErrors 按时间倒序返回最近的错误
func (s *Store) ListErrors(ctx context.Context, limit int) ([]ErrorRecord, error) {
	var out []ErrorRecord
	err := s.db.WithContext(ctx).Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// ListBlocks 返回标签页的拦截记录，tab 为空时返回全部
func (s *Store) ListBlocks(ctx context.Context, tab model.TabID, limit int) ([]BlockRecord, error) {
	q := s.db.WithContext(ctx).Order("created_at desc").Limit(limit)
	if tab != "" {
		q = q.Where("tab = ?", string(tab))
	}
	var out []BlockRecord
	err := q.Find(&out).Error
	return out, err
}

// Close 关闭底层连接
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
