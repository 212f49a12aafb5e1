package storage

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"tabguard/internal/ctxkeys"
	"tabguard/internal/logger"
)

// slowThreshold 慢查询阈值
const slowThreshold = 200 * time.Millisecond

// GormLogger 将 GORM 日志桥接到项目日志
type GormLogger struct {
	log   logger.Logger
	level gormlogger.LogLevel
}

// NewGormLogger 创建 GormLogger，默认只输出告警和错误
func NewGormLogger(l logger.Logger) *GormLogger {
	if l == nil {
		l = logger.NewNop()
	}
	return &GormLogger{log: l, level: gormlogger.Warn}
}

func (g *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *g
	cp.level = level
	return &cp
}

func (g *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Info {
		g.log.Info(msg, g.withTrace(ctx, data)...)
	}
}

func (g *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Warn {
		g.log.Warn(msg, g.withTrace(ctx, data)...)
	}
}

func (g *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if g.level >= gormlogger.Error {
		g.log.Error(msg, g.withTrace(ctx, data)...)
	}
}

// Trace 按耗时和错误分级输出 SQL
func (g *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	if g.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	sql, rows := fc()
	kv := g.withTrace(ctx, []any{"sql", sql, "rows", rows, "elapsed", elapsed.String()})

	switch {
	case err != nil && err != gormlogger.ErrRecordNotFound && g.level >= gormlogger.Error:
		g.log.Err(err, "SQL执行错误", kv...)
	case elapsed > slowThreshold && g.level >= gormlogger.Warn:
		g.log.Warn("慢SQL查询", kv...)
	case g.level >= gormlogger.Info:
		g.log.Debug("SQL执行", kv...)
	}
}

func (g *GormLogger) withTrace(ctx context.Context, data []any) []any {
	if id := ctxkeys.TraceID(ctx); id != "" {
		return append([]any{"traceId", id}, data...)
	}
	return data
}
