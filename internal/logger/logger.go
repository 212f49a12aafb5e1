package logger

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger 结构化日志接口，参数以 key/value 成对传入
type Logger interface {
	Debug(msg string, kv ...any)
	Info(msg string, kv ...any)
	Warn(msg string, kv ...any)
	Error(msg string, kv ...any)
	Err(err error, msg string, kv ...any)
	With(kv ...any) Logger
}

// Options 日志配置
type Options struct {
	Level      string
	Writer     []string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

type zeroLogger struct {
	zl zerolog.Logger
}

// New 根据配置创建 zerolog 日志实例
func New(opts Options) Logger {
	level, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
	if err != nil || opts.Level == "" {
		level = zerolog.InfoLevel
	}

	var writers []io.Writer
	for _, w := range opts.Writer {
		switch w {
		case "console":
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05.000"})
		case "file":
			if opts.File == "" {
				continue
			}
			writers = append(writers, &lumberjack.Logger{
				Filename:   opts.File,
				MaxSize:    opts.MaxSizeMB,
				MaxBackups: opts.MaxBackups,
				MaxAge:     opts.MaxAgeDays,
				Compress:   opts.Compress,
			})
		}
	}
	if len(writers) == 0 {
		writers = append(writers, os.Stderr)
	}

	zl := zerolog.New(zerolog.MultiLevelWriter(writers...)).Level(level).With().Timestamp().Logger()
	return &zeroLogger{zl: zl}
}

// NewWithWriter 创建输出到指定 writer 的 JSON 日志，主要用于测试
func NewWithWriter(w io.Writer, level zerolog.Level) Logger {
	return &zeroLogger{zl: zerolog.New(w).Level(level).With().Timestamp().Logger()}
}

// NewNop 创建丢弃所有输出的日志
func NewNop() Logger {
	return &zeroLogger{zl: zerolog.Nop()}
}

func (l *zeroLogger) Debug(msg string, kv ...any) { l.emit(l.zl.Debug(), msg, kv) }
func (l *zeroLogger) Info(msg string, kv ...any)  { l.emit(l.zl.Info(), msg, kv) }
func (l *zeroLogger) Warn(msg string, kv ...any)  { l.emit(l.zl.Warn(), msg, kv) }
func (l *zeroLogger) Error(msg string, kv ...any) { l.emit(l.zl.Error(), msg, kv) }

func (l *zeroLogger) Err(err error, msg string, kv ...any) {
	l.emit(l.zl.Error().Err(err), msg, kv)
}

func (l *zeroLogger) With(kv ...any) Logger {
	return &zeroLogger{zl: l.zl.With().Fields(fields(kv)).Logger()}
}

func (l *zeroLogger) emit(e *zerolog.Event, msg string, kv []any) {
	if e == nil {
		return
	}
	e.Fields(fields(kv)).Msg(msg)
}

// fields 把 key/value 列表转换为 zerolog 字段，奇数个参数时最后一个记为 "extra"
func fields(kv []any) map[string]any {
	if len(kv) == 0 {
		return nil
	}
	m := make(map[string]any, len(kv)/2+1)
	for i := 0; i < len(kv); i += 2 {
		if i+1 >= len(kv) {
			m["extra"] = kv[i]
			break
		}
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		if err, ok := kv[i+1].(error); ok {
			m[key] = err.Error()
			continue
		}
		m[key] = kv[i+1]
	}
	return m
}
