package storage

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	gormlogger "gorm.io/gorm/logger"

	"tabguard/internal/ctxkeys"
	"tabguard/internal/logger"
	"tabguard/internal/plugerr"
	"tabguard/pkg/model"
)

func openStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "test.sqlite3"), "test_", nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSaveAndListErrors(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	e := plugerr.New(plugerr.ErrorThread, plugerr.SubFilterLoaderCreate, 7, "loader failed")
	require.NoError(t, s.SaveError(ctx, e))

	got, err := s.ListErrors(ctx, 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, e.ProcessID, got[0].ProcessID)
	assert.Equal(t, plugerr.SubFilterLoaderCreate, got[0].SubID)
	assert.Equal(t, 7, got[0].ErrorCode)
	assert.Equal(t, "loader failed", got[0].Description)
	assert.Len(t, got[0].ID, 36)
}

func TestSaveBlockDetail(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	evt := model.Event{
		Type:        model.EventBlocked,
		Tab:         "t1",
		TraceID:     "trace",
		URL:         "http://ads.example/a.js",
		ContentType: model.ContentTypeScript,
		Referrer:    "pub.example",
		Synthetic:   true,
		Timestamp:   1700000000000,
	}
	require.NoError(t, s.SaveBlock(ctx, evt))
	require.NoError(t, s.SaveBlock(ctx, model.Event{Tab: "t2", URL: "http://x.example/"}))

	got, err := s.ListBlocks(ctx, "t1", 10)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "script", got[0].ContentType)
	assert.Equal(t, "pub.example", gjson.Get(got[0].Detail, "referrer").String())
	assert.True(t, gjson.Get(got[0].Detail, "synthetic").Bool())
	assert.Equal(t, int64(1700000000000), gjson.Get(got[0].Detail, "timestamp").Int())
	assert.False(t, gjson.Get(got[0].Detail, "error").Exists())

	all, err := s.ListBlocks(ctx, "", 10)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestGormLoggerCarriesTraceID(t *testing.T) {
	var buf bytes.Buffer
	g := NewGormLogger(logger.NewWithWriter(&buf, zerolog.DebugLevel)).LogMode(gormlogger.Info)

	ctx := ctxkeys.WithTraceID(context.Background(), "abc")
	g.Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)

	line := buf.String()
	assert.Equal(t, "abc", gjson.Get(line, "traceId").String())
	assert.Equal(t, "SELECT 1", gjson.Get(line, "sql").String())

	buf.Reset()
	NewGormLogger(logger.NewWithWriter(&buf, zerolog.DebugLevel)).LogMode(gormlogger.Silent).
		Trace(ctx, time.Now(), func() (string, int64) { return "SELECT 1", 1 }, nil)
	assert.Empty(t, buf.String())
}

func TestSaveBlockDetailCarriesError(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveBlock(ctx, model.Event{Tab: "t1", URL: "http://ads.example/x", Error: "transport read: reset"}))

	got, err := s.ListBlocks(ctx, "t1", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "transport read: reset", gjson.Get(got[0].Detail, "error").String())
}
