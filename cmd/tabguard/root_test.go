package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tabguard/internal/config"
	"tabguard/internal/storage"
	"tabguard/pkg/model"
)

func TestBlocksCommandListsRecords(t *testing.T) {
	dir := t.TempDir()
	dsn := filepath.Join(dir, "cli.sqlite3")

	store, err := storage.Open(dsn, config.NewConfig().Sqlite.Prefix, nil)
	require.NoError(t, err)
	require.NoError(t, store.SaveBlock(context.Background(), model.Event{
		Tab: "t1", URL: "http://ads.example/a.js", ContentType: model.ContentTypeScript,
	}))
	require.NoError(t, store.Close())

	cfgPath := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sqlite:\n  dsn: "+dsn+"\nlog:\n  writer: []\n  level: error\n"), 0o644))

	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetArgs([]string{"--config", cfgPath, "blocks", "--tab", "t1"})
	require.NoError(t, root.Execute())

	assert.Contains(t, out.String(), "http://ads.example/a.js")
	assert.Contains(t, out.String(), "script")
}

func TestUnknownConfigFails(t *testing.T) {
	root := newRootCmd()
	root.SetArgs([]string{"--config", filepath.Join(t.TempDir(), "missing.yaml"), "blocks"})
	assert.Error(t, root.Execute())
}
