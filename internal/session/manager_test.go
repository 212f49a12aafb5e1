package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tabguard/internal/tab"
	"tabguard/pkg/model"
)

func newManager() *Manager {
	return NewManager(func(id model.TabID) *tab.Tab {
		return tab.New(tab.Config{ID: id})
	}, nil)
}

func TestOpenIsIdempotent(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newManager()
	defer m.CloseAll(context.Background())

	a := m.Open("t1")
	b := m.Open("t1")
	assert.Same(t, a, b)

	got, ok := m.Get("t1")
	require.True(t, ok)
	assert.Same(t, a, got)
	assert.Len(t, m.List(), 1)
}

func TestCloseRemovesTab(t *testing.T) {
	defer goleak.VerifyNone(t)
	m := newManager()
	m.Open("t1")
	m.Open("t2")

	require.NoError(t, m.Close(context.Background(), "t1"))
	_, ok := m.Get("t1")
	assert.False(t, ok)
	assert.ErrorIs(t, m.Close(context.Background(), "t1"), ErrTabNotFound)

	require.NoError(t, m.CloseAll(context.Background()))
	assert.Empty(t, m.List())
}
