package session

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/operandhq/operand/core"
)

func TestRedisIndexRecency(t *testing.T) {
	mr := miniredis.RunT(t)
	idx, err := NewRedisIndex("redis://"+mr.Addr(), &core.NoOpLogger{})
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })

	ctx := context.Background()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, idx.Touch(ctx, "exec-a", base))
	require.NoError(t, idx.Touch(ctx, "exec-b", base.Add(time.Second)))
	require.NoError(t, idx.Touch(ctx, "exec-c", base.Add(2*time.Second)))

	ids, err := idx.Recent(ctx, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-c", "exec-b"}, ids)

	// Touching an existing id moves it to the front.
	require.NoError(t, idx.Touch(ctx, "exec-a", base.Add(3*time.Second)))
	ids, err = idx.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-a", "exec-c", "exec-b"}, ids)

	require.NoError(t, idx.Remove(ctx, "exec-c"))
	ids, err = idx.Recent(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"exec-a", "exec-b"}, ids)
}

func TestRedisIndexRejectsBadURL(t *testing.T) {
	_, err := NewRedisIndex("not-a-url", &core.NoOpLogger{})
	require.Error(t, err)
	assert.Equal(t, core.KindValidation, core.KindOf(err))
}
