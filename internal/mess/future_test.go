package mess

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFutureResolvesOnce(t *testing.T) {
	f := NewFuture[Mode]()

	_, ok := f.Poll()
	assert.False(t, ok)

	assert.True(t, f.Resolve(ModeEditorStyle))
	assert.False(t, f.Resolve(ModeEditorDev))

	v, ok := f.Poll()
	require.True(t, ok)
	assert.Equal(t, ModeEditorStyle, v)

	got, err := f.Wait(context.Background())
	require.NoError(t, err)
	assert.Equal(t, ModeEditorStyle, got)
}

func TestFutureWaitHonorsContext(t *testing.T) {
	f := NewFuture[int]()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestFutureWaitAcrossGoroutines(t *testing.T) {
	f := NewFuture[string]()
	go f.Resolve("done")

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("future never resolved")
	}
	v, _ := f.Poll()
	assert.Equal(t, "done", v)
}

func TestModeString(t *testing.T) {
	assert.Equal(t, "live", ModeLive.String())
	assert.Equal(t, "editor-style", ModeEditorStyle.String())
	assert.Equal(t, "editor-dev", ModeEditorDev.String())
	assert.Equal(t, "props", ModePropsInspection.String())
	assert.False(t, ModeLive.Embedded())
	assert.True(t, ModeEditorDev.Embedded())
}
