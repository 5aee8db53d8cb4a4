package worker

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendwatch/tendwatch/internal/datadir"
)

func testLayout(t *testing.T) datadir.Layout {
	t.Helper()
	l, err := datadir.Bootstrap(t.TempDir())
	require.NoError(t, err)
	return l
}

func TestDispatch_SuccessReachesCompleteWithResultPath(t *testing.T) {
	layout := testLayout(t)
	done := make(chan Worker, 1)
	reg := NewRegistry(layout, 0, time.Minute, func(ctx context.Context, w Worker) { done <- w })

	id, err := reg.Dispatch(context.Background(), "summarise X", "model-a", func(ctx context.Context, w Worker) (string, error) {
		return filepath.Join(w.WorkingDir, "result.md"), nil
	}, 0)
	require.NoError(t, err)

	var finished Worker
	select {
	case finished = <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for completion hook")
	}

	assert.Equal(t, id, finished.ID)
	assert.Equal(t, StatusComplete, finished.Status)
	assert.NotNil(t, finished.CompletedAt)
	assert.Equal(t, filepath.Join(finished.WorkingDir, "result.md"), finished.ResultPath)

	stored, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, StatusComplete, stored.Status)
}

func TestDispatch_ErrorReachesFailedWithReason(t *testing.T) {
	layout := testLayout(t)
	done := make(chan Worker, 1)
	reg := NewRegistry(layout, 0, time.Minute, func(ctx context.Context, w Worker) { done <- w })

	_, err := reg.Dispatch(context.Background(), "bad task", "model-a", func(ctx context.Context, w Worker) (string, error) {
		return "", errors.New("boom")
	}, 0)
	require.NoError(t, err)

	finished := <-done
	assert.Equal(t, StatusFailed, finished.Status)
	require.NotNil(t, finished.Error)
	assert.Equal(t, "boom", *finished.Error)
}

func TestDispatch_TimeoutMarksTimeout(t *testing.T) {
	layout := testLayout(t)
	done := make(chan Worker, 1)
	reg := NewRegistry(layout, 0, time.Minute, func(ctx context.Context, w Worker) { done <- w })

	_, err := reg.Dispatch(context.Background(), "slow task", "model-a", func(ctx context.Context, w Worker) (string, error) {
		<-ctx.Done()
		return "", ctx.Err()
	}, 30*time.Millisecond)
	require.NoError(t, err)

	select {
	case finished := <-done:
		assert.Equal(t, StatusTimeout, finished.Status)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for timeout to be observed")
	}
}

func TestInterrupt_PreSetStatusSurvivesRunnerExit(t *testing.T) {
	layout := testLayout(t)
	done := make(chan Worker, 1)
	reg := NewRegistry(layout, 0, time.Minute, func(ctx context.Context, w Worker) { done <- w })

	id, err := reg.Dispatch(context.Background(), "interruptible", "model-a", func(ctx context.Context, w Worker) (string, error) {
		<-ctx.Done()
		return "", ctx.Err() // a normal error return racing the interrupt
	}, 0)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, reg.Interrupt(id))

	finished := <-done
	assert.Equal(t, StatusCancelled, finished.Status, "interrupt's pre-set status must not be overwritten by the runner's own error path")
}

func TestDispatch_RejectsOverCapacity(t *testing.T) {
	layout := testLayout(t)
	reg := NewRegistry(layout, 1, time.Minute, nil)

	block := make(chan struct{})
	_, err := reg.Dispatch(context.Background(), "first", "model-a", func(ctx context.Context, w Worker) (string, error) {
		<-block
		return "", nil
	}, 0)
	require.NoError(t, err)

	time.Sleep(20 * time.Millisecond)
	_, err = reg.Dispatch(context.Background(), "second", "model-a", func(ctx context.Context, w Worker) (string, error) {
		return "", nil
	}, 0)
	assert.ErrorIs(t, err, ErrAtCapacity)

	close(block)
}

func TestSteer_WritesNoteIntoWorkerDir(t *testing.T) {
	layout := testLayout(t)
	release := make(chan struct{})
	reg := NewRegistry(layout, 0, time.Minute, nil)

	id, err := reg.Dispatch(context.Background(), "task", "model-a", func(ctx context.Context, w Worker) (string, error) {
		<-release
		return "", nil
	}, 0)
	require.NoError(t, err)

	require.NoError(t, reg.Steer(id, "focus on pricing only"))
	w, ok := reg.Get(id)
	require.True(t, ok)
	content, err := os.ReadFile(filepath.Join(w.WorkingDir, "steering.md"))
	require.NoError(t, err)
	assert.Equal(t, "focus on pricing only", string(content))

	close(release)
}

func TestPurge_RemovesOldTerminalWorkersOnly(t *testing.T) {
	layout := testLayout(t)
	reg := NewRegistry(layout, 0, time.Hour, nil)

	id, err := reg.Dispatch(context.Background(), "quick", "model-a", func(ctx context.Context, w Worker) (string, error) {
		return "", nil
	}, 0)
	require.NoError(t, err)
	time.Sleep(20 * time.Millisecond)

	removed := reg.Purge(time.Now())
	assert.Equal(t, 0, removed, "not yet past purgeAfter")

	removed = reg.Purge(time.Now().Add(2 * time.Hour))
	assert.Equal(t, 1, removed)

	_, ok := reg.Get(id)
	assert.False(t, ok)
}
