package scheduler

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tendwatch/tendwatch/internal/activehours"
	"github.com/tendwatch/tendwatch/internal/bus"
	"github.com/tendwatch/tendwatch/internal/projection"
)

type fakeEnqueuer struct {
	received []bus.InboundMessage
}

func (f *fakeEnqueuer) Enqueue(msg bus.InboundMessage) error {
	f.received = append(f.received, msg)
	return nil
}

func openTestStore(t *testing.T) *projection.Store {
	t.Helper()
	s, err := projection.Open(filepath.Join(t.TempDir(), "projections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func alwaysActive() activehours.Window { return activehours.Window{} }

func TestDailyReviewFunc_SkipsEnqueueWhenNoUpcoming(t *testing.T) {
	store := openTestStore(t)
	enq := &fakeEnqueuer{}

	run := DailyReviewFunc(store, alwaysActive(), enq, bus.PlatformTelegram, "u1", func(ps []projection.Projection) string { return "x" })
	require.NoError(t, run(context.Background()))
	assert.Empty(t, enq.received)
}

func TestDailyReviewFunc_EnqueuesWhenUpcomingExists(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Add(ctx, projection.Projection{Summary: "Renew passport", Resolution: projection.ResolutionSomeday})
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	run := DailyReviewFunc(store, alwaysActive(), enq, bus.PlatformTelegram, "u1", func(ps []projection.Projection) string {
		return ps[0].Summary
	})
	require.NoError(t, run(ctx))
	require.Len(t, enq.received, 1)
	assert.Equal(t, "Renew passport", enq.received[0].Content)
	assert.True(t, enq.received[0].Synthetic)
}

func TestDailyReviewFunc_SkipsOutsideActiveHours(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	_, err := store.Add(ctx, projection.Projection{Summary: "Renew passport", Resolution: projection.ResolutionSomeday})
	require.NoError(t, err)

	closedWindow := activehours.Window{Start: "09:00", End: "09:01", Timezone: "UTC"}
	enq := &fakeEnqueuer{}
	run := DailyReviewFunc(store, closedWindow, enq, bus.PlatformTelegram, "u1", func(ps []projection.Projection) string { return "x" })
	require.NoError(t, run(ctx))
	assert.Empty(t, enq.received, "outside the active-hours window nothing should be surfaced")
}

func TestExactCheckFunc_ResolvesOneOffAndEnqueues(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	soon := time.Now().Add(5 * time.Minute)
	id, err := store.Add(ctx, projection.Projection{
		Summary: "Call doctor", Resolution: projection.ResolutionExact,
		ResolvedWhen: &soon, ResolvedWhenHasTime: true,
	})
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	run := ExactCheckFunc(store, alwaysActive(), enq, bus.PlatformTelegram, "u1", 15, func(p projection.Projection) string { return p.Summary })
	require.NoError(t, run(ctx))
	require.Len(t, enq.received, 1)

	due, err := store.GetExactDue(ctx, 15)
	require.NoError(t, err)
	assert.Empty(t, due, "a resolved one-off should no longer be due")
	_ = id
}

func TestExactCheckFunc_RearmsRecurring(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	soon := time.Now().Add(5 * time.Minute)
	_, err := store.Add(ctx, projection.Projection{
		Summary: "Weekly review", Resolution: projection.ResolutionExact,
		ResolvedWhen: &soon, ResolvedWhenHasTime: true,
		Recurrence: "0 9 * * 5",
	})
	require.NoError(t, err)

	enq := &fakeEnqueuer{}
	run := ExactCheckFunc(store, alwaysActive(), enq, bus.PlatformTelegram, "u1", 15, func(p projection.Projection) string { return p.Summary })
	require.NoError(t, run(ctx))
	require.Len(t, enq.received, 1)

	upcoming, err := store.GetUpcoming(ctx, 14)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, projection.StatusPending, upcoming[0].Status)
}

type fakeReflector struct {
	calls       int
	candidates  []projection.Projection
}

func (f *fakeReflector) Reflect(ctx context.Context, window string) ([]projection.Projection, error) {
	f.calls++
	return f.candidates, nil
}

func TestReflectionFunc_SkipsWhenWindowUnchanged(t *testing.T) {
	store := openTestStore(t)
	reflector := &fakeReflector{candidates: []projection.Projection{
		{Summary: "Follow up with Sam", Resolution: projection.ResolutionSomeday},
	}}

	run := ReflectionFunc(store, reflector, func() (string, error) { return "same text", nil })
	require.NoError(t, run(context.Background()))
	require.NoError(t, run(context.Background()))
	assert.Equal(t, 1, reflector.calls, "second run with identical window content must skip extraction")
}

func TestReflectionFunc_AddsCandidatesOnChange(t *testing.T) {
	store := openTestStore(t)
	reflector := &fakeReflector{candidates: []projection.Projection{
		{Summary: "Follow up with Sam", Resolution: projection.ResolutionSomeday},
	}}

	calls := 0
	texts := []string{"window one", "window two"}
	run := ReflectionFunc(store, reflector, func() (string, error) {
		text := texts[calls]
		calls++
		return text, nil
	})
	require.NoError(t, run(context.Background()))
	require.NoError(t, run(context.Background()))
	assert.Equal(t, 2, reflector.calls)

	upcoming, err := store.GetUpcoming(context.Background(), 7)
	require.NoError(t, err)
	assert.Len(t, upcoming, 2)
}
