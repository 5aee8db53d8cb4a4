package projection

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "projections.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestResolve_TerminalMonotonicity(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Projection{Summary: "Call doctor", Resolution: ResolutionExact})
	require.NoError(t, err)

	ok, err := s.Resolve(ctx, id, StatusDone)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.Resolve(ctx, id, StatusCancelled)
	require.NoError(t, err)
	assert.False(t, ok, "resolving an already-terminal projection must be a no-op")
}

func TestRearm_RequiresRecurrence(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Projection{Summary: "One-off", Resolution: ResolutionExact})
	require.NoError(t, err)
	_, err = s.Resolve(ctx, id, StatusPassed)
	require.NoError(t, err)

	_, err = s.Rearm(ctx, id, time.Now().Add(24*time.Hour))
	assert.Error(t, err)
}

func TestRearm_RecurringReturnsToPending(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Projection{
		Summary:    "Weekly review",
		Resolution: ResolutionExact,
		Recurrence: "0 9 * * 5",
	})
	require.NoError(t, err)
	_, err = s.Resolve(ctx, id, StatusPassed)
	require.NoError(t, err)

	next := time.Now().Add(7 * 24 * time.Hour)
	ok, err := s.Rearm(ctx, id, next)
	require.NoError(t, err)
	assert.True(t, ok)

	due, err := s.GetExactDue(ctx, 10*24*60)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, StatusPending, due[0].Status)
}

func TestGetUpcoming_IncludesNullAndSomeday(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, Projection{Summary: "No time set", Resolution: ResolutionSomeday})
	require.NoError(t, err)
	_, err = s.Add(ctx, Projection{Summary: "Reflection candidate with no resolution"})
	require.NoError(t, err)

	results, err := s.GetUpcoming(ctx, 7)
	require.NoError(t, err)
	assert.Len(t, results, 2)
}

func TestAutoExpire_SkipsSomeday(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	past := time.Now().Add(-48 * time.Hour)
	_, err := s.Add(ctx, Projection{
		Summary: "Someday idea", Resolution: ResolutionSomeday,
		ResolvedWhen: &past, ResolvedWhenHasTime: true,
	})
	require.NoError(t, err)

	_, err = s.Add(ctx, Projection{
		Summary: "Overdue reminder", Resolution: ResolutionExact,
		ResolvedWhen: &past, ResolvedWhenHasTime: true,
	})
	require.NoError(t, err)

	n, err := s.AutoExpire(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	upcoming, err := s.GetUpcoming(ctx, 7)
	require.NoError(t, err)
	require.Len(t, upcoming, 1)
	assert.Equal(t, "Someday idea", upcoming[0].Summary)
}

func TestLinkDependency_RejectsCycle(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a, err := s.Add(ctx, Projection{Summary: "A", Resolution: ResolutionSomeday})
	require.NoError(t, err)
	b, err := s.Add(ctx, Projection{Summary: "B", Resolution: ResolutionSomeday})
	require.NoError(t, err)

	require.NoError(t, s.LinkDependency(ctx, a, b, ConditionDone))
	err = s.LinkDependency(ctx, b, a, ConditionDone)
	assert.Error(t, err, "linking b->a after a->b would create a cycle")
}

func TestLinkDependency_RejectsOverDepth(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	ids := make([]string, MaxDependencyDepth+2)
	for i := range ids {
		id, err := s.Add(ctx, Projection{Summary: "node", Resolution: ResolutionSomeday})
		require.NoError(t, err)
		ids[i] = id
	}

	for i := 0; i < len(ids)-1; i++ {
		err := s.LinkDependency(ctx, ids[i], ids[i+1], ConditionDone)
		if i < MaxDependencyDepth {
			require.NoError(t, err, "link %d should succeed", i)
		} else {
			assert.Error(t, err, "link %d should exceed max depth", i)
		}
	}
}

func TestEvaluateDependencies_ActivatesObserver(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	subject, err := s.Add(ctx, Projection{Summary: "Dentist confirmed", Resolution: ResolutionSomeday})
	require.NoError(t, err)
	observer, err := s.Add(ctx, Projection{Summary: "Book time off", Resolution: ResolutionSomeday})
	require.NoError(t, err)
	require.NoError(t, s.LinkDependency(ctx, observer, subject, ConditionDone))

	_, err = s.Resolve(ctx, subject, StatusDone)
	require.NoError(t, err)

	due, err := s.GetExactDue(ctx, 5)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, observer, due[0].ID)
}

func TestCheckTriggers_KeywordActivatesOnce(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, Projection{
		Summary: "Book time off", Resolution: ResolutionSomeday,
		TriggerOnFact: "dentist confirmed",
	})
	require.NoError(t, err)

	activated, err := s.CheckTriggers(ctx, "Dentist confirmed for Thursday 11am", nil, 0.5)
	require.NoError(t, err)
	require.Len(t, activated, 1)
	assert.Equal(t, id, activated[0].ID)

	activated, err = s.CheckTriggers(ctx, "Dentist confirmed for Thursday 11am", nil, 0.5)
	require.NoError(t, err)
	assert.Empty(t, activated, "a second run on an already-activated projection is a no-op")
}

func TestNextOccurrence_InvalidCron(t *testing.T) {
	_, ok := NextOccurrence("not a cron", time.Now())
	assert.False(t, ok)
}

func TestNextOccurrence_Valid(t *testing.T) {
	next, ok := NextOccurrence("0 9 * * 5", time.Now())
	assert.True(t, ok)
	assert.Equal(t, time.Friday, next.Weekday())
}
