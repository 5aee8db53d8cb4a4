package archival

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"), WithWeights(0.5, 0.5, 0))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAdd_Dedup(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id1, err := s.Add(ctx, "Dentist confirmed for Thursday 11am", SourceConversation, nil)
	require.NoError(t, err)

	id2, err := s.Add(ctx, "Dentist confirmed for Thursday 11am", SourceArchival, nil)
	require.NoError(t, err)

	assert.Equal(t, id1, id2, "re-adding identical content must return the original id")

	var count int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM facts`).Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSearchKeyword_EmptyQuery(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "the quick brown fox", SourceCLI, nil)
	require.NoError(t, err)

	results, err := s.SearchKeyword(ctx, "", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchKeyword_MatchesAndRanks(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "Buy groceries for the weekend", SourceConversation, nil)
	require.NoError(t, err)
	_, err = s.Add(ctx, "Call the dentist about Thursday", SourceConversation, nil)
	require.NoError(t, err)

	results, err := s.SearchKeyword(ctx, "dentist", 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Contains(t, results[0].Content, "dentist")
	assert.Equal(t, []string{"keyword"}, results[0].MatchedBy)
}

func TestSearchKeyword_SanitizesOperators(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "dentist OR doctor appointment", SourceConversation, nil)
	require.NoError(t, err)

	// A raw FTS5 boolean/special-character expression must not error out or
	// be interpreted as search syntax; it still finds the literal tokens.
	results, err := s.SearchKeyword(ctx, `dentist" OR 1=1 --`, 10)
	require.NoError(t, err)
	assert.NotEmpty(t, results)
}

func TestSearchVector_NoEmbedder(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	_, err := s.Add(ctx, "no embedding here", SourceConversation, nil)
	require.NoError(t, err)

	results, err := s.SearchVector(ctx, nil, 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}

func TestSearchVector_CosineRanking(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	_, err := s.Add(ctx, "close match", SourceConversation, []float32{1, 0, 0})
	require.NoError(t, err)
	_, err = s.Add(ctx, "far match", SourceConversation, []float32{0, 1, 0})
	require.NoError(t, err)

	results, err := s.SearchVector(ctx, []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, "close match", results[0].Content)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestHybridSearch_DedupesByID(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "dentist appointment thursday", SourceConversation, []float32{1, 0, 0})
	require.NoError(t, err)

	results, err := s.HybridSearch(ctx, "dentist", []float32{1, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].ID)
	assert.ElementsMatch(t, []string{"keyword", "vector"}, results[0].MatchedBy)
}

func TestRemove(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	id, err := s.Add(ctx, "ephemeral note", SourceCLI, nil)
	require.NoError(t, err)
	require.NoError(t, s.Remove(ctx, id))

	results, err := s.SearchKeyword(ctx, "ephemeral", 10)
	require.NoError(t, err)
	assert.Empty(t, results)
}
