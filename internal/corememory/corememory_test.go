package corememory

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppend_CreatesSectionWhenMissing(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "core-memory.md"))
	require.NoError(t, s.Append("Preferences", "Prefers concise replies."))

	doc, err := s.Read()
	require.NoError(t, err)
	assert.Contains(t, doc, "## Preferences")
	assert.Contains(t, doc, "Prefers concise replies.")
}

func TestAppend_AppendsUnderExistingSection(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "core-memory.md"))
	require.NoError(t, s.Append("Preferences", "Likes tea."))
	require.NoError(t, s.Append("Preferences", "Works remote."))
	require.NoError(t, s.Append("Goals", "Ship the project."))

	doc, err := s.Read()
	require.NoError(t, err)

	prefIdx := strings.Index(doc, "## Preferences")
	goalsIdx := strings.Index(doc, "## Goals")
	require.True(t, prefIdx >= 0 && goalsIdx > prefIdx)

	section := doc[prefIdx:goalsIdx]
	assert.Contains(t, section, "Likes tea.")
	assert.Contains(t, section, "Works remote.")
}

func TestReplace_SectionNotFound(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "core-memory.md"))
	require.NoError(t, s.Append("Goals", "Ship the project."))

	err := s.Replace("Nonexistent", "a", "b")
	require.Error(t, err)
	var cmErr *Error
	require.ErrorAs(t, err, &cmErr)
	assert.Equal(t, ErrSectionNotFound, cmErr.Kind)
}

func TestReplace_TextNotFound(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "core-memory.md"))
	require.NoError(t, s.Append("Goals", "Ship the project."))

	err := s.Replace("Goals", "nonexistent text", "replacement")
	require.Error(t, err)
	var cmErr *Error
	require.ErrorAs(t, err, &cmErr)
	assert.Equal(t, ErrTextNotFound, cmErr.Kind)
}

func TestReplace_ReplacesFirstOccurrence(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "core-memory.md"))
	require.NoError(t, s.Append("Goals", "Ship the project by Friday."))
	require.NoError(t, s.Replace("Goals", "Friday", "Monday"))

	doc, err := s.Read()
	require.NoError(t, err)
	assert.Contains(t, doc, "Ship the project by Monday.")
	assert.NotContains(t, doc, "Friday")
}

func TestAppend_SizeLimitPreservesPriorContents(t *testing.T) {
	s := Open(filepath.Join(t.TempDir(), "core-memory.md"))
	require.NoError(t, s.Append("Goals", "short"))

	before, err := s.Read()
	require.NoError(t, err)

	big := strings.Repeat("x", MaxBytes)
	err = s.Append("Goals", big)
	require.Error(t, err)
	var cmErr *Error
	require.ErrorAs(t, err, &cmErr)
	assert.Equal(t, ErrSizeLimitExceeded, cmErr.Kind)

	after, err := s.Read()
	require.NoError(t, err)
	assert.Equal(t, before, after, "a rejected write must leave prior contents verbatim")
}
