// Package corememory implements the single always-visible, section-structured
// markdown document the session orchestrator injects into every system
// prompt.
package corememory

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/tendwatch/tendwatch/internal/atomicfile"
)

// MaxBytes is the enforced size ceiling for the whole document.
const MaxBytes = 4096

// ErrKind is the closed set of structured failure reasons append/replace
// can return, so callers (the trust-gated core_memory tool) can report a
// specific reason to the LLM rather than a bare error string.
type ErrKind string

const (
	ErrSectionNotFound  ErrKind = "section-not-found"
	ErrTextNotFound     ErrKind = "text-not-found"
	ErrSizeLimitExceeded ErrKind = "size-limit-exceeded"
)

// Error wraps an ErrKind with a human-readable message.
type Error struct {
	Kind ErrKind
	Msg  string
}

func (e *Error) Error() string { return e.Msg }

func newError(kind ErrKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Store owns the single core-memory.md file for one user.
type Store struct {
	mu   sync.Mutex
	path string
}

// Open returns a Store bound to path, reading nothing yet — the file is
// created lazily on first write if absent.
func Open(path string) *Store {
	return &Store{path: path}
}

// Read returns the whole document, or an empty string if it doesn't exist
// yet.
func (s *Store) Read() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.read()
}

func (s *Store) read() (string, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("corememory: read: %w", err)
	}
	return string(data), nil
}

func sectionHeading(section string) string {
	return "## " + section
}

// Append finds (or creates, at the end of the document) the `## section`
// heading and appends content below it. Rejects if the resulting document
// would exceed MaxBytes, leaving prior contents untouched.
func (s *Store) Append(section, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	heading := sectionHeading(section)
	lines := splitLines(doc)
	idx := findHeading(lines, heading)

	var next []string
	if idx == -1 {
		next = append(append([]string{}, lines...), heading, content)
	} else {
		insertAt := idx + 1
		for insertAt < len(lines) && !isHeading(lines[insertAt]) {
			insertAt++
		}
		next = append([]string{}, lines[:insertAt]...)
		next = append(next, content)
		next = append(next, lines[insertAt:]...)
	}

	updated := strings.Join(trimTrailingBlank(next), "\n") + "\n"
	if len(updated) > MaxBytes {
		return newError(ErrSizeLimitExceeded, "corememory: append would grow document to %d bytes (limit %d)", len(updated), MaxBytes)
	}
	return s.write(updated)
}

// Replace replaces the first occurrence of old with new, strictly within
// section's body. Fails with ErrSectionNotFound or ErrTextNotFound without
// modifying the document.
func (s *Store) Replace(section, old, new string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, err := s.read()
	if err != nil {
		return err
	}

	heading := sectionHeading(section)
	lines := splitLines(doc)
	idx := findHeading(lines, heading)
	if idx == -1 {
		return newError(ErrSectionNotFound, "corememory: section %q not found", section)
	}

	end := idx + 1
	for end < len(lines) && !isHeading(lines[end]) {
		end++
	}

	body := strings.Join(lines[idx+1:end], "\n")
	if !strings.Contains(body, old) {
		return newError(ErrTextNotFound, "corememory: text not found in section %q", section)
	}
	newBody := strings.Replace(body, old, new, 1)

	next := append([]string{}, lines[:idx+1]...)
	next = append(next, splitLines(newBody)...)
	next = append(next, lines[end:]...)

	updated := strings.Join(trimTrailingBlank(next), "\n") + "\n"
	if len(updated) > MaxBytes {
		return newError(ErrSizeLimitExceeded, "corememory: replace would grow document to %d bytes (limit %d)", len(updated), MaxBytes)
	}
	return s.write(updated)
}

func (s *Store) write(content string) error {
	return atomicfile.Write(s.path, []byte(content), 0o644)
}

func splitLines(doc string) []string {
	if doc == "" {
		return nil
	}
	return strings.Split(strings.TrimRight(doc, "\n"), "\n")
}

func isHeading(line string) bool {
	return strings.HasPrefix(line, "## ")
}

func findHeading(lines []string, heading string) int {
	for i, l := range lines {
		if strings.TrimRight(l, " ") == heading {
			return i
		}
	}
	return -1
}

func trimTrailingBlank(lines []string) []string {
	for len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}
