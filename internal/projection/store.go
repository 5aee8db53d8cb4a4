package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/adhocore/gronx"
	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/tendwatch/tendwatch/internal/embedding"
)

const schema = `
CREATE TABLE IF NOT EXISTS projections (
	id                     TEXT PRIMARY KEY,
	summary                TEXT NOT NULL,
	raw_when               TEXT,
	resolved_when          TEXT,
	resolved_when_has_time INTEGER NOT NULL DEFAULT 0,
	resolution             TEXT NOT NULL,
	recurrence             TEXT,
	trigger_on_fact        TEXT,
	context                TEXT,
	linked_ids             TEXT,
	status                 TEXT NOT NULL,
	created_at             INTEGER NOT NULL,
	resolved_at            INTEGER
);

CREATE TABLE IF NOT EXISTS dependencies (
	observer_id TEXT NOT NULL,
	subject_id  TEXT NOT NULL,
	condition   TEXT NOT NULL,
	PRIMARY KEY (observer_id, subject_id)
);
`

// EmbedFunc embeds text for trigger-matching cosine similarity. Returning a
// nil slice or an error is treated as "embedding unavailable" — keyword
// matching still runs.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Store is a per-user durable projection + dependency store.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the SQLite-backed store at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("projection: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("projection: migrate schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func joinIDs(ids []string) string { return strings.Join(ids, ",") }

func splitIDs(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func timeToMillis(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixMilli()
}

func millisToTime(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.UnixMilli(ns.Int64).UTC()
	return &t
}

// Add stores p, assigning an id if unset, and creates dependency rows for
// every entry in p.LinkedIDs treated as "this projection depends on".
func (s *Store) Add(ctx context.Context, p Projection) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.Status == "" {
		p.Status = StatusPending
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO projections (id, summary, raw_when, resolved_when, resolved_when_has_time,
			resolution, recurrence, trigger_on_fact, context, linked_ids, status, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Summary, p.RawWhen, nullableResolvedWhen(p), boolToInt(p.ResolvedWhenHasTime),
		string(p.Resolution), p.Recurrence, p.TriggerOnFact, p.Context, joinIDs(p.LinkedIDs),
		string(p.Status), p.CreatedAt.UnixMilli(), timeToMillis(p.ResolvedAt),
	)
	if err != nil {
		return "", fmt.Errorf("projection: insert: %w", err)
	}

	for _, subjectID := range p.LinkedIDs {
		if err := linkDependencyTx(ctx, tx, p.ID, subjectID, ConditionAnyTerminal); err != nil {
			return "", err
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("projection: commit: %w", err)
	}
	return p.ID, nil
}

func nullableResolvedWhen(p Projection) any {
	if p.ResolvedWhen == nil {
		return nil
	}
	return p.FormatResolvedWhen()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func scanProjection(row interface {
	Scan(dest ...any) error
}) (Projection, error) {
	var p Projection
	var rawWhen, resolvedWhen, recurrence, triggerOnFact, context, linkedIDs sql.NullString
	var resolvedWhenHasTime int
	var resolution, status string
	var createdAtMs int64
	var resolvedAtMs sql.NullInt64

	err := row.Scan(&p.ID, &p.Summary, &rawWhen, &resolvedWhen, &resolvedWhenHasTime,
		&resolution, &recurrence, &triggerOnFact, &context, &linkedIDs,
		&status, &createdAtMs, &resolvedAtMs)
	if err != nil {
		return Projection{}, err
	}

	p.RawWhen = rawWhen.String
	p.Recurrence = recurrence.String
	p.TriggerOnFact = triggerOnFact.String
	p.Context = context.String
	p.LinkedIDs = splitIDs(linkedIDs.String)
	p.Resolution = Resolution(resolution)
	p.Status = Status(status)
	p.CreatedAt = time.UnixMilli(createdAtMs).UTC()
	p.ResolvedAt = millisToTime(resolvedAtMs)
	p.ResolvedWhenHasTime = resolvedWhenHasTime != 0

	if resolvedWhen.Valid && resolvedWhen.String != "" {
		layout := dateLayout
		if p.ResolvedWhenHasTime {
			layout = dateTimeLayout
		}
		t, err := time.Parse(layout, resolvedWhen.String)
		if err == nil {
			t = t.UTC()
			p.ResolvedWhen = &t
		}
	}
	return p, nil
}

const selectColumns = `id, summary, raw_when, resolved_when, resolved_when_has_time,
	resolution, recurrence, trigger_on_fact, context, linked_ids, status, created_at, resolved_at`

// GetUpcoming returns every pending projection due within horizonDays, plus
// every pending someday projection and every pending projection with no
// resolved_when at all.
func (s *Store) GetUpcoming(ctx context.Context, horizonDays int) ([]Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	horizon := time.Now().UTC().AddDate(0, 0, horizonDays).Format(dateTimeLayout)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM projections
		WHERE status = ? AND (
			resolution = ? OR
			resolved_when IS NULL OR
			resolved_when <= ?
		)
		ORDER BY COALESCE(resolved_when, '9999-99-99')`,
		string(StatusPending), string(ResolutionSomeday), horizon)
	if err != nil {
		return nil, fmt.Errorf("projection: query upcoming: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

// GetExactDue returns pending exact-resolution projections due within
// [now, now+windowMinutes].
func (s *Store) GetExactDue(ctx context.Context, windowMinutes int) ([]Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	until := now.Add(time.Duration(windowMinutes) * time.Minute)
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+selectColumns+` FROM projections
		WHERE status = ? AND resolution = ? AND resolved_when IS NOT NULL
			AND resolved_when >= ? AND resolved_when <= ?
		ORDER BY resolved_when`,
		string(StatusPending), string(ResolutionExact),
		now.Format(dateTimeLayout), until.Format(dateTimeLayout))
	if err != nil {
		return nil, fmt.Errorf("projection: query exact due: %w", err)
	}
	defer rows.Close()
	return scanAll(rows)
}

func scanAll(rows *sql.Rows) ([]Projection, error) {
	var out []Projection
	for rows.Next() {
		p, err := scanProjection(rows)
		if err != nil {
			return nil, fmt.Errorf("projection: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (s *Store) getByID(ctx context.Context, tx *sql.Tx, id string) (Projection, error) {
	row := tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM projections WHERE id = ?`, id)
	return scanProjection(row)
}

// Resolve atomically transitions a pending projection to a terminal state.
// Idempotent: returns false without error if the projection is already
// terminal or doesn't exist. On success, also evaluates dependencies whose
// subject is this projection.
func (s *Store) Resolve(ctx context.Context, id string, outcome Status) (bool, error) {
	if !outcome.Terminal() {
		return false, fmt.Errorf("projection: resolve outcome %q is not terminal", outcome)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.getByID(ctx, tx, id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("projection: lookup: %w", err)
	}
	if p.Status.Terminal() {
		return false, nil
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE projections SET status = ?, resolved_at = ? WHERE id = ?`,
		string(outcome), now.UnixMilli(), id); err != nil {
		return false, fmt.Errorf("projection: update status: %w", err)
	}

	if err := evaluateDependenciesForSubjectTx(ctx, tx, id, outcome); err != nil {
		return false, err
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("projection: commit: %w", err)
	}
	return true, nil
}

// Rearm transitions a terminal recurring projection back to pending with a
// new resolved_when. Only valid when the projection has a non-empty
// recurrence.
func (s *Store) Rearm(ctx context.Context, id string, newResolvedWhen time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	p, err := s.getByID(ctx, tx, id)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("projection: lookup: %w", err)
	}
	if p.Recurrence == "" {
		return false, fmt.Errorf("projection: rearm requires non-empty recurrence")
	}

	resolved := newResolvedWhen.UTC().Format(dateTimeLayout)
	_, err = tx.ExecContext(ctx, `
		UPDATE projections
		SET status = ?, resolved_when = ?, resolved_when_has_time = 1, resolved_at = NULL
		WHERE id = ?`,
		string(StatusPending), resolved, id)
	if err != nil {
		return false, fmt.Errorf("projection: rearm update: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("projection: commit: %w", err)
	}
	return true, nil
}

// NextOccurrence computes the next time cronExpr fires strictly after
// after, using UTC. Returns ok=false if cronExpr is invalid or has no
// future occurrence.
func NextOccurrence(cronExpr string, after time.Time) (t time.Time, ok bool) {
	g := gronx.New()
	if !g.IsValid(cronExpr) {
		return time.Time{}, false
	}
	next, err := gronx.NextTickAfter(cronExpr, after.UTC(), false)
	if err != nil {
		return time.Time{}, false
	}
	return next.UTC(), true
}

// AutoExpire marks as passed any pending projection whose resolved_when is
// older than now-graceHours. Someday projections are never auto-expired
// (enforced by the resolved_when IS NOT NULL clause).
func (s *Store) AutoExpire(ctx context.Context, graceHours int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().UTC().Add(-time.Duration(graceHours) * time.Hour).Format(dateTimeLayout)
	res, err := s.db.ExecContext(ctx, `
		UPDATE projections SET status = ?, resolved_at = ?
		WHERE status = ? AND resolution != ? AND resolved_when IS NOT NULL AND resolved_when < ?`,
		string(StatusPassed), time.Now().UTC().UnixMilli(),
		string(StatusPending), string(ResolutionSomeday), cutoff)
	if err != nil {
		return 0, fmt.Errorf("projection: auto-expire: %w", err)
	}
	n, _ := res.RowsAffected()
	return int(n), nil
}

// LinkDependency adds a dependency row, rejecting cycles and chains longer
// than MaxDependencyDepth. On rejection the graph is left unchanged.
func (s *Store) LinkDependency(ctx context.Context, observerID, subjectID string, condition DependencyCondition) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := linkDependencyTx(ctx, tx, observerID, subjectID, condition); err != nil {
		return err
	}
	return tx.Commit()
}

func linkDependencyTx(ctx context.Context, tx *sql.Tx, observerID, subjectID string, condition DependencyCondition) error {
	if observerID == subjectID {
		return fmt.Errorf("projection: dependency would self-reference %s", observerID)
	}

	depth, cyclic, err := dependencyDepth(ctx, tx, subjectID, observerID, map[string]bool{})
	if err != nil {
		return err
	}
	if cyclic {
		return fmt.Errorf("projection: linking %s -> %s would introduce a cycle", observerID, subjectID)
	}
	// Count the links already chained above observerID, so a chain grown from
	// either end is measured in full.
	var above int
	if err := tx.QueryRowContext(ctx, `
		WITH RECURSIVE up(id, n) AS (
			SELECT ?, 0
			UNION SELECT d.observer_id, up.n + 1 FROM dependencies d JOIN up ON d.subject_id = up.id
			WHERE up.n < ?
		)
		SELECT MAX(n) FROM up`, observerID, MaxDependencyDepth).Scan(&above); err != nil {
		return fmt.Errorf("projection: walk observers: %w", err)
	}
	if depth+above >= MaxDependencyDepth {
		return fmt.Errorf("projection: linking %s -> %s exceeds max chain depth %d", observerID, subjectID, MaxDependencyDepth)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO dependencies (observer_id, subject_id, condition) VALUES (?, ?, ?)`,
		observerID, subjectID, string(condition))
	if err != nil {
		return fmt.Errorf("projection: insert dependency: %w", err)
	}
	return nil
}

// dependencyDepth walks from subjectID following existing "subject depends
// on X" edges (i.e. subjectID acting as an observer of further subjects) to
// detect whether newObserverID already appears upstream (a cycle) and how
// many links already hang below subjectID.
func dependencyDepth(ctx context.Context, tx *sql.Tx, subjectID, newObserverID string, visited map[string]bool) (int, bool, error) {
	if subjectID == newObserverID {
		return 0, true, nil
	}
	if visited[subjectID] {
		return 0, false, nil
	}
	visited[subjectID] = true

	rows, err := tx.QueryContext(ctx, `SELECT subject_id FROM dependencies WHERE observer_id = ?`, subjectID)
	if err != nil {
		return 0, false, fmt.Errorf("projection: walk dependencies: %w", err)
	}
	defer rows.Close()

	maxDepth := 0
	for rows.Next() {
		var next string
		if err := rows.Scan(&next); err != nil {
			return 0, false, err
		}
		d, cyclic, err := dependencyDepth(ctx, tx, next, newObserverID, visited)
		if err != nil {
			return 0, false, err
		}
		if cyclic {
			return 0, true, nil
		}
		if d+1 > maxDepth {
			maxDepth = d + 1
		}
	}
	return maxDepth, false, rows.Err()
}

// EvaluateDependencies scans active dependencies and activates any observer
// whose subject has reached the required condition. Idempotent: once a
// dependency row is consumed it's removed, so re-running is a no-op for it.
func (s *Store) EvaluateDependencies(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `
		SELECT d.observer_id, d.condition, p.status
		FROM dependencies d
		JOIN projections p ON p.id = d.subject_id`)
	if err != nil {
		return 0, fmt.Errorf("projection: scan dependencies: %w", err)
	}

	type activation struct {
		observerID string
	}
	var toActivate []activation
	for rows.Next() {
		var observerID, condition, status string
		if err := rows.Scan(&observerID, &condition, &status); err != nil {
			rows.Close()
			return 0, err
		}
		if DependencyCondition(condition).Satisfied(Status(status)) {
			toActivate = append(toActivate, activation{observerID: observerID})
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	count := 0
	now := time.Now().UTC()
	for _, a := range toActivate {
		p, err := s.getByID(ctx, tx, a.observerID)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return 0, fmt.Errorf("projection: lookup observer: %w", err)
		}
		if p.Status != StatusPending {
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections SET resolution = ?, resolved_when = ?, resolved_when_has_time = 1 WHERE id = ?`,
			string(ResolutionExact), now.Format(dateTimeLayout), a.observerID); err != nil {
			return 0, fmt.Errorf("projection: activate observer: %w", err)
		}
		count++
	}

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM dependencies WHERE EXISTS (
			SELECT 1 FROM projections p WHERE p.id = dependencies.subject_id
				AND (p.status = dependencies.condition OR (dependencies.condition = ? AND p.status IN (?, ?, ?)))
		)`, string(ConditionAnyTerminal), string(StatusDone), string(StatusCancelled), string(StatusPassed)); err != nil {
		return 0, fmt.Errorf("projection: prune consumed dependencies: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("projection: commit: %w", err)
	}
	return count, nil
}

// evaluateDependenciesForSubjectTx is the narrower form Resolve calls
// inline, evaluating only dependencies observing the projection that was
// just resolved.
func evaluateDependenciesForSubjectTx(ctx context.Context, tx *sql.Tx, subjectID string, outcome Status) error {
	rows, err := tx.QueryContext(ctx, `SELECT observer_id, condition FROM dependencies WHERE subject_id = ?`, subjectID)
	if err != nil {
		return fmt.Errorf("projection: scan observers of %s: %w", subjectID, err)
	}
	type obs struct {
		id        string
		condition DependencyCondition
	}
	var observers []obs
	for rows.Next() {
		var o obs
		var cond string
		if err := rows.Scan(&o.id, &cond); err != nil {
			rows.Close()
			return err
		}
		o.condition = DependencyCondition(cond)
		observers = append(observers, o)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	now := time.Now().UTC()
	for _, o := range observers {
		if !o.condition.Satisfied(outcome) {
			continue
		}
		p, err := scanProjection(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM projections WHERE id = ?`, o.id))
		if err == sql.ErrNoRows || (err == nil && p.Status != StatusPending) {
			continue
		}
		if err != nil {
			return fmt.Errorf("projection: lookup observer %s: %w", o.id, err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE projections SET resolution = ?, resolved_when = ?, resolved_when_has_time = 1 WHERE id = ?`,
			string(ResolutionExact), now.Format(dateTimeLayout), o.id); err != nil {
			return fmt.Errorf("projection: activate observer %s: %w", o.id, err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM dependencies WHERE observer_id = ? AND subject_id = ?`, o.id, subjectID); err != nil {
			return fmt.Errorf("projection: remove consumed dependency: %w", err)
		}
	}
	return nil
}

// CheckTriggers runs on every archival insert: for each pending projection
// with a non-empty trigger_on_fact, tries a whitespace-token substring
// match against factContent, then (if embedFn is provided) cosine
// similarity over embeddings. Activation clears trigger_on_fact and sets
// resolution=exact, resolved_when=now.
func (s *Store) CheckTriggers(ctx context.Context, factContent string, embedFn EmbedFunc, threshold float64) ([]Projection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("projection: begin tx: %w", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT `+selectColumns+` FROM projections
		WHERE status = ? AND trigger_on_fact IS NOT NULL AND trigger_on_fact != ''`,
		string(StatusPending))
	if err != nil {
		return nil, fmt.Errorf("projection: scan triggerable: %w", err)
	}
	candidates, err := scanAll(rows)
	rows.Close()
	if err != nil {
		return nil, err
	}

	lowerFact := strings.ToLower(factContent)
	var factEmbedding []float32
	var factEmbedErr error
	factEmbedAttempted := false

	var activated []Projection
	now := time.Now().UTC()

	for _, p := range candidates {
		match := keywordTriggerMatch(p.TriggerOnFact, lowerFact)

		if !match && embedFn != nil {
			if !factEmbedAttempted {
				factEmbedAttempted = true
				factEmbedding, factEmbedErr = embedFn(ctx, factContent)
			}
			if factEmbedErr == nil && len(factEmbedding) > 0 {
				triggerEmbedding, err := embedFn(ctx, p.TriggerOnFact)
				if err == nil && len(triggerEmbedding) > 0 {
					sim := embedding.CosineSimilarity(
						embedding.Normalize(append([]float32{}, factEmbedding...)),
						embedding.Normalize(append([]float32{}, triggerEmbedding...)))
					match = sim >= threshold
				}
			}
		}

		if !match {
			continue
		}

		if _, err := tx.ExecContext(ctx, `
			UPDATE projections
			SET resolution = ?, resolved_when = ?, resolved_when_has_time = 1, trigger_on_fact = ''
			WHERE id = ?`,
			string(ResolutionExact), now.Format(dateTimeLayout), p.ID); err != nil {
			return nil, fmt.Errorf("projection: activate trigger for %s: %w", p.ID, err)
		}

		p.Resolution = ResolutionExact
		p.ResolvedWhen = &now
		p.ResolvedWhenHasTime = true
		p.TriggerOnFact = ""
		activated = append(activated, p)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("projection: commit: %w", err)
	}

	if len(activated) > 0 {
		slog.Info("projection: triggers activated", "count", len(activated))
	}
	return activated, nil
}

func keywordTriggerMatch(trigger, lowerFact string) bool {
	if trigger == "" {
		return false
	}
	for _, tok := range strings.Fields(strings.ToLower(trigger)) {
		if !strings.Contains(lowerFact, tok) {
			return false
		}
	}
	return true
}
