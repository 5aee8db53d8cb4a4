// Package projection implements the durable store of future-oriented
// commitments: time-based, event-triggered, and dependency-activated.
package projection

import "time"

// Resolution is the closed set of ways a projection's due time is
// specified.
type Resolution string

const (
	ResolutionExact   Resolution = "exact"
	ResolutionDay     Resolution = "day"
	ResolutionWeek    Resolution = "week"
	ResolutionMonth   Resolution = "month"
	ResolutionSomeday Resolution = "someday"
)

// Valid reports whether r is one of the known resolutions.
func (r Resolution) Valid() bool {
	switch r {
	case ResolutionExact, ResolutionDay, ResolutionWeek, ResolutionMonth, ResolutionSomeday:
		return true
	}
	return false
}

// Status is the closed set of lifecycle states a projection moves through.
type Status string

const (
	StatusPending   Status = "pending"
	StatusDone      Status = "done"
	StatusCancelled Status = "cancelled"
	StatusPassed    Status = "passed"
)

// Valid reports whether s is one of the known statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusDone, StatusCancelled, StatusPassed:
		return true
	}
	return false
}

// Terminal reports whether s is one of the projection's terminal states.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusCancelled, StatusPassed:
		return true
	}
	return false
}

// DependencyCondition is the closed set of conditions an observer can wait
// on a subject projection for.
type DependencyCondition string

const (
	ConditionDone         DependencyCondition = "done"
	ConditionCancelled    DependencyCondition = "cancelled"
	ConditionPassed       DependencyCondition = "passed"
	ConditionAnyTerminal  DependencyCondition = "any-terminal"
)

// Valid reports whether c is one of the known conditions.
func (c DependencyCondition) Valid() bool {
	switch c {
	case ConditionDone, ConditionCancelled, ConditionPassed, ConditionAnyTerminal:
		return true
	}
	return false
}

// Satisfied reports whether a subject reaching status satisfies condition c.
func (c DependencyCondition) Satisfied(status Status) bool {
	if c == ConditionAnyTerminal {
		return status.Terminal()
	}
	return string(c) == string(status)
}

// dateTimeLayout is the canonical "YYYY-MM-DD HH:MM" UTC format used
// everywhere a resolved_when is rendered or parsed, per spec.md §6.
const dateTimeLayout = "2006-01-02 15:04"

// dateLayout is used for resolution=day/week/month entries with no time
// component.
const dateLayout = "2006-01-02"

// Projection is a typed, durable record of a future-oriented commitment.
type Projection struct {
	ID            string
	Summary       string
	RawWhen       string     // free-text original phrase, may be empty
	ResolvedWhen  *time.Time // nil = unresolved
	ResolvedWhenHasTime bool // false when only a date (day/week/month resolution) was given
	Resolution    Resolution
	Recurrence    string // cron expression, empty = none
	TriggerOnFact string // empty = none
	Context       string
	LinkedIDs     []string
	Status        Status
	CreatedAt     time.Time
	ResolvedAt    *time.Time
}

// FormatResolvedWhen renders ResolvedWhen in the canonical store format.
func (p *Projection) FormatResolvedWhen() string {
	if p.ResolvedWhen == nil {
		return ""
	}
	if p.ResolvedWhenHasTime {
		return p.ResolvedWhen.UTC().Format(dateTimeLayout)
	}
	return p.ResolvedWhen.UTC().Format(dateLayout)
}

// Dependency records that observerID waits on subjectID reaching condition.
type Dependency struct {
	ObserverID string
	SubjectID  string
	Condition  DependencyCondition
}

// MaxDependencyDepth bounds the dependency chain linkDependency will allow.
const MaxDependencyDepth = 5
