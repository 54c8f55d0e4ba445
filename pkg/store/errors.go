package store

import "errors"

var (
	// ErrNotFound is returned when a lookup by id finds no row.
	ErrNotFound = errors.New("store: not found")

	// ErrIllegalTransition is returned when UpdateCard's patch would
	// move a card's status across an edge the state machine forbids.
	ErrIllegalTransition = errors.New("store: illegal card status transition")

	// ErrPreconditionFailed is returned when a legal transition is
	// requested without the data it requires (e.g. Proposed without a
	// ProposedFix attached).
	ErrPreconditionFailed = errors.New("store: transition precondition not met")

	// ErrSessionImmutable is returned when a write targets an
	// AnalysisSession whose CompletedAt is already set.
	ErrSessionImmutable = errors.New("store: analysis session is immutable once completed")

	// ErrParentNotFound is returned when a card or agent references a
	// parent id that does not exist.
	ErrParentNotFound = errors.New("store: parent reference not found")
)
