package models

import "time"

// AnalysisMode selects whether a run analyzes the whole repository or
// only what changed since a base reference.
type AnalysisMode string

const (
	ModeFull        AnalysisMode = "Full"
	ModeIncremental AnalysisMode = "Incremental"
)

// AnalysisSession records one full or incremental orchestration run.
// Once CompletedAt is set the session is immutable; Store rejects
// further writes to it.
type AnalysisSession struct {
	ID             string
	Path           string
	Mode           AnalysisMode
	BaseReference  *string
	CurrentCommit  *string
	FilesAnalyzed  []string
	FilesSkipped   []string
	ModuleCount    int
	FunctionCount  int
	CacheHits      int
	CacheMisses    int
	StartedAt      time.Time
	CompletedAt    *time.Time
	Errors         []string
}

// Done reports whether the session has been finalized.
func (s *AnalysisSession) Done() bool {
	return s.CompletedAt != nil
}
