// Package models defines the persistent shapes shared by the store,
// orchestrator, and agent runtime: cards, agents, analysis sessions, and
// their supporting value types.
package models

import "time"

// CardType classifies the kind of actionable output a Card represents.
type CardType string

const (
	CardTypeReview       CardType = "Review"
	CardTypeChange       CardType = "Change"
	CardTypeArchitecture CardType = "Architecture"
	CardTypeTest         CardType = "Test"
	CardTypeDefect       CardType = "Defect"
	CardTypeRequirement  CardType = "Requirement"
)

// cardTypeKind maps a CardType to the identifier prefix used when
// allocating card ids (PRJ-YEAR-KIND-NNNN).
var cardTypeKind = map[CardType]string{
	CardTypeReview:       "REV",
	CardTypeChange:       "CHG",
	CardTypeArchitecture: "ARC",
	CardTypeTest:         "TST",
	CardTypeDefect:       "DEF",
	CardTypeRequirement:  "REQ",
}

// Kind returns the KIND segment of this card type's identifier.
func (t CardType) Kind() (string, bool) {
	k, ok := cardTypeKind[t]
	return k, ok
}

// CardStatus is a node in the card state machine (spec §4.5).
type CardStatus string

const (
	CardStatusNew        CardStatus = "New"
	CardStatusQueued     CardStatus = "Queued"
	CardStatusInAnalysis CardStatus = "InAnalysis"
	CardStatusProposed   CardStatus = "Proposed"
	CardStatusInReview   CardStatus = "InReview"
	CardStatusApproved   CardStatus = "Approved"
	CardStatusBlocked    CardStatus = "Blocked"
	CardStatusDone       CardStatus = "Done"
)

// cardTransitions enumerates the permitted edges of the card state
// machine. An edge absent here must fail with ErrIllegalTransition.
var cardTransitions = map[CardStatus]map[CardStatus]bool{
	CardStatusNew:        {CardStatusQueued: true, CardStatusBlocked: true, CardStatusDone: true},
	CardStatusQueued:     {CardStatusInAnalysis: true, CardStatusBlocked: true},
	CardStatusInAnalysis: {CardStatusProposed: true, CardStatusBlocked: true, CardStatusDone: true},
	CardStatusProposed:   {CardStatusInReview: true, CardStatusInAnalysis: true},
	CardStatusInReview:   {CardStatusApproved: true, CardStatusInAnalysis: true, CardStatusBlocked: true},
	CardStatusApproved:   {CardStatusDone: true},
	CardStatusBlocked:    {CardStatusQueued: true, CardStatusInAnalysis: true},
	CardStatusDone:       {},
}

// CanTransition reports whether moving from the current status to `to`
// is a legal edge of the card state machine.
func (s CardStatus) CanTransition(to CardStatus) bool {
	return cardTransitions[s][to]
}

// CardPriority ranks a card's urgency.
type CardPriority string

const (
	PriorityP0 CardPriority = "P0"
	PriorityP1 CardPriority = "P1"
	PriorityP2 CardPriority = "P2"
	PriorityP3 CardPriority = "P3"
)

// CodeReference points at a specific location in the analyzed repository.
type CodeReference struct {
	Path   string `json:"path"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

// CardLinks collects the cross-references a card carries.
type CardLinks struct {
	Code      []CodeReference `json:"code,omitempty"`
	Tests     []CodeReference `json:"tests,omitempty"`
	Documents []string        `json:"documents,omitempty"`
}

// CardRouting records a handoff between two analysis views (e.g. a
// defect raised from Function-scope routed up for Module-scope triage).
type CardRouting struct {
	FromView string `json:"from_view"`
	ToView   string `json:"to_view"`
}

// ProposedFix is a single-hunk source change a card proposes. Multi-hunk
// fixes are represented as multiple cards chained by ParentCardID, since
// ApplyFix requires an unambiguous per-hunk order.
type ProposedFix struct {
	FilePath        string   `json:"file_path"`
	LineRangeStart  int      `json:"line_range_start"`
	LineRangeEnd    int      `json:"line_range_end"`
	OldText         string   `json:"old_text"`
	NewText         string   `json:"new_text"`
	ValidationFlags []string `json:"validation_flags,omitempty"`
}

// AuditEntry is one append-only record in a card's audit log. It is a
// closed struct rather than a free-form map: every event either carries
// a diff or it doesn't, and that shape should be enforced at compile
// time, not discovered at read time.
type AuditEntry struct {
	Timestamp time.Time `json:"ts"`
	Actor     string    `json:"actor"`
	Event     string    `json:"event"`
	Diff      *string   `json:"diff,omitempty"`
}

// Card is a unit of actionable output produced by the orchestrator.
type Card struct {
	ID            string
	Type          CardType
	Status        CardStatus
	Priority      CardPriority
	Title         string
	Summary       string
	OwnerAgentID  string
	ParentCardID  *string
	ChildCardIDs  []string
	Links         CardLinks
	Risk          float64
	Confidence    float64
	CoverageImpact float64
	Routing       *CardRouting
	ProposedFix   *ProposedFix
	AuditLog      []AuditEntry
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// CardPatch is a partial update applied by Store.UpdateCard. Nil fields
// are left untouched; the zero value is not used as "unset" since some
// fields (Risk, Confidence) are meaningfully zero.
type CardPatch struct {
	Status         *CardStatus
	Priority       *CardPriority
	Title          *string
	Summary        *string
	Links          *CardLinks
	Risk           *float64
	Confidence     *float64
	CoverageImpact *float64
	Routing        *CardRouting
	ProposedFix    *ProposedFix
}

// CardFilter narrows a Store query. Zero values are "no filter" for
// that field.
type CardFilter struct {
	Type         CardType
	Status       CardStatus
	OwnerAgentID string
	ParentCardID string
	Limit        int
	Offset       int
}
