// Package progress is the in-process pub/sub bus that exposes
// orchestration lifecycle to subscribers (a FanOut to WebSocket/SSE is
// an external consumer, not implemented here). Delivery is best-effort
// and non-blocking to publishers: a subscriber with a full backlog is
// dropped rather than allowed to stall the orchestrator.
package progress

// EventType names a ProgressBus event kind.
type EventType string

const (
	EventAnalysisStarted   EventType = "analysis_started"
	EventAnalysisProgress  EventType = "analysis_progress"
	EventCardCreated       EventType = "card_created"
	EventCardUpdated       EventType = "card_updated"
	EventCardStatusChanged EventType = "card_status_changed"
	EventCardDeleted       EventType = "card_deleted"
	EventAgentCreated      EventType = "agent_created"
	EventAgentStatus       EventType = "agent_status_changed"
	EventAnalysisCompleted EventType = "analysis_completed"
	EventAnalysisError     EventType = "analysis_error"
	EventSessionStarted    EventType = "session_started"
	EventSessionCompleted  EventType = "session_completed"
)

// Event is one record delivered to subscribers. Payload is whatever
// typed value the publishing method was given (a models.Card, a
// progress snapshot struct, etc.) — subscribers type-assert on it,
// matching the loosely-typed channel payloads FanOut implementations
// are expected to just re-marshal to JSON.
type Event struct {
	Type    EventType
	Payload any
}

// AnalysisStartedPayload accompanies EventAnalysisStarted.
type AnalysisStartedPayload struct {
	SessionID string
	Path      string
	Mode      string
}

// AnalysisProgressPayload accompanies EventAnalysisProgress.
type AnalysisProgressPayload struct {
	SessionID     string
	ModulesDone   int
	ModulesTotal  int
	FunctionsDone int
	FunctionsTotal int
	CacheHits     int
	CacheMisses   int
}

// AgentStatusPayload accompanies EventAgentStatus.
type AgentStatusPayload struct {
	AgentID string
	Status  string
	Target  string
}

// AnalysisCompletedPayload accompanies EventAnalysisCompleted.
type AnalysisCompletedPayload struct {
	SessionID string
	Summary   string
}

// AnalysisErrorPayload accompanies EventAnalysisError.
type AnalysisErrorPayload struct {
	SessionID string
	Error     string
}

// CardDeletedPayload accompanies EventCardDeleted.
type CardDeletedPayload struct {
	CardID string
}
