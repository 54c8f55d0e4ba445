package progress

import "context"

// PublishAnalysisStarted announces the start of a Full or Incremental run.
func (b *Bus) PublishAnalysisStarted(ctx context.Context, sessionID, path, mode string) {
	b.publish(Event{Type: EventAnalysisStarted, Payload: AnalysisStartedPayload{SessionID: sessionID, Path: path, Mode: mode}})
}

// PublishAnalysisProgress reports a running tally of work completed so
// far in a session.
func (b *Bus) PublishAnalysisProgress(ctx context.Context, p AnalysisProgressPayload) {
	b.publish(Event{Type: EventAnalysisProgress, Payload: p})
}

// PublishAgentStatus reports one agent's status transition.
func (b *Bus) PublishAgentStatus(ctx context.Context, agentID, status, target string) {
	b.publish(Event{Type: EventAgentStatus, Payload: AgentStatusPayload{AgentID: agentID, Status: status, Target: target}})
}

// PublishAnalysisCompleted announces a session's terminal success.
func (b *Bus) PublishAnalysisCompleted(ctx context.Context, sessionID, summary string) {
	b.publish(Event{Type: EventAnalysisCompleted, Payload: AnalysisCompletedPayload{SessionID: sessionID, Summary: summary}})
}

// PublishAnalysisError announces a session's terminal failure.
func (b *Bus) PublishAnalysisError(ctx context.Context, sessionID string, err error) {
	b.publish(Event{Type: EventAnalysisError, Payload: AnalysisErrorPayload{SessionID: sessionID, Error: err.Error()}})
}

// PublishCardDeleted announces a card's removal (e.g. superseded by a
// re-analysis).
func (b *Bus) PublishCardDeleted(ctx context.Context, cardID string) {
	b.publish(Event{Type: EventCardDeleted, Payload: CardDeletedPayload{CardID: cardID}})
}
