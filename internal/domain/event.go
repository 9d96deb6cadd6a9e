package domain

import "time"

// EventType names a typed progress event in the pipeline event stream.
type EventType string

// Event stream vocabulary. Ordering within one pipeline run is strictly
// sequential; external renderers depend on these names.
const (
	EventPhaseChanged     EventType = "phase_changed"
	EventPlanReady        EventType = "plan_ready"
	EventTaskStart        EventType = "task_start"
	EventFileCreated      EventType = "file_created"
	EventFileUpdated      EventType = "file_updated"
	EventDialogueStarted  EventType = "dialogue_started"
	EventDialogueExchange EventType = "dialogue_exchanged"
	EventDialogueResolved EventType = "dialogue_resolved"
	EventDialogueEnded    EventType = "dialogue_ended"
	EventExecutionResult  EventType = "execution_result"
	EventInstallingDeps   EventType = "installing_deps"
	EventDebugAttempt     EventType = "debug_attempt"
	EventDebugFixed       EventType = "debug_fixed"
	EventDebugExhausted   EventType = "debug_exhausted"
	EventReviewComplete   EventType = "review_complete"
	EventTestComplete     EventType = "test_complete"
	EventBuildComplete    EventType = "build_complete"
	EventProjectResumed   EventType = "project_resumed"
	EventWorkerMessage    EventType = "worker_message"
	EventError            EventType = "error"
	EventWarning          EventType = "warning"
)

// Event is one entry in the observable progress stream of a session.
type Event struct {
	Type      EventType `json:"type"`
	SessionID string    `json:"session_id,omitempty"`
	Payload   any       `json:"data"`
	At        time.Time `json:"at"`
}

// EmitFunc delivers a progress event to an observer. Delivery is
// fire-and-forget: implementations must never block the pipeline and
// failures are swallowed.
type EmitFunc func(EventType, any)

// NopEmit discards events. Useful for callers that do not observe progress.
func NopEmit(EventType, any) {}
