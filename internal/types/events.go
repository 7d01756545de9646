package types

import "time"

// EventType labels engine events.
type EventType string

const (
	EventTaskStarted     EventType = "task_started"
	EventTaskCompleted   EventType = "task_completed"
	EventTaskFailed      EventType = "task_failed"
	EventTaskBlocked     EventType = "task_blocked"
	EventLevelCompleted  EventType = "level_completed"
	EventSprintStarted   EventType = "sprint_started"
	EventSprintCompleted EventType = "sprint_completed"
	EventFixInjected     EventType = "fix_injected"
	EventImproveInjected EventType = "improvement_injected"
	EventPhaseStarted    EventType = "phase_started"
	EventPhaseCompleted  EventType = "phase_completed"
	EventCheckpoint      EventType = "checkpoint"
	EventPaused          EventType = "paused"
	EventResumed         EventType = "resumed"
)

// Event is published on the engine's event channel after task, level,
// sprint, and phase transitions. Sends never block: a full channel drops
// the event rather than stalling the scheduler.
type Event struct {
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	SprintID  string    `json:"sprint_id,omitempty"`
	TaskID    string    `json:"task_id,omitempty"`
	Message   string    `json:"message"`
	Data      any       `json:"data,omitempty"`
}

// EmitFunc publishes one event. A nil EmitFunc is a no-op everywhere.
type EmitFunc func(Event)
