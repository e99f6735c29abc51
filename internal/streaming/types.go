package streaming

import "time"

// EventType represents the type of SSE event
type EventType string

const (
	EventTypeRun       EventType = "run"
	EventTypeProgress  EventType = "progress"
	EventTypeComplete  EventType = "complete"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

// SSEEvent represents a Server-Sent Event
type SSEEvent struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// RunEvent represents an import run state change
type RunEvent struct {
	ID          string     `json:"id"`
	FileName    string     `json:"fileName"`
	BranchID    string     `json:"branchId,omitempty"`
	Status      string     `json:"status"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// ProgressEvent reports cumulative counters after each batch flush
type ProgressEvent struct {
	RunID     string `json:"runId"`
	FileName  string `json:"fileName"`
	Processed int    `json:"processed"`
	Merged    int    `json:"merged"`
	Errors    int    `json:"errors"`
}

// CompleteEvent carries the final counters of a finished run
type CompleteEvent struct {
	RunID   string `json:"runId"`
	Merged  int    `json:"merged"`
	Errors  int    `json:"errors"`
	Success bool   `json:"success"`
}

// ErrorEvent represents a fatal run error
type ErrorEvent struct {
	RunID   string `json:"runId"`
	Message string `json:"message"`
}
