package task

import (
	"patreonviewer/events"
)

type Status string

const (
	StatusIdle        Status = "idle"
	StatusDownloading Status = "downloading"
	StatusEncoding    Status = "encoding"
	StatusAborting    Status = "aborting"
	StatusAborted     Status = "aborted"
	StatusComplete    Status = "complete"
	StatusError       Status = "error"
)

// Active reports whether a job in this status owns a cancellation handle.
func (s Status) Active() bool {
	return s == StatusDownloading || s == StatusEncoding || s == StatusAborting
}

// Accepting reports whether a new job may start from this status.
func (s Status) Accepting() bool {
	switch s {
	case StatusIdle, StatusComplete, StatusError, StatusAborted:
		return true
	}
	return false
}

// Event names on the progress channel.
const (
	EventState    = "state"
	EventStatus   = "status"
	EventLog      = "log"
	EventTargets  = "targets"
	EventEncoding = "encoding"
	EventProgress = "progress"
)

type LogEntry struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Targets struct {
	Total     int `json:"total"`
	Completed int `json:"completed"`
	Skipped   int `json:"skipped"`
}

type Encoding struct {
	Total     int     `json:"total"`
	Completed int     `json:"completed"`
	Current   *string `json:"current"`
}

// StatusUpdate is the payload of the status event.
type StatusUpdate struct {
	Status Status  `json:"status"`
	ID     string  `json:"id,omitempty"`
	URL    *string `json:"url,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// Snapshot is the full observable job state, sent as the state event.
type Snapshot struct {
	ID       string               `json:"id"`
	Status   Status               `json:"status"`
	URL      *string              `json:"url"`
	Error    *string              `json:"error"`
	Log      []LogEntry           `json:"log"`
	Progress *events.FileProgress `json:"progress"`
	Targets  Targets              `json:"targets"`
	Encoding Encoding             `json:"encoding"`
}
