package dispatcher

import "github.com/benmeehan/location-agent/internal/models"

// Status is the tagged result of a write.
type Status string

const (
	// Sent means the backend acknowledged the write.
	Sent Status = "sent"
	// Queued means the write is durably queued and will be delivered by a later drain.
	Queued Status = "queued"
	// Rejected means the write will never be delivered: it is malformed or the backend refused it.
	Rejected Status = "rejected"
)

// Outcome is returned for every accepted call to Submit or DeleteOlderThan.
type Outcome struct {
	Status      Status                 `json:"status"`
	Reason      string                 `json:"reason,omitempty"`
	OperationID string                 `json:"operationId,omitempty"`
	Record      *models.LocationRecord `json:"record,omitempty"`
	Deleted     int64                  `json:"deleted,omitempty"`
	// DeadLettered is set when a rejected operation was kept in the dead-letter queue.
	DeadLettered bool `json:"deadLettered,omitempty"`
}

// State is the dispatcher's drain state.
type State int

const (
	Idle State = iota
	Draining
)

func (s State) String() string {
	if s == Draining {
		return "draining"
	}
	return "idle"
}

// DrainResult describes how a drain cycle ended.
type DrainResult string

const (
	DrainEmptied          DrainResult = "emptied"
	DrainStoppedOnFailure DrainResult = "stopped_on_failure"
	DrainCancelled        DrainResult = "cancelled"
	DrainSkipped          DrainResult = "skipped"
)

// DrainReport summarizes one drain cycle.
type DrainReport struct {
	Result       DrainResult `json:"result"`
	Sent         int         `json:"sent"`
	DeadLettered int         `json:"deadLettered"`
	Remaining    int         `json:"remaining"`
	LastError    string      `json:"lastError,omitempty"`
}

// Report is a point-in-time view of the dispatcher for the status API and heartbeats.
type Report struct {
	State             string `json:"state"`
	Connectivity      string `json:"connectivity"`
	QueueDepth        int    `json:"queueDepth"`
	DeadLetterEnabled bool   `json:"deadLetterEnabled"`
	DeadLetterDepth   int    `json:"deadLetterDepth"`
	CacheSize         int    `json:"cacheSize"`
	CacheCapacity     int    `json:"cacheCapacity"`
}

// QuerySource tells where query results came from.
type QuerySource string

const (
	SourceBackend QuerySource = "backend"
	SourceCache   QuerySource = "cache"
)

// QueryResult is the answer to a history query.
type QueryResult struct {
	Source  QuerySource             `json:"source"`
	Samples []models.LocationSample `json:"samples"`
}
