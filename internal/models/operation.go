package models

import (
	"time"

	"github.com/google/uuid"
)

// Method is the kind of write carried by a QueuedOperation.
type Method string

const (
	MethodCreate Method = "create"
	MethodDelete Method = "delete"
)

// ResourceLocations is the logical resource every location operation targets.
const ResourceLocations = "locations"

// QueuedOperation is a write waiting to be transmitted to the backend.
// Exactly one of Sample (Create) or Filter (Delete) is set.
type QueuedOperation struct {
	ID             string          `json:"id"`
	Method         Method          `json:"method"`
	TargetResource string          `json:"targetResource"`
	Sample         *LocationSample `json:"sample,omitempty"`
	Filter         *DeleteFilter   `json:"filter,omitempty"`
	EnqueuedAt     int64           `json:"enqueuedAt"` // Epoch milliseconds
	Attempts       int             `json:"attempts"`
	LastError      string          `json:"lastError,omitempty"`
}

// NewCreateOperation wraps a sample into a Create operation.
func NewCreateOperation(sample LocationSample) QueuedOperation {
	return QueuedOperation{
		ID:             uuid.New().String(),
		Method:         MethodCreate,
		TargetResource: ResourceLocations,
		Sample:         &sample,
		EnqueuedAt:     time.Now().UnixMilli(),
	}
}

// NewDeleteOperation wraps a delete filter into a Delete operation.
func NewDeleteOperation(olderThan int64) QueuedOperation {
	return QueuedOperation{
		ID:             uuid.New().String(),
		Method:         MethodDelete,
		TargetResource: ResourceLocations,
		Filter:         &DeleteFilter{OlderThan: olderThan},
		EnqueuedAt:     time.Now().UnixMilli(),
	}
}
