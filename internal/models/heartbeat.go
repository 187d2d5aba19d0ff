package models

import "time"

// Heartbeat represents the periodic sync status published by the agent.
type Heartbeat struct {
	DeviceID        string    `json:"device_id"`
	Timestamp       time.Time `json:"timestamp"`
	Status          string    `json:"status"`
	Connectivity    string    `json:"connectivity"`
	DispatcherState string    `json:"dispatcher_state"`
	QueueDepth      int       `json:"queue_depth"`
	DeadLetterDepth int       `json:"dead_letter_depth"`
}
