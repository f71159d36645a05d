package models

import "time"

// JobEvent represents a state transition event for a job
type JobEvent struct {
	ID         int64
	Key        string
	JobID      string
	At         time.Time
	FromStatus *JobStatus
	ToStatus   JobStatus
	Reason     string
	MetaJSON   map[string]interface{} // Additional metadata
}
