package models

import "time"

// JobStatus represents the backend-reported state of a launched job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
	JobStatusStopped   JobStatus = "stopped"
)

// IsTerminal reports whether the job can no longer change state on its own
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSucceeded || s == JobStatusFailed || s == JobStatusStopped
}

// ProcessRef identifies one node-level process of a launched job.
// Local jobs are tracked by PID, kubernetes jobs by resource name.
type ProcessRef struct {
	Rank int    `yaml:"rank"`
	Host string `yaml:"host"`
	PID  int    `yaml:"pid,omitempty"`
	Name string `yaml:"name,omitempty"`
}

// JobHandle is the durable record needed to stop or query a job from a
// fresh process. It is owned by the backend layer; runners only persist it.
type JobHandle struct {
	JobID      string       `yaml:"job_id"`
	Name       string       `yaml:"name"`
	TaskType   TaskType     `yaml:"task_type"`
	Backend    string       `yaml:"backend"`
	Namespace  string       `yaml:"namespace,omitempty"`
	LogDir     string       `yaml:"log_dir,omitempty"`
	Processes  []ProcessRef `yaml:"processes"`
	Status     JobStatus    `yaml:"status"`
	LaunchedAt time.Time    `yaml:"launched_at"`
	StoppedAt  *time.Time   `yaml:"stopped_at,omitempty"`
}

// StatusReport is the result of a status query against a job
type StatusReport struct {
	JobID   string             `json:"job_id" yaml:"job_id"`
	Status  JobStatus          `json:"status" yaml:"status"`
	Metrics map[string]float64 `json:"metrics,omitempty" yaml:"metrics,omitempty"`
	Message string             `json:"message,omitempty" yaml:"message,omitempty"`
}

// Metric returns a named performance metric if the job reported it
func (r *StatusReport) Metric(name string) (float64, bool) {
	if r == nil || r.Metrics == nil {
		return 0, false
	}
	v, ok := r.Metrics[name]
	return v, ok
}
