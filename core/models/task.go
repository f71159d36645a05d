package models

// TaskType represents the workload category a job belongs to
type TaskType string

const (
	TaskTrain     TaskType = "train"
	TaskInference TaskType = "inference"
	TaskCompress  TaskType = "compress"
	TaskServe     TaskType = "serve"
	TaskRL        TaskType = "rl"
)

// Action represents the lifecycle operation requested against a job
type Action string

const (
	ActionRun      Action = "run"
	ActionDryrun   Action = "dryrun"
	ActionTest     Action = "test"
	ActionStop     Action = "stop"
	ActionQuery    Action = "query"
	ActionAutoTune Action = "auto_tune"
)

// AllActions lists every recognized action in CLI order
var AllActions = []Action{
	ActionRun,
	ActionDryrun,
	ActionTest,
	ActionStop,
	ActionQuery,
	ActionAutoTune,
}

// IsKnown reports whether a is one of the recognized actions
func (a Action) IsKnown() bool {
	for _, known := range AllActions {
		if a == known {
			return true
		}
	}
	return false
}
