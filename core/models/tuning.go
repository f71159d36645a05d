package models

import "time"

// TrialOutcome is the observed result of one tuning trial
type TrialOutcome string

const (
	TrialSucceeded TrialOutcome = "succeeded"
	TrialFailed    TrialOutcome = "failed"
)

// TuningTrial is one candidate configuration plus its observed outcome
type TuningTrial struct {
	Index      int                    `yaml:"index" json:"index"`
	Params     map[string]interface{} `yaml:"params" json:"params"`
	ExpDir     string                 `yaml:"exp_dir" json:"exp_dir"`
	SlotID     int                    `yaml:"slot" json:"slot"`
	Outcome    TrialOutcome           `yaml:"outcome" json:"outcome"`
	Score      float64                `yaml:"score,omitempty" json:"score,omitempty"`
	Error      string                 `yaml:"error,omitempty" json:"error,omitempty"`
	Launched   bool                   `yaml:"launched" json:"launched"`
	StartedAt  time.Time              `yaml:"started_at" json:"started_at"`
	FinishedAt time.Time              `yaml:"finished_at" json:"finished_at"`
}

// StopReason records which budget ended a tuning loop
type StopReason string

const (
	StopMaxTrials StopReason = "max_trials"
	StopDeadline  StopReason = "deadline"
	StopPatience  StopReason = "patience"
	StopExhausted StopReason = "space_exhausted"
	StopCancelled StopReason = "cancelled"
)

// TuningSummary is what an auto-tuning run reports to the caller
type TuningSummary struct {
	Best          *TuningTrial  `yaml:"best,omitempty" json:"best,omitempty"`
	Trials        []TuningTrial `yaml:"trials" json:"trials"`
	Succeeded     int           `yaml:"succeeded" json:"succeeded"`
	StopReason    StopReason    `yaml:"stop_reason" json:"stop_reason"`
	CleanupErrors []string      `yaml:"cleanup_errors,omitempty" json:"cleanup_errors,omitempty"`
	LastError     string        `yaml:"last_error,omitempty" json:"last_error,omitempty"`
}
