// Package dispatcher is the single entry point that turns (config, action)
// into a runner call.
package dispatcher

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/monitoring"
	"github.com/1016qqz/FlagScale/core/runner"
	"github.com/1016qqz/FlagScale/core/spec"
	"github.com/1016qqz/FlagScale/core/validator"
	"github.com/1016qqz/FlagScale/logging"
)

const (
	// TaskTypePath is where the task type is read from
	TaskTypePath = "experiment.task.type"
	// legacyTaskTypePath is consulted when TaskTypePath is absent
	legacyTaskTypePath = "task.type"
)

// RunnerFactory builds the runner for a validated task type
type RunnerFactory interface {
	Create(task models.TaskType, cfg *spec.Node) (runner.Runner, error)
}

// Tuner runs an auto-tuning search for a validated task
type Tuner interface {
	Tune(ctx context.Context, cfg *spec.Node, task models.TaskType) (*models.TuningSummary, error)
}

// Result is what a dispatched action produced. Only the field matching the
// action is set.
type Result struct {
	TaskType models.TaskType       `json:"task_type"`
	Action   models.Action         `json:"action"`
	Handle   *models.JobHandle     `json:"handle,omitempty"`
	Status   *models.StatusReport  `json:"status,omitempty"`
	Tuning   *models.TuningSummary `json:"tuning,omitempty"`
}

// Dispatcher migrates, validates and routes one action to its runner
type Dispatcher struct {
	factory  RunnerFactory
	migrator *spec.Migrator
	tuner    Tuner
	metrics  *monitoring.MetricsExporter
	log      logrus.FieldLogger
}

// New creates a dispatcher over factory
func New(factory RunnerFactory, log logrus.FieldLogger) *Dispatcher {
	log = logging.OrDiscard(log)
	return &Dispatcher{
		factory:  factory,
		migrator: spec.NewMigrator(log),
		log:      log,
	}
}

// SetTuner installs the auto_tune handler. The tuner dispatches its trials
// through this dispatcher, so it is wired after construction.
func (d *Dispatcher) SetTuner(t Tuner) {
	d.tuner = t
}

// SetMetrics installs the exporter dispatch outcomes are counted in
func (d *Dispatcher) SetMetrics(m *monitoring.MetricsExporter) {
	d.metrics = m
}

// TaskTypeOf reads the task type of cfg
func TaskTypeOf(cfg *spec.Node) (models.TaskType, error) {
	for _, path := range []string{TaskTypePath, legacyTaskTypePath} {
		if v, ok := cfg.GetString(path); ok && v != "" {
			return models.TaskType(v), nil
		}
	}
	return "", models.ErrMissingTaskType
}

// Dispatch carries out action for the job described by cfg. cfg is
// migrated in place. Runner failures come back as *RunnerExecutionError.
func (d *Dispatcher) Dispatch(ctx context.Context, cfg *spec.Node, action models.Action) (result *Result, err error) {
	var task models.TaskType
	start := time.Now()
	defer func() {
		if d.metrics != nil {
			d.metrics.RecordDispatch(task, action, err)
		}
	}()

	if err := d.migrator.Migrate(cfg); err != nil {
		return nil, err
	}
	task, err = TaskTypeOf(cfg)
	if err != nil {
		return nil, err
	}
	if err := validator.Validate(task, action); err != nil {
		return nil, err
	}

	log := d.log.WithFields(logrus.Fields{"task_type": task, "action": action})
	log.Infof("Dispatching %s %s", task, action)
	result = &Result{TaskType: task, Action: action}

	if action == models.ActionAutoTune {
		if d.tuner == nil {
			return nil, errors.New("auto-tuning is not configured")
		}
		result.Tuning, err = d.tuner.Tune(ctx, cfg, task)
		return result, err
	}

	r, err := d.factory.Create(task, cfg)
	if err != nil {
		return nil, err
	}

	switch action {
	case models.ActionRun:
		result.Handle, err = r.Launch(ctx, runner.LaunchOptions{})
	case models.ActionTest:
		result.Handle, err = r.Launch(ctx, runner.LaunchOptions{SmokeTest: true})
	case models.ActionDryrun:
		err = r.Validate(ctx)
	case models.ActionStop:
		err = r.Terminate(ctx)
	case models.ActionQuery:
		result.Status, err = r.Status(ctx)
	default:
		// unreachable once the matrix accepted the action
		return nil, &models.ValidationError{TaskType: task, Action: action, Err: models.ErrActionNotAllowed}
	}
	if err != nil {
		log.Errorf("Failed to %s %s job: %v", action, task, err)
		return result, &models.RunnerExecutionError{TaskType: task, Action: action, Cause: err}
	}
	log.WithField("elapsed", time.Since(start).Round(time.Millisecond)).Infof("Finished %s %s", task, action)
	return result, nil
}

// Observe reads the status of the job recorded for cfg without consulting
// the action matrix. Serve forbids a caller-issued query, yet a tuning loop
// still has to read how its trials perform.
func (d *Dispatcher) Observe(ctx context.Context, cfg *spec.Node) (*models.StatusReport, error) {
	if err := d.migrator.Migrate(cfg); err != nil {
		return nil, err
	}
	task, err := TaskTypeOf(cfg)
	if err != nil {
		return nil, err
	}
	if !validator.IsValidTask(task) {
		return nil, &models.ValidationError{TaskType: task, Action: models.ActionQuery, Err: models.ErrInvalidTaskType}
	}
	r, err := d.factory.Create(task, cfg)
	if err != nil {
		return nil, err
	}
	return r.Status(ctx)
}
