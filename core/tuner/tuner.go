// Package tuner searches a config space by dispatching trial jobs and
// keeping the best-scoring one.
package tuner

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/1016qqz/FlagScale/core/dispatcher"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/monitoring"
	"github.com/1016qqz/FlagScale/core/resource_manager"
	"github.com/1016qqz/FlagScale/core/spec"
	"github.com/1016qqz/FlagScale/logging"
)

const (
	defaultExpDir  = "outputs"
	cleanupTimeout = 2 * time.Minute

	masterPortPath = "experiment.runner.master_port"
	deployPortPath = "experiment.runner.deploy.port"
	cliPortPath    = "experiment.runner.cli_args.port"
	devicesPath    = "experiment.runner.envs.CUDA_VISIBLE_DEVICES"
	logDirPath     = "experiment.runner.log_dir"
)

// Evaluator runs and observes trial jobs. *dispatcher.Dispatcher is the
// production implementation.
type Evaluator interface {
	Dispatch(ctx context.Context, cfg *spec.Node, action models.Action) (*dispatcher.Result, error)
	Observe(ctx context.Context, cfg *spec.Node) (*models.StatusReport, error)
}

// Tuner runs the search loop
type Tuner struct {
	eval    Evaluator
	fs      afero.Fs
	metrics *monitoring.MetricsExporter
	log     logrus.FieldLogger
}

// New creates a tuner dispatching trials through eval. History files are
// written to fs; nil means the OS filesystem.
func New(eval Evaluator, fs afero.Fs, log logrus.FieldLogger) *Tuner {
	if fs == nil {
		fs = afero.NewOsFs()
	}
	return &Tuner{eval: eval, fs: fs, log: logging.OrDiscard(log)}
}

// SetMetrics installs the exporter trial outcomes are counted in
func (t *Tuner) SetMetrics(m *monitoring.MetricsExporter) {
	t.metrics = m
}

// trialRun is a finished trial plus what is needed to stop it
type trialRun struct {
	trial models.TuningTrial
	cfg   *spec.Node
	slot  *resource_manager.Slot
}

// search is the state of one Tune call
type search struct {
	t        *Tuner
	task     models.TaskType
	settings *Settings
	base     *spec.Node
	expDir   string
	pool     *resource_manager.SlotPool
	monitor  *monitoring.JobMonitor
	log      logrus.FieldLogger

	mu           sync.Mutex
	history      []models.TuningTrial
	best         *trialRun
	sinceImprove int
	lastErr      error
	cleanupErrs  []string
}

// Tune searches the space in experiment.auto_tuner. The summary is returned
// even on error; ErrNoSuccessfulTrial means no trial produced the metric.
func (t *Tuner) Tune(ctx context.Context, cfg *spec.Node, task models.TaskType) (*models.TuningSummary, error) {
	settings, err := ParseSettings(cfg)
	if err != nil {
		return nil, err
	}
	strategy, err := NewStrategy(settings.Strategy, settings.Space, settings.Seed)
	if err != nil {
		return nil, err
	}

	expDir := cfg.GetStringOr("experiment.exp_dir", defaultExpDir)
	if abs, err := filepath.Abs(expDir); err == nil {
		expDir = abs
	}
	pool, err := resource_manager.NewSlotPool(settings.Parallelism+1, settings.PortBase, settings.Devices, settings.DevicesPerSlot)
	if err != nil {
		return nil, errors.Wrapf(err, "invalid %s", SettingsPath)
	}
	s := &search{
		t:        t,
		task:     task,
		settings: settings,
		base:     cfg,
		expDir:   expDir,
		pool:     pool,
		monitor:  monitoring.NewJobMonitor(settings.PollInterval, t.log),
		log:      t.log.WithField("task_type", task),
	}
	s.log.WithFields(logrus.Fields{
		"strategy":    settings.Strategy,
		"space_size":  settings.Space.Size(),
		"parallelism": settings.Parallelism,
		"metric":      settings.Metric,
	}).Infof("Starting auto-tuning of %s", task)

	loopCtx, cancel := ctx, context.CancelFunc(func() {})
	if settings.MaxDuration > 0 {
		loopCtx, cancel = context.WithTimeout(ctx, settings.MaxDuration)
	}
	defer cancel()

	var g errgroup.Group
	g.SetLimit(settings.Parallelism)
	reason := s.loop(ctx, loopCtx, &g, strategy)
	_ = g.Wait()
	s.log.WithFields(logrus.Fields(s.pool.GetStatistics())).Debug("Search loop drained")

	if s.best != nil {
		if err := s.pool.Release(s.best.slot); err != nil {
			s.log.Warnf("Failed to release slot of best trial: %v", err)
		}
	}
	summary := s.summary(reason)
	if err := writeHistory(t.fs, HistoryPath(expDir), summary); err != nil {
		s.log.Warnf("Failed to write tuning history: %v", err)
	}
	if t.metrics != nil {
		if summary.Best != nil {
			t.metrics.RecordBest(task, summary.Best.Score)
		}
		t.metrics.RecordCleanupFailures(len(summary.CleanupErrors))
	}

	s.log.WithFields(logrus.Fields{
		"trials":      len(summary.Trials),
		"succeeded":   summary.Succeeded,
		"stop_reason": reason,
	}).Info("Auto-tuning finished")

	if summary.Best == nil {
		if s.lastErr != nil {
			return summary, fmt.Errorf("%w: last trial error: %w", models.ErrNoSuccessfulTrial, s.lastErr)
		}
		return summary, models.ErrNoSuccessfulTrial
	}
	s.log.WithFields(logrus.Fields{"trial": summary.Best.Index, "score": summary.Best.Score}).
		Infof("Best trial %d scored %v with %v", summary.Best.Index, summary.Best.Score, summary.Best.Params)
	return summary, nil
}

// loop proposes and starts trials until a budget runs out
func (s *search) loop(ctx, loopCtx context.Context, g *errgroup.Group, strategy Strategy) models.StopReason {
	for index := 0; ; index++ {
		if reason, stop := s.shouldStop(ctx, loopCtx, index); stop {
			return reason
		}

		s.mu.Lock()
		history := append([]models.TuningTrial(nil), s.history...)
		s.mu.Unlock()
		candidate, ok := strategy.Next(history)
		if !ok {
			return models.StopExhausted
		}

		slot, err := s.pool.Acquire(loopCtx)
		if err != nil {
			return s.contextReason(ctx)
		}
		// patience may have run out while waiting for a slot
		if reason, stop := s.shouldStop(ctx, loopCtx, index); stop {
			_ = s.pool.Release(slot)
			return reason
		}

		g.Go(func() error {
			s.runTrial(loopCtx, index, candidate, slot)
			return nil
		})
	}
}

func (s *search) shouldStop(ctx, loopCtx context.Context, index int) (models.StopReason, bool) {
	if loopCtx.Err() != nil {
		return s.contextReason(ctx), true
	}
	if s.settings.MaxTrials > 0 && index >= s.settings.MaxTrials {
		return models.StopMaxTrials, true
	}
	if s.settings.Patience > 0 {
		s.mu.Lock()
		exhausted := s.sinceImprove >= s.settings.Patience
		s.mu.Unlock()
		if exhausted {
			return models.StopPatience, true
		}
	}
	return "", false
}

func (s *search) contextReason(ctx context.Context) models.StopReason {
	if ctx.Err() != nil {
		return models.StopCancelled
	}
	return models.StopDeadline
}

// trialConfig isolates a trial: its own exp_dir, log_dir, port and devices
func (s *search) trialConfig(index int, candidate Candidate, slot *resource_manager.Slot) (*spec.Node, string, error) {
	cfg := s.base.Clone()
	cfg.Delete(SettingsPath)
	for path, value := range candidate {
		if err := cfg.SetValue(path, value); err != nil {
			return nil, "", errors.Wrapf(err, "failed to apply %s", path)
		}
	}
	expDir := filepath.Join(s.expDir, "auto_tune", fmt.Sprintf("trial_%d", index))
	if err := cfg.SetValue("experiment.exp_dir", expDir); err != nil {
		return nil, "", err
	}
	// backends keep exit codes and metrics in the log dir
	if logDir, ok := cfg.GetString(logDirPath); ok && logDir != "" {
		if err := cfg.SetValue(logDirPath, filepath.Join(logDir, "auto_tune", fmt.Sprintf("trial_%d", index))); err != nil {
			return nil, "", err
		}
	} else {
		cfg.Delete(logDirPath)
	}
	if slot.Port > 0 {
		if err := cfg.SetValue(masterPortPath, slot.Port); err != nil {
			return nil, "", err
		}
		if err := cfg.SetValue(deployPortPath, slot.Port); err != nil {
			return nil, "", err
		}
		if cfg.Has(cliPortPath) {
			if err := cfg.SetValue(cliPortPath, slot.Port); err != nil {
				return nil, "", err
			}
		}
	}
	if len(slot.Devices) > 0 {
		if err := cfg.SetValue(devicesPath, slot.DeviceList()); err != nil {
			return nil, "", err
		}
	}
	return cfg, expDir, nil
}

func (s *search) runTrial(ctx context.Context, index int, candidate Candidate, slot *resource_manager.Slot) {
	log := s.log.WithFields(logrus.Fields{"trial": index, "slot": slot.ID})
	run := &trialRun{
		slot: slot,
		trial: models.TuningTrial{
			Index:     index,
			Params:    candidate,
			SlotID:    slot.ID,
			StartedAt: time.Now().UTC(),
		},
	}

	score, err := s.evaluate(ctx, run, candidate)
	run.trial.FinishedAt = time.Now().UTC()
	if err != nil {
		run.trial.Outcome = models.TrialFailed
		run.trial.Error = err.Error()
		log.Warnf("Trial %d failed: %v", index, err)
	} else {
		run.trial.Outcome = models.TrialSucceeded
		run.trial.Score = score
		log.Infof("Trial %d scored %v with %v", index, score, candidate)
	}
	if s.t.metrics != nil {
		s.t.metrics.RecordTrial(s.task, run.trial.Outcome)
	}
	s.record(run, err)
}

// evaluate dispatches the trial and waits for its metric
func (s *search) evaluate(ctx context.Context, run *trialRun, candidate Candidate) (float64, error) {
	cfg, expDir, err := s.trialConfig(run.trial.Index, candidate, run.slot)
	if err != nil {
		return 0, err
	}
	run.cfg = cfg
	run.trial.ExpDir = expDir

	ctx, cancel := context.WithTimeout(ctx, s.settings.TrialTimeout)
	defer cancel()

	res, err := s.t.eval.Dispatch(ctx, cfg, s.settings.Action)
	if res != nil && res.Handle != nil {
		run.trial.Launched = true
	}
	if err != nil {
		return 0, err
	}

	status := func(ctx context.Context) (*models.StatusReport, error) {
		return s.t.eval.Observe(ctx, cfg)
	}
	report, err := s.monitor.WaitFor(ctx, status, monitoring.MetricReady(s.settings.Metric))
	if err != nil {
		return 0, err
	}
	if report.Status == models.JobStatusFailed {
		return 0, errors.Errorf("job failed: %s", report.Message)
	}
	score, ok := report.Metric(s.settings.Metric)
	if !ok {
		return 0, errors.Errorf("job ended %s without reporting %s", report.Status, s.settings.Metric)
	}
	return score, nil
}

// record folds a finished trial into the search. Losing trials are stopped
// and give their slot back.
func (s *search) record(run *trialRun, trialErr error) {
	var loser *trialRun

	s.mu.Lock()
	s.history = append(s.history, run.trial)
	switch {
	case trialErr != nil:
		s.lastErr = trialErr
		s.sinceImprove++
		loser = run
	case s.best == nil || s.settings.Better(run.trial.Score, s.best.trial.Score):
		loser, s.best = s.best, run
		s.sinceImprove = 0
	case run.trial.Score == s.best.trial.Score && run.trial.Index < s.best.trial.Index:
		// ties go to the earlier trial
		loser, s.best = s.best, run
		s.sinceImprove++
	default:
		s.sinceImprove++
		loser = run
	}
	s.mu.Unlock()

	if loser != nil {
		s.retire(loser)
	}
}

// retire stops a non-winning trial and frees its slot. It runs on a fresh
// context so trials are still stopped after the deadline.
func (s *search) retire(run *trialRun) {
	if run.trial.Launched {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		_, err := s.t.eval.Dispatch(ctx, run.cfg.Clone(), models.ActionStop)
		cancel()
		if err != nil {
			s.log.WithField("trial", run.trial.Index).Warnf("Failed to stop trial %d: %v", run.trial.Index, err)
			s.mu.Lock()
			s.cleanupErrs = append(s.cleanupErrs, fmt.Sprintf("trial %d: %v", run.trial.Index, err))
			s.mu.Unlock()
		}
	}
	if err := s.pool.Release(run.slot); err != nil {
		s.log.Warnf("Failed to release slot %d: %v", run.slot.ID, err)
	}
}

func (s *search) summary(reason models.StopReason) *models.TuningSummary {
	s.mu.Lock()
	defer s.mu.Unlock()

	summary := &models.TuningSummary{
		Trials:        append([]models.TuningTrial(nil), s.history...),
		StopReason:    reason,
		CleanupErrors: append([]string(nil), s.cleanupErrs...),
	}
	sortByIndex(summary.Trials)
	for _, tr := range summary.Trials {
		if tr.Outcome == models.TrialSucceeded {
			summary.Succeeded++
		}
	}
	if s.best != nil {
		best := s.best.trial
		summary.Best = &best
	}
	if s.lastErr != nil {
		summary.LastError = s.lastErr.Error()
	}
	return summary
}
