package monitoring

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/1016qqz/FlagScale/core/models"
)

// MetricsExporter accumulates dispatch and tuning counters and renders
// them in the Prometheus text format
type MetricsExporter struct {
	mu         sync.Mutex
	dispatches map[dispatchKey]int
	trials     map[trialKey]int
	bestScore  map[models.TaskType]float64
	cleanups   int
}

type dispatchKey struct {
	task    models.TaskType
	action  models.Action
	outcome string
}

type trialKey struct {
	task    models.TaskType
	outcome models.TrialOutcome
}

// NewMetricsExporter creates a new metrics exporter
func NewMetricsExporter() *MetricsExporter {
	return &MetricsExporter{
		dispatches: make(map[dispatchKey]int),
		trials:     make(map[trialKey]int),
		bestScore:  make(map[models.TaskType]float64),
	}
}

// RecordDispatch counts one dispatched action. err decides the outcome label.
func (me *MetricsExporter) RecordDispatch(task models.TaskType, action models.Action, err error) {
	outcome := "success"
	if err != nil {
		outcome = "error"
	}
	me.mu.Lock()
	defer me.mu.Unlock()
	me.dispatches[dispatchKey{task, action, outcome}]++
}

// RecordTrial counts one finished tuning trial
func (me *MetricsExporter) RecordTrial(task models.TaskType, outcome models.TrialOutcome) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.trials[trialKey{task, outcome}]++
}

// RecordBest publishes the score of the winning trial
func (me *MetricsExporter) RecordBest(task models.TaskType, score float64) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.bestScore[task] = score
}

// RecordCleanupFailures counts trials whose stop failed
func (me *MetricsExporter) RecordCleanupFailures(n int) {
	me.mu.Lock()
	defer me.mu.Unlock()
	me.cleanups += n
}

// GetPrometheusMetrics returns metrics in Prometheus format
func (me *MetricsExporter) GetPrometheusMetrics() string {
	me.mu.Lock()
	defer me.mu.Unlock()

	var b strings.Builder

	b.WriteString("# HELP flagscale_dispatch_total Lifecycle actions dispatched\n")
	b.WriteString("# TYPE flagscale_dispatch_total counter\n")
	dkeys := make([]dispatchKey, 0, len(me.dispatches))
	for k := range me.dispatches {
		dkeys = append(dkeys, k)
	}
	sort.Slice(dkeys, func(i, j int) bool {
		return fmt.Sprint(dkeys[i]) < fmt.Sprint(dkeys[j])
	})
	for _, k := range dkeys {
		fmt.Fprintf(&b, "flagscale_dispatch_total{task_type=%q,action=%q,outcome=%q} %d\n",
			k.task, k.action, k.outcome, me.dispatches[k])
	}

	b.WriteString("# HELP flagscale_tuning_trials_total Finished auto-tuning trials\n")
	b.WriteString("# TYPE flagscale_tuning_trials_total counter\n")
	tkeys := make([]trialKey, 0, len(me.trials))
	for k := range me.trials {
		tkeys = append(tkeys, k)
	}
	sort.Slice(tkeys, func(i, j int) bool {
		return fmt.Sprint(tkeys[i]) < fmt.Sprint(tkeys[j])
	})
	for _, k := range tkeys {
		fmt.Fprintf(&b, "flagscale_tuning_trials_total{task_type=%q,outcome=%q} %d\n",
			k.task, k.outcome, me.trials[k])
	}

	b.WriteString("# HELP flagscale_tuning_best_score Score of the best trial of the last tuning run\n")
	b.WriteString("# TYPE flagscale_tuning_best_score gauge\n")
	tasks := make([]string, 0, len(me.bestScore))
	for t := range me.bestScore {
		tasks = append(tasks, string(t))
	}
	sort.Strings(tasks)
	for _, t := range tasks {
		fmt.Fprintf(&b, "flagscale_tuning_best_score{task_type=%q} %.4f\n", t, me.bestScore[models.TaskType(t)])
	}

	b.WriteString("# HELP flagscale_tuning_cleanup_failures_total Trials that could not be stopped\n")
	b.WriteString("# TYPE flagscale_tuning_cleanup_failures_total counter\n")
	fmt.Fprintf(&b, "flagscale_tuning_cleanup_failures_total %d\n", me.cleanups)

	return b.String()
}
