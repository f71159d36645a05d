package monitoring

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1016qqz/FlagScale/core/models"
)

func TestWaitForTerminal(t *testing.T) {
	jm := NewJobMonitor(5*time.Millisecond, nil)
	var calls int32
	status := func(ctx context.Context) (*models.StatusReport, error) {
		if atomic.AddInt32(&calls, 1) < 3 {
			return &models.StatusReport{JobID: "j", Status: models.JobStatusRunning}, nil
		}
		return &models.StatusReport{JobID: "j", Status: models.JobStatusSucceeded}, nil
	}

	r, err := jm.WaitFor(context.Background(), status, Terminal)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusSucceeded, r.Status)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestWaitForMetric(t *testing.T) {
	jm := NewJobMonitor(time.Millisecond, nil)
	var calls int32
	status := func(ctx context.Context) (*models.StatusReport, error) {
		r := &models.StatusReport{Status: models.JobStatusRunning}
		if atomic.AddInt32(&calls, 1) > 1 {
			r.Metrics = map[string]float64{"throughput": 7}
		}
		return r, nil
	}

	r, err := jm.WaitFor(context.Background(), status, MetricReady("throughput"))
	require.NoError(t, err)
	v, _ := r.Metric("throughput")
	assert.Equal(t, 7.0, v)

	failed := func(ctx context.Context) (*models.StatusReport, error) {
		return &models.StatusReport{Status: models.JobStatusFailed}, nil
	}
	r, err = jm.WaitFor(context.Background(), failed, MetricReady("throughput"))
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusFailed, r.Status)
}

func TestWaitForTimeout(t *testing.T) {
	jm := NewJobMonitor(time.Millisecond, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	running := func(ctx context.Context) (*models.StatusReport, error) {
		return &models.StatusReport{Status: models.JobStatusRunning}, nil
	}
	r, err := jm.WaitFor(ctx, running, Terminal)
	assert.True(t, errors.Is(err, ErrWaitTimeout))
	require.NotNil(t, r)
	assert.Equal(t, models.JobStatusRunning, r.Status)
}

func TestWaitForStatusError(t *testing.T) {
	jm := NewJobMonitor(time.Millisecond, nil)
	boom := func(ctx context.Context) (*models.StatusReport, error) {
		return nil, errors.New("backend unreachable")
	}
	_, err := jm.WaitFor(context.Background(), boom, Terminal)
	assert.ErrorContains(t, err, "backend unreachable")
}

func TestWaitHealthy(t *testing.T) {
	var ready atomic.Bool
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !ready.Load() {
			ready.Store(true)
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	jm := NewJobMonitor(time.Millisecond, nil)
	require.NoError(t, jm.WaitHealthy(context.Background(), srv.URL+"/health"))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := jm.WaitHealthy(ctx, "http://127.0.0.1:1/health")
	assert.True(t, errors.Is(err, ErrWaitTimeout))
}

func TestMetricsExporter(t *testing.T) {
	me := NewMetricsExporter()
	me.RecordDispatch(models.TaskTrain, models.ActionRun, nil)
	me.RecordDispatch(models.TaskTrain, models.ActionRun, nil)
	me.RecordDispatch(models.TaskServe, models.ActionStop, errors.New("x"))
	me.RecordTrial(models.TaskServe, models.TrialSucceeded)
	me.RecordBest(models.TaskServe, 12.5)
	me.RecordCleanupFailures(2)

	out := me.GetPrometheusMetrics()
	assert.Contains(t, out, `flagscale_dispatch_total{task_type="train",action="run",outcome="success"} 2`)
	assert.Contains(t, out, `flagscale_dispatch_total{task_type="serve",action="stop",outcome="error"} 1`)
	assert.Contains(t, out, `flagscale_tuning_trials_total{task_type="serve",outcome="succeeded"} 1`)
	assert.Contains(t, out, `flagscale_tuning_best_score{task_type="serve"} 12.5000`)
	assert.Contains(t, out, "flagscale_tuning_cleanup_failures_total 2")
}
