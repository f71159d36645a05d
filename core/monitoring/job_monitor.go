package monitoring

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/logging"
)

// DefaultPollInterval is used when a caller passes a non-positive interval
const DefaultPollInterval = 5 * time.Second

// ErrWaitTimeout is returned when a condition did not hold before the deadline
var ErrWaitTimeout = errors.New("timed out waiting for job")

// StatusFunc reads the current status of one job
type StatusFunc func(ctx context.Context) (*models.StatusReport, error)

// Condition decides whether polling can stop
type Condition func(r *models.StatusReport) bool

// JobMonitor polls job status on a fixed interval
type JobMonitor struct {
	interval time.Duration
	client   *http.Client
	log      logrus.FieldLogger
}

// NewJobMonitor creates a new job monitor
func NewJobMonitor(interval time.Duration, log logrus.FieldLogger) *JobMonitor {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &JobMonitor{
		interval: interval,
		client:   &http.Client{Timeout: 5 * time.Second},
		log:      logging.OrDiscard(log),
	}
}

// Terminal is satisfied once the job can no longer change state
func Terminal(r *models.StatusReport) bool {
	return r.Status.IsTerminal()
}

// MetricReady is satisfied once the job reports metric, or has ended
func MetricReady(metric string) Condition {
	return func(r *models.StatusReport) bool {
		if _, ok := r.Metric(metric); ok {
			return true
		}
		return r.Status.IsTerminal()
	}
}

// WaitFor polls status until cond holds or ctx ends. The last report read
// is returned alongside ErrWaitTimeout when ctx expires first.
func (jm *JobMonitor) WaitFor(ctx context.Context, status StatusFunc, cond Condition) (*models.StatusReport, error) {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	var last *models.StatusReport
	for {
		r, err := status(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return last, errors.Wrap(ErrWaitTimeout, ctx.Err().Error())
			}
			return last, errors.Wrap(err, "failed to read job status")
		}
		last = r
		if cond(r) {
			return r, nil
		}
		jm.log.WithFields(logrus.Fields{"job_id": r.JobID, "status": r.Status}).Debug("Job not ready yet")

		select {
		case <-ctx.Done():
			return last, errors.Wrap(ErrWaitTimeout, ctx.Err().Error())
		case <-ticker.C:
		}
	}
}

// WaitHealthy polls url until it answers 200 OK or ctx ends
func (jm *JobMonitor) WaitHealthy(ctx context.Context, url string) error {
	ticker := time.NewTicker(jm.interval)
	defer ticker.Stop()

	var lastErr error
	for {
		lastErr = jm.checkHealth(ctx, url)
		if lastErr == nil {
			return nil
		}
		jm.log.WithField("url", url).Debugf("Health check failed: %v", lastErr)

		select {
		case <-ctx.Done():
			return errors.Wrapf(ErrWaitTimeout, "%s never became healthy: %v", url, lastErr)
		case <-ticker.C:
		}
	}
}

func (jm *JobMonitor) checkHealth(ctx context.Context, url string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := jm.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return errors.Errorf("unexpected status %d", resp.StatusCode)
	}
	return nil
}
