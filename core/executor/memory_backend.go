package executor

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/1016qqz/FlagScale/core/models"
)

// MemoryBackend keeps jobs in memory. It backs dry local experiments and
// is the backend double used across the test suites.
type MemoryBackend struct {
	// InitialStatus is the state a freshly launched job reports.
	// Defaults to running.
	InitialStatus models.JobStatus
	// LaunchHook, when set, runs before a launch is recorded; an error
	// fails the launch.
	LaunchHook func(spec LaunchSpec) error
	// StatusHook, when set, produces the report for a job that has not been
	// terminated.
	StatusHook func(spec LaunchSpec) *models.StatusReport

	mu   sync.Mutex
	jobs map[string]*memoryJob
	log  []LaunchSpec
}

type memoryJob struct {
	spec       LaunchSpec
	status     models.JobStatus
	metrics    map[string]float64
	terminateN int
}

// NewMemoryBackend creates an empty in-memory backend
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{jobs: make(map[string]*memoryJob)}
}

func (m *MemoryBackend) Name() string { return BackendMemory }

func (m *MemoryBackend) Launch(ctx context.Context, spec LaunchSpec) (*models.JobHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.LaunchHook != nil {
		if err := m.LaunchHook(spec); err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.jobs == nil {
		m.jobs = make(map[string]*memoryJob)
	}
	if _, exists := m.jobs[spec.JobID]; exists {
		return nil, errors.Errorf("job %s is already running", spec.JobID)
	}
	status := m.InitialStatus
	if status == "" {
		status = models.JobStatusRunning
	}
	m.jobs[spec.JobID] = &memoryJob{spec: spec, status: status}
	m.log = append(m.log, spec)

	handle := &models.JobHandle{
		JobID:      spec.JobID,
		Name:       spec.Name,
		TaskType:   spec.TaskType,
		Backend:    BackendMemory,
		LogDir:     spec.LogDir,
		Status:     status,
		LaunchedAt: time.Now().UTC(),
	}
	for _, n := range spec.sortedNodes() {
		handle.Processes = append(handle.Processes, models.ProcessRef{Rank: n.Rank, Host: hostOrLocal(n.Host)})
	}
	return handle, nil
}

func (m *MemoryBackend) Terminate(ctx context.Context, handle *models.JobHandle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	if job, ok := m.jobs[handle.JobID]; ok {
		job.terminateN++
		if !job.status.IsTerminal() {
			job.status = models.JobStatusStopped
		}
	}
	handle.Status = models.JobStatusStopped
	if handle.StoppedAt == nil {
		handle.StoppedAt = &now
	}
	return nil
}

func (m *MemoryBackend) Status(ctx context.Context, handle *models.JobHandle) (*models.StatusReport, error) {
	m.mu.Lock()
	job, ok := m.jobs[handle.JobID]
	if !ok {
		m.mu.Unlock()
		return &models.StatusReport{JobID: handle.JobID, Status: models.JobStatusFailed, Message: "job not found"}, nil
	}
	spec, status, metrics, stopped := job.spec, job.status, copyMetrics(job.metrics), job.terminateN > 0
	m.mu.Unlock()

	if m.StatusHook != nil && !stopped {
		if r := m.StatusHook(spec); r != nil {
			r.JobID = handle.JobID
			return r, nil
		}
	}
	return &models.StatusReport{JobID: handle.JobID, Status: status, Metrics: metrics}, nil
}

// SetStatus overrides the reported state and metrics of a job
func (m *MemoryBackend) SetStatus(jobID string, status models.JobStatus, metrics map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		job.status = status
		job.metrics = copyMetrics(metrics)
	}
}

// Launches returns every launch spec in the order it was received
func (m *MemoryBackend) Launches() []LaunchSpec {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]LaunchSpec, len(m.log))
	copy(out, m.log)
	return out
}

// TerminateCount reports how many times the job was asked to stop
func (m *MemoryBackend) TerminateCount(jobID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if job, ok := m.jobs[jobID]; ok {
		return job.terminateN
	}
	return 0
}

// Active lists jobs that have not reached a terminal state
func (m *MemoryBackend) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, job := range m.jobs {
		if !job.status.IsTerminal() {
			ids = append(ids, id)
		}
	}
	return ids
}

func copyMetrics(in map[string]float64) map[string]float64 {
	if in == nil {
		return nil
	}
	out := make(map[string]float64, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
