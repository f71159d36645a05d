// Package executor launches, stops and inspects the out-of-process jobs a
// runner hands off. A Backend owns the JobHandle format; runners only
// persist the handles it returns.
package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/1016qqz/FlagScale/core/models"
)

// Backend names accepted by New and experiment.runner.backend
const (
	BackendLocal      = "local"
	BackendKubernetes = "kubernetes"
	BackendMemory     = "memory"
)

// EnvMetricsFile tells a launched process where to write the metrics the
// orchestrator reads back through Status
const EnvMetricsFile = "FLAGSCALE_METRICS_FILE"

// NodeSpec is the command one node of a job runs
type NodeSpec struct {
	Rank    int
	Host    string
	Command string
	Env     map[string]string
}

// LaunchSpec describes a job to start. Nodes are launched in rank order.
type LaunchSpec struct {
	JobID    string
	Name     string
	TaskType models.TaskType
	Nodes    []NodeSpec
	WorkDir  string
	LogDir   string
	Image    string
	Labels   map[string]string
}

// Validate checks the fields every backend relies on
func (s LaunchSpec) Validate() error {
	if s.JobID == "" {
		return errors.New("launch spec has no job id")
	}
	if len(s.Nodes) == 0 {
		return errors.Errorf("launch spec for job %s has no nodes", s.JobID)
	}
	seen := make(map[int]bool, len(s.Nodes))
	for _, n := range s.Nodes {
		if strings.TrimSpace(n.Command) == "" {
			return errors.Errorf("node rank %d of job %s has no command", n.Rank, s.JobID)
		}
		if seen[n.Rank] {
			return errors.Errorf("duplicate node rank %d in job %s", n.Rank, s.JobID)
		}
		seen[n.Rank] = true
	}
	return nil
}

// sortedNodes returns the nodes ordered by rank without touching s
func (s LaunchSpec) sortedNodes() []NodeSpec {
	nodes := make([]NodeSpec, len(s.Nodes))
	copy(nodes, s.Nodes)
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].Rank < nodes[j].Rank })
	return nodes
}

// Backend is the execution collaborator behind every runner
type Backend interface {
	Name() string
	Launch(ctx context.Context, spec LaunchSpec) (*models.JobHandle, error)
	// Terminate stops every process of the job. Stopping a job that already
	// ended, or that the backend no longer knows, succeeds.
	Terminate(ctx context.Context, handle *models.JobHandle) error
	Status(ctx context.Context, handle *models.JobHandle) (*models.StatusReport, error)
}

// Options configures the backends New can build
type Options struct {
	Namespace  string
	Kubeconfig string
	Logger     logrus.FieldLogger
}

// New builds the backend registered under name
func New(name string, opts Options) (Backend, error) {
	switch name {
	case "", BackendLocal:
		return NewLocalBackend(opts.Logger), nil
	case BackendKubernetes:
		client, err := NewKubernetesClient(opts.Kubeconfig)
		if err != nil {
			return nil, err
		}
		return NewKubernetesBackend(client, opts.Namespace, opts.Logger), nil
	case BackendMemory:
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("unknown backend %q, expected one of: %s, %s, %s",
			name, BackendLocal, BackendKubernetes, BackendMemory)
	}
}

// aggregateStatus folds per-node states into one job state. A failed node
// fails the job; the job succeeds only when every node did.
func aggregateStatus(states []models.JobStatus) models.JobStatus {
	if len(states) == 0 {
		return models.JobStatusPending
	}
	counts := make(map[models.JobStatus]int, len(states))
	for _, s := range states {
		counts[s]++
	}
	switch {
	case counts[models.JobStatusFailed] > 0:
		return models.JobStatusFailed
	case counts[models.JobStatusStopped] > 0:
		return models.JobStatusStopped
	case counts[models.JobStatusSucceeded] == len(states):
		return models.JobStatusSucceeded
	case counts[models.JobStatusRunning] > 0 || counts[models.JobStatusSucceeded] > 0:
		return models.JobStatusRunning
	}
	return models.JobStatusPending
}
