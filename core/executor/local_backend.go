package executor

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/logging"
)

// MetricsFileName is the file under the job log dir that launched
// processes write their metrics to, as a flat YAML or JSON mapping
const MetricsFileName = "metrics.yaml"

// LocalBackend runs every node of a job as a detached process group on the
// current machine. Each node writes its exit code next to its log, so a
// later process can still tell how the job ended.
type LocalBackend struct {
	log logrus.FieldLogger
}

// NewLocalBackend creates a local process backend
func NewLocalBackend(log logrus.FieldLogger) *LocalBackend {
	return &LocalBackend{log: logging.OrDiscard(log)}
}

func (b *LocalBackend) Name() string { return BackendLocal }

// Launch starts one shell per node. If a node fails to start, nodes already
// started are killed before the error is returned.
func (b *LocalBackend) Launch(ctx context.Context, spec LaunchSpec) (*models.JobHandle, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	for _, n := range spec.Nodes {
		if !(models.Node{Address: n.Host}).IsLocal() {
			return nil, errors.Errorf("node rank %d targets remote host %s; the local backend only runs on this machine", n.Rank, n.Host)
		}
	}
	if spec.LogDir == "" {
		return nil, errors.Errorf("launch spec for job %s has no log dir", spec.JobID)
	}
	if err := os.MkdirAll(spec.LogDir, 0o755); err != nil {
		return nil, errors.Wrap(err, "failed to create log dir")
	}
	// A relaunch into the same log dir must not read stale results
	_ = os.Remove(filepath.Join(spec.LogDir, MetricsFileName))

	handle := &models.JobHandle{
		JobID:      spec.JobID,
		Name:       spec.Name,
		TaskType:   spec.TaskType,
		Backend:    BackendLocal,
		LogDir:     spec.LogDir,
		Status:     models.JobStatusRunning,
		LaunchedAt: time.Now().UTC(),
	}

	for _, node := range spec.sortedNodes() {
		if err := ctx.Err(); err != nil {
			b.killAll(handle)
			return nil, err
		}
		pid, err := b.startNode(spec, node)
		if err != nil {
			b.killAll(handle)
			return nil, errors.Wrapf(err, "failed to start node rank %d", node.Rank)
		}
		b.log.WithFields(logrus.Fields{"job_id": spec.JobID, "rank": node.Rank, "pid": pid}).
			Infof("Started node process for job %s", spec.JobID)
		handle.Processes = append(handle.Processes, models.ProcessRef{
			Rank: node.Rank,
			Host: hostOrLocal(node.Host),
			PID:  pid,
		})
	}
	return handle, nil
}

func (b *LocalBackend) startNode(spec LaunchSpec, node NodeSpec) (int, error) {
	logFile := filepath.Join(spec.LogDir, fmt.Sprintf("host_%d_%s.output", node.Rank, hostOrLocal(node.Host)))
	script := wrapCommand(node.Command, logFile, exitFile(spec.LogDir, node.Rank))

	cmd := exec.Command("/bin/bash", "-c", script)
	cmd.Dir = spec.WorkDir
	cmd.Env = os.Environ()
	cmd.Env = append(cmd.Env, EnvMetricsFile+"="+filepath.Join(spec.LogDir, MetricsFileName))
	keys := make([]string, 0, len(node.Env))
	for k := range node.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		cmd.Env = append(cmd.Env, k+"="+node.Env[k])
	}
	setDetached(cmd)

	if err := cmd.Start(); err != nil {
		return 0, err
	}
	pid := cmd.Process.Pid
	// Reap the child so a finished node does not linger as a zombie
	go func() { _ = cmd.Wait() }()
	return pid, nil
}

// wrapCommand runs command with output redirected to logFile and records
// its exit code once it finishes
func wrapCommand(command, logFile, exitPath string) string {
	return fmt.Sprintf("rm -f %[3]s\n(\n%[1]s\n) >> %[2]s 2>&1\necho $? > %[3]s.tmp && mv %[3]s.tmp %[3]s\n",
		command, shellQuote(logFile), shellQuote(exitPath))
}

// Terminate signals each node's process group. Nodes that already exited
// are skipped.
func (b *LocalBackend) Terminate(ctx context.Context, handle *models.JobHandle) error {
	var failed []string
	for _, p := range handle.Processes {
		if p.PID <= 0 {
			continue
		}
		if _, done := readExitCode(handle.LogDir, p.Rank); done {
			continue
		}
		if err := terminateGroup(p.PID); err != nil {
			failed = append(failed, fmt.Sprintf("rank %d (pid %d): %v", p.Rank, p.PID, err))
			continue
		}
		b.log.WithFields(logrus.Fields{"job_id": handle.JobID, "rank": p.Rank, "pid": p.PID}).
			Info("Sent SIGTERM to node process group")
	}
	if len(failed) > 0 {
		return errors.Errorf("failed to stop job %s: %s", handle.JobID, strings.Join(failed, "; "))
	}
	now := time.Now().UTC()
	handle.Status = models.JobStatusStopped
	if handle.StoppedAt == nil {
		handle.StoppedAt = &now
	}
	return nil
}

// Status derives the job state from each node's exit code file and process
// liveness, and reads metrics the job wrote to its metrics file
func (b *LocalBackend) Status(ctx context.Context, handle *models.JobHandle) (*models.StatusReport, error) {
	states := make([]models.JobStatus, 0, len(handle.Processes))
	var messages []string
	for _, p := range handle.Processes {
		if code, done := readExitCode(handle.LogDir, p.Rank); done {
			if code == 0 {
				states = append(states, models.JobStatusSucceeded)
			} else {
				states = append(states, models.JobStatusFailed)
				messages = append(messages, fmt.Sprintf("rank %d exited with code %d", p.Rank, code))
			}
			continue
		}
		if processAlive(p.PID) {
			states = append(states, models.JobStatusRunning)
			continue
		}
		if handle.Status == models.JobStatusStopped {
			states = append(states, models.JobStatusStopped)
			continue
		}
		states = append(states, models.JobStatusFailed)
		messages = append(messages, fmt.Sprintf("rank %d exited without reporting a status", p.Rank))
	}

	report := &models.StatusReport{
		JobID:   handle.JobID,
		Status:  aggregateStatus(states),
		Message: strings.Join(messages, "; "),
	}
	if handle.Status == models.JobStatusStopped && !report.Status.IsTerminal() {
		report.Status = models.JobStatusStopped
	}
	metrics, err := readMetrics(filepath.Join(handle.LogDir, MetricsFileName))
	if err != nil {
		b.log.WithField("job_id", handle.JobID).Warnf("Failed to read job metrics: %v", err)
	}
	report.Metrics = metrics
	return report, nil
}

func (b *LocalBackend) killAll(handle *models.JobHandle) {
	for _, p := range handle.Processes {
		if err := terminateGroup(p.PID); err != nil {
			b.log.WithField("pid", p.PID).Warnf("Failed to kill partially launched node: %v", err)
		}
	}
}

func exitFile(logDir string, rank int) string {
	return filepath.Join(logDir, fmt.Sprintf("host_%d.exit_code", rank))
}

func readExitCode(logDir string, rank int) (int, bool) {
	data, err := os.ReadFile(exitFile(logDir, rank))
	if err != nil {
		return 0, false
	}
	code, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, false
	}
	return code, true
}

// readMetrics loads a flat mapping of numeric metrics. A missing file is
// not an error; non-numeric entries are skipped.
func readMetrics(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "invalid metrics file %s", path)
	}
	metrics := make(map[string]float64, len(raw))
	for k, v := range raw {
		switch n := v.(type) {
		case int:
			metrics[k] = float64(n)
		case float64:
			metrics[k] = n
		}
	}
	return metrics, nil
}

func hostOrLocal(host string) string {
	if host == "" {
		return "localhost"
	}
	return host
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
