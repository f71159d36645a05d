package runner

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/1016qqz/FlagScale/core/executor"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/monitoring"
	"github.com/1016qqz/FlagScale/core/repository"
	"github.com/1016qqz/FlagScale/core/spec"
	"github.com/1016qqz/FlagScale/logging"
)

const (
	defaultExpDir       = "outputs"
	defaultPython       = "python"
	defaultSmokeTimeout = 30 * time.Minute
	stopTimeout         = 2 * time.Minute
)

var defaultEntrypoints = map[models.TaskType]string{
	models.TaskTrain:     "flagscale/train/train.py",
	models.TaskRL:        "flagscale/train/train_rl.py",
	models.TaskInference: "flagscale/inference/inference.py",
	models.TaskServe:     "flagscale/serve/serve.py",
	models.TaskCompress:  "flagscale/compress/compress.py",
}

// commandBuilder renders the per-node commands of a variant. configPath is
// the resolved config written for the job to read.
type commandBuilder func(nodes []models.Node, configPath string) ([]executor.NodeSpec, error)

// smokeCheck proves a freshly launched job healthy
type smokeCheck func(ctx context.Context, handle *models.JobHandle) error

// baseRunner implements the lifecycle shared by all task types. Variants
// supply the node commands and, optionally, their own smoke check.
type baseRunner struct {
	task     models.TaskType
	cfg      *spec.Node
	deps     Deps
	log      logrus.FieldLogger
	commands commandBuilder
	smoke    smokeCheck
}

func newBaseRunner(task models.TaskType, cfg *spec.Node, deps Deps) *baseRunner {
	if deps.Fs == nil {
		deps.Fs = afero.NewOsFs()
	}
	deps.Log = logging.OrDiscard(deps.Log)
	// a per-job poll interval overrides the process-wide monitor
	if interval, ok := cfg.GetDuration("experiment.runner.poll_interval"); ok && interval > 0 {
		deps.Monitor = monitoring.NewJobMonitor(interval, deps.Log)
	} else if deps.Monitor == nil {
		deps.Monitor = monitoring.NewJobMonitor(0, deps.Log)
	}
	b := &baseRunner{
		task: task,
		cfg:  cfg,
		deps: deps,
		log:  deps.Log.WithField("task_type", task),
	}
	b.smoke = b.waitSucceeded
	return b
}

func (b *baseRunner) TaskType() models.TaskType { return b.task }

func (b *baseRunner) expDir() string {
	dir := b.cfg.GetStringOr("experiment.exp_dir", defaultExpDir)
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

func (b *baseRunner) expName() string {
	return b.cfg.GetStringOr("experiment.exp_name", string(b.task))
}

func (b *baseRunner) handleKey() string {
	return repository.HandleKey(b.expDir(), b.task)
}

func (b *baseRunner) logDir() string {
	if dir, ok := b.cfg.GetString("experiment.runner.log_dir"); ok && dir != "" {
		return dir
	}
	return filepath.Join(b.expDir(), "logs")
}

func (b *baseRunner) entrypoint() string {
	if ep, ok := b.cfg.GetString("experiment.runner.entrypoint"); ok && ep != "" {
		return ep
	}
	return defaultEntrypoints[b.task]
}

func (b *baseRunner) python() string {
	return b.cfg.GetStringOr("experiment.runner.python", defaultPython)
}

// resolveNodes returns the nodes the job runs on: the hostfile or ec2://
// target in experiment.runner.hostfile, or this machine alone
func (b *baseRunner) resolveNodes(ctx context.Context) ([]models.Node, error) {
	nproc := b.cfg.GetIntOr("experiment.runner.nproc_per_node", 0)
	source := b.cfg.GetStringOr("experiment.runner.hostfile", "")

	var nodes []models.Node
	switch {
	case source == "":
		nodes = []models.Node{{ID: "localhost", Provider: models.ProviderLocal, Slots: nproc}}
	case strings.HasPrefix(source, "ec2://"):
		if b.deps.Hosts == nil {
			return nil, errors.Errorf("hostfile %s needs cloud host discovery, which is not configured", source)
		}
		found, err := b.deps.Hosts.DiscoverNodes(ctx, source)
		if err != nil {
			return nil, err
		}
		nodes = found
	default:
		f, err := b.deps.Fs.Open(source)
		if err != nil {
			return nil, errors.Wrapf(err, "failed to open hostfile %s", source)
		}
		defer f.Close()
		parsed, err := ParseHostfile(f)
		if err != nil {
			return nil, errors.Wrapf(err, "hostfile %s", source)
		}
		if len(parsed) == 0 {
			return nil, errors.Errorf("hostfile %s lists no hosts", source)
		}
		nodes = parsed
	}

	if want := b.cfg.GetIntOr("experiment.runner.nnodes", 0); want > 0 {
		if want > len(nodes) {
			return nil, errors.Errorf("experiment.runner.nnodes is %d but only %d hosts are available", want, len(nodes))
		}
		nodes = nodes[:want]
	}
	for i := range nodes {
		if nproc > 0 {
			nodes[i].Slots = nproc
		}
	}
	return nodes, nil
}

// writeConfig stores the resolved config the job reads at startup
func (b *baseRunner) writeConfig() (string, error) {
	path := filepath.Join(b.expDir(), "config", string(b.task)+".yaml")
	data, err := spec.ToYAML(b.cfg)
	if err != nil {
		return "", err
	}
	if err := repository.WriteFileAtomic(b.deps.Fs, path, data); err != nil {
		return "", err
	}
	return path, nil
}

// buildSpec renders the launch for the current config. User envs from
// experiment.runner.envs override computed ones and before_start commands
// run ahead of the node command.
func (b *baseRunner) buildSpec(ctx context.Context) (executor.LaunchSpec, error) {
	nodes, err := b.resolveNodes(ctx)
	if err != nil {
		return executor.LaunchSpec{}, err
	}
	configPath, err := b.writeConfig()
	if err != nil {
		return executor.LaunchSpec{}, err
	}
	nodeSpecs, err := b.commands(nodes, configPath)
	if err != nil {
		return executor.LaunchSpec{}, err
	}

	userEnv := b.cfg.GetStringMap("experiment.runner.envs")
	before := strings.TrimSpace(b.cfg.GetStringOr("experiment.cmds.before_start", ""))
	for i := range nodeSpecs {
		if nodeSpecs[i].Env == nil {
			nodeSpecs[i].Env = make(map[string]string)
		}
		for k, v := range userEnv {
			nodeSpecs[i].Env[k] = v
		}
		if before != "" {
			nodeSpecs[i].Command = before + "\n" + nodeSpecs[i].Command
		}
	}

	return executor.LaunchSpec{
		JobID:    uuid.NewString(),
		Name:     b.expName(),
		TaskType: b.task,
		Nodes:    nodeSpecs,
		WorkDir:  b.cfg.GetStringOr("experiment.runner.workdir", ""),
		LogDir:   b.logDir(),
		Image:    b.cfg.GetStringOr("experiment.runner.image", ""),
		Labels:   map[string]string{"flagscale.io/exp-name": b.expName()},
	}, nil
}

func (b *baseRunner) Launch(ctx context.Context, opts LaunchOptions) (*models.JobHandle, error) {
	key := b.handleKey()
	if err := b.ensureNotRunning(ctx, key); err != nil {
		return nil, err
	}

	launch, err := b.buildSpec(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "failed to prepare launch")
	}
	b.log.WithFields(logrus.Fields{"job_id": launch.JobID, "nodes": len(launch.Nodes)}).
		Infof("Launching %s job %s on %s backend", b.task, launch.JobID, b.deps.Backend.Name())

	handle, err := b.deps.Backend.Launch(ctx, launch)
	if err != nil {
		return nil, err
	}
	if err := b.deps.Store.Save(ctx, key, handle); err != nil {
		b.stopQuietly(handle)
		return nil, errors.Wrap(err, "failed to record job handle")
	}

	if opts.SmokeTest {
		if err := b.smoke(ctx, handle); err != nil {
			b.stopQuietly(handle)
			if saveErr := b.deps.Store.Save(context.Background(), key, handle); saveErr != nil {
				b.log.Warnf("Failed to record stopped job: %v", saveErr)
			}
			return handle, errors.Wrap(err, "smoke test failed")
		}
		b.log.WithField("job_id", handle.JobID).Info("Smoke test passed")
	}
	return handle, nil
}

// ensureNotRunning refuses a launch while the previous job for the same
// key is still alive
func (b *baseRunner) ensureNotRunning(ctx context.Context, key string) error {
	prev, err := b.deps.Store.Load(ctx, key)
	if errors.Is(err, repository.ErrHandleNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if prev.Status.IsTerminal() {
		return nil
	}
	r, err := b.deps.Backend.Status(ctx, prev)
	if err != nil || r.Status.IsTerminal() {
		return nil
	}
	return errors.Errorf("%s job %s from %s is still %s; stop it first", b.task, prev.JobID, b.expDir(), r.Status)
}

func (b *baseRunner) stopQuietly(handle *models.JobHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := b.deps.Backend.Terminate(ctx, handle); err != nil {
		b.log.WithField("job_id", handle.JobID).Warnf("Failed to stop job: %v", err)
	}
}

func (b *baseRunner) smokeTimeout() time.Duration {
	if d, ok := b.cfg.GetDuration("experiment.runner.test_timeout"); ok && d > 0 {
		return d
	}
	return defaultSmokeTimeout
}

// waitSucceeded is the default smoke check: the job must finish cleanly
func (b *baseRunner) waitSucceeded(ctx context.Context, handle *models.JobHandle) error {
	ctx, cancel := context.WithTimeout(ctx, b.smokeTimeout())
	defer cancel()
	status := func(ctx context.Context) (*models.StatusReport, error) {
		return b.deps.Backend.Status(ctx, handle)
	}
	r, err := b.deps.Monitor.WaitFor(ctx, status, monitoring.Terminal)
	if err != nil {
		return err
	}
	handle.Status = r.Status
	if r.Status != models.JobStatusSucceeded {
		return errors.Errorf("job %s ended %s: %s", handle.JobID, r.Status, r.Message)
	}
	return nil
}

// Validate writes the launch scripts under <exp_dir>/scripts for review
func (b *baseRunner) Validate(ctx context.Context) error {
	launch, err := b.buildSpec(ctx)
	if err != nil {
		return err
	}
	dir := filepath.Join(b.expDir(), "scripts")
	for _, n := range launch.Nodes {
		host := n.Host
		if host == "" {
			host = "localhost"
		}
		path := filepath.Join(dir, fmt.Sprintf("host_%d_%s_run.sh", n.Rank, host))
		if err := repository.WriteFileAtomic(b.deps.Fs, path, []byte(renderScript(n))); err != nil {
			return err
		}
		b.log.WithField("rank", n.Rank).Infof("Wrote launch script %s", path)
	}
	return nil
}

func renderScript(n executor.NodeSpec) string {
	var sb strings.Builder
	sb.WriteString("#!/bin/bash\n\n")
	keys := make([]string, 0, len(n.Env))
	for k := range n.Env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&sb, "export %s='%s'\n", k, strings.ReplaceAll(n.Env[k], "'", `'\''`))
	}
	sb.WriteString("\n")
	sb.WriteString(n.Command)
	sb.WriteString("\n")
	return sb.String()
}

// Terminate stops the recorded job and stores the updated handle
func (b *baseRunner) Terminate(ctx context.Context) error {
	key := b.handleKey()
	handle, err := b.deps.Store.Load(ctx, key)
	if errors.Is(err, repository.ErrHandleNotFound) {
		b.log.Infof("No %s job recorded at %s; nothing to stop", b.task, key)
		return nil
	}
	if err != nil {
		return err
	}
	if err := b.deps.Backend.Terminate(ctx, handle); err != nil {
		return err
	}
	b.log.WithField("job_id", handle.JobID).Infof("Stopped %s job", b.task)
	return b.deps.Store.Save(ctx, key, handle)
}

// Status queries the backend for the recorded job and keeps the stored
// handle's status current
func (b *baseRunner) Status(ctx context.Context) (*models.StatusReport, error) {
	key := b.handleKey()
	handle, err := b.deps.Store.Load(ctx, key)
	if err != nil {
		return nil, err
	}
	r, err := b.deps.Backend.Status(ctx, handle)
	if err != nil {
		return nil, err
	}
	if r.Status == handle.Status {
		return r, nil
	}

	// a stop or relaunch may have stored a newer record while the backend
	// was being asked
	current, err := b.deps.Store.Load(ctx, key)
	if err != nil {
		b.log.Warnf("Failed to reload job handle: %v", err)
		return r, nil
	}
	if current.JobID != handle.JobID {
		return r, nil
	}
	if current.Status.IsTerminal() {
		r.Status = current.Status
		return r, nil
	}
	b.log.WithField("job_id", handle.JobID).Infof("Job status changed from %s to %s", current.Status, r.Status)
	current.Status = r.Status
	if err := b.deps.Store.Save(ctx, key, current); err != nil {
		b.log.Warnf("Failed to record job status: %v", err)
	}
	return r, nil
}
