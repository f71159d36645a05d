package runner

import (
	"context"
	"fmt"
	"strconv"

	"github.com/1016qqz/FlagScale/core/executor"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/spec"
)

// DefaultServePort is used when neither cli_args nor deploy set a port
const DefaultServePort = 8000

// ServeRunner runs a model server from the serve section. Its smoke test
// waits for the server's /health endpoint.
type ServeRunner struct {
	*baseRunner
	masterAddr string
}

// NewServeRunner creates a serve runner
func NewServeRunner(cfg *spec.Node, deps Deps) *ServeRunner {
	r := &ServeRunner{baseRunner: newBaseRunner(models.TaskServe, cfg, deps)}
	r.commands = r.serveCommands
	r.smoke = r.waitHealthy
	return r
}

// Port resolves the listen port; command line arguments win over deploy
// settings
func (r *ServeRunner) Port() int {
	if p, ok := r.cfg.GetInt("experiment.runner.cli_args.port"); ok && p > 0 {
		return p
	}
	return r.cfg.GetIntOr("experiment.runner.deploy.port", DefaultServePort)
}

func (r *ServeRunner) serveCommands(nodes []models.Node, configPath string) ([]executor.NodeSpec, error) {
	if len(nodes) == 0 {
		return nil, fmt.Errorf("no nodes to serve on")
	}
	port := r.Port()
	r.masterAddr = nodes[0].Address
	if nodes[0].IsLocal() {
		r.masterAddr = "127.0.0.1"
	}

	cmd := fmt.Sprintf("%s %s --config-path=%s --port=%d", r.python(), r.entrypoint(), configPath, port)
	if mp, ok := r.cfg.GetString("experiment.runner.cli_args.model_path"); ok && mp != "" {
		cmd += " --model-path=" + mp
	}
	if ea, ok := r.cfg.GetString("experiment.runner.cli_args.engine_args"); ok && ea != "" {
		cmd += " --engine-args=" + strconv.Quote(ea)
	}

	specs := make([]executor.NodeSpec, len(nodes))
	for i, n := range nodes {
		specs[i] = executor.NodeSpec{
			Rank:    i,
			Host:    n.Address,
			Command: cmd,
			Env: map[string]string{
				"FLAGSCALE_NODE_RANK":   strconv.Itoa(i),
				"FLAGSCALE_NNODES":      strconv.Itoa(len(nodes)),
				"FLAGSCALE_MASTER_ADDR": r.masterAddr,
				"FLAGSCALE_SERVE_PORT":  strconv.Itoa(port),
			},
		}
	}
	return specs, nil
}

// HealthURL is the endpoint the smoke test probes
func (r *ServeRunner) HealthURL() string {
	addr := r.masterAddr
	if addr == "" {
		addr = "127.0.0.1"
	}
	return fmt.Sprintf("http://%s:%d/health", addr, r.Port())
}

func (r *ServeRunner) waitHealthy(ctx context.Context, handle *models.JobHandle) error {
	ctx, cancel := context.WithTimeout(ctx, r.smokeTimeout())
	defer cancel()
	return r.deps.Monitor.WaitHealthy(ctx, r.HealthURL())
}
