package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/1016qqz/FlagScale/config"
	"github.com/1016qqz/FlagScale/core/dispatcher"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/repository"
	"github.com/1016qqz/FlagScale/core/spec"
	"github.com/1016qqz/FlagScale/core/tuner"
	"github.com/1016qqz/FlagScale/logging"
)

const defaultExpDir = "outputs"

func newRunCmd() *cobra.Command {
	var (
		configPath string
		configName string
		action     string
	)
	cmd := &cobra.Command{
		Use:   "run [overrides...]",
		Short: "Run a task with an explicit config path and name",
		Long: `Run a task with an explicit config path and name.

Overrides use key=value (key must exist), +key=value (key must not exist),
++key=value (set or add) and ~key (delete).

Example:
  flagscale run -p ./examples/qwen3/conf -n train -a run
  flagscale run -p ./examples/qwen3/conf -n train -a stop`,
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := filepath.Abs(configPath)
			if err != nil {
				return err
			}
			if _, err := os.Stat(dir); err != nil {
				return errors.Errorf("config path does not exist: %s", dir)
			}
			file := filepath.Join(dir, strings.TrimSuffix(configName, ".yaml")+".yaml")
			if _, err := os.Stat(file); err != nil {
				return errors.Errorf("config file does not exist: %s", file)
			}

			act := models.Action(action)
			if !cmd.Flags().Changed("action") {
				act = ""
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Running: --config-path=%s --config-name=%s action=%s %s\n",
				dir, configName, action, strings.Join(args, " "))
			return execute(cmd, dir, configName, act, args)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config-path", "p", "", "Path to config directory")
	cmd.Flags().StringVarP(&configName, "config-name", "n", "", "Config file name (without .yaml)")
	cmd.Flags().StringVarP(&action, "action", "a", string(models.ActionRun), "Action to perform: run, dryrun, test, stop, query or auto_tune")
	_ = cmd.MarkFlagRequired("config-path")
	_ = cmd.MarkFlagRequired("config-name")
	return cmd
}

// execute loads the config, builds the app and dispatches action. An
// empty action falls back to the config's top-level action key, then run.
func execute(cmd *cobra.Command, dir, name string, action models.Action, overrides []string) error {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogFormat, cmd.ErrOrStderr())

	jobCfg, err := spec.Load(dir, name, overrides)
	if err != nil {
		return err
	}
	if action == "" {
		action = models.Action(jobCfg.GetStringOr("action", string(models.ActionRun)))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.Close()

	result, err := a.dispatcher.Dispatch(ctx, jobCfg, action)
	if result != nil && (err == nil || result.Tuning != nil) {
		printResult(cmd.OutOrStdout(), result)
	}
	if action == models.ActionQuery && printLastTuning(cmd.OutOrStdout(), jobCfg) {
		// an auto-tune run records no job of its own under exp_dir
		if errors.Is(err, repository.ErrHandleNotFound) {
			return nil
		}
	}
	return err
}

// printLastTuning reports the auto-tune history under the config's exp_dir.
// It returns false when there is none.
func printLastTuning(w io.Writer, cfg *spec.Node) bool {
	expDir := cfg.GetStringOr("experiment.exp_dir", defaultExpDir)
	summary, err := tuner.ReadHistory(afero.NewOsFs(), tuner.HistoryPath(expDir))
	if err != nil {
		return false
	}
	fmt.Fprintf(w, "Last auto-tune: %d trials, %d succeeded, stopped by %s\n",
		len(summary.Trials), summary.Succeeded, summary.StopReason)
	if summary.Best != nil {
		fmt.Fprintf(w, "Best trial %d scored %v with %v\n", summary.Best.Index, summary.Best.Score, summary.Best.Params)
	} else if summary.LastError != "" {
		fmt.Fprintf(w, "No trial succeeded: %s\n", summary.LastError)
	}
	return true
}

func printResult(w io.Writer, r *dispatcher.Result) {
	switch {
	case r.Handle != nil:
		fmt.Fprintf(w, "%s job %s launched on %s backend, logs in %s\n", r.TaskType, r.Handle.JobID, r.Handle.Backend, r.Handle.LogDir)
	case r.Status != nil:
		out, _ := yaml.Marshal(r.Status)
		fmt.Fprint(w, string(out))
	case r.Tuning != nil:
		out, _ := yaml.Marshal(r.Tuning)
		fmt.Fprint(w, string(out))
	default:
		fmt.Fprintf(w, "%s %s done\n", r.TaskType, r.Action)
	}
}
