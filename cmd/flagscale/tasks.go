package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/1016qqz/FlagScale/config"
	"github.com/1016qqz/FlagScale/core/models"
)

const serveWarning = "Warning: When serving, please specify the relevant environment variables. " +
	"When serving on multiple machines, ensure that the necessary parameters, " +
	"such as hostfile, are set correctly."

// actionFlags are the mutually exclusive action switches of a task command
type actionFlags struct {
	stop, dryrun, test, query, tune bool
}

func (f *actionFlags) register(cmd *cobra.Command, verb string, actions ...models.Action) {
	for _, a := range actions {
		switch a {
		case models.ActionStop:
			cmd.Flags().BoolVar(&f.stop, "stop", false, "Stop "+verb)
		case models.ActionDryrun:
			cmd.Flags().BoolVar(&f.dryrun, "dryrun", false, "Validate config only")
		case models.ActionTest:
			cmd.Flags().BoolVar(&f.test, "test", false, "Run with test")
		case models.ActionQuery:
			cmd.Flags().BoolVar(&f.query, "query", false, "Query status")
		case models.ActionAutoTune:
			cmd.Flags().BoolVar(&f.tune, "tune", false, "Auto-tune")
		}
	}
}

// action returns the selected action, run when no switch is set
func (f *actionFlags) action() (models.Action, error) {
	set := []struct {
		name   string
		on     bool
		action models.Action
	}{
		{"stop", f.stop, models.ActionStop},
		{"dryrun", f.dryrun, models.ActionDryrun},
		{"test", f.test, models.ActionTest},
		{"query", f.query, models.ActionQuery},
		{"tune", f.tune, models.ActionAutoTune},
	}
	var names []string
	var chosen models.Action = models.ActionRun
	for _, s := range set {
		if s.on {
			names = append(names, s.name)
			chosen = s.action
		}
	}
	if len(names) > 1 {
		return "", errors.Errorf("flags are mutually exclusive: --%s", strings.Join(names, ", --"))
	}
	return chosen, nil
}

// resolveConfig finds the config dir and name for model. An explicit yaml
// path wins over <examples>/<model>/conf/<task>.yaml.
func resolveConfig(examplesDir, model, yamlPath string, task models.TaskType) (string, string, error) {
	path := yamlPath
	if path == "" {
		path = filepath.Join(examplesDir, model, "conf", string(task)+".yaml")
	}
	path, err := filepath.Abs(path)
	if err != nil {
		return "", "", err
	}
	if _, err := os.Stat(path); err != nil {
		return "", "", errors.Errorf("%s does not exist", path)
	}
	return filepath.Dir(path), strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)), nil
}

type taskOptions struct {
	task    models.TaskType
	short   string
	verb    string
	actions []models.Action
	// extra contributes overrides and runs before dispatch
	extra func(cmd *cobra.Command, action models.Action) []string
}

func newTaskCmd(opts taskOptions, setup func(cmd *cobra.Command)) *cobra.Command {
	var (
		yamlPath string
		flags    actionFlags
	)
	cmd := &cobra.Command{
		Use:   string(opts.task) + " MODEL",
		Short: opts.short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			model := args[0]
			action, err := flags.action()
			if err != nil {
				return err
			}
			dir, name, err := resolveConfig(config.Load().ExamplesDir, model, yamlPath, opts.task)
			if err != nil {
				return err
			}
			var overrides []string
			if opts.extra != nil {
				overrides = opts.extra(cmd, action)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s [%s]\n", strings.ToUpper(string(opts.task[:1]))+string(opts.task[1:]), model, action)
			fmt.Fprintf(out, "config_path: %s\n", dir)
			fmt.Fprintf(out, "config_name: %s\n", name)
			return execute(cmd, dir, name, action, overrides)
		},
	}
	cmd.Flags().StringVarP(&yamlPath, "config", "c", "", "Config YAML path")
	flags.register(cmd, opts.verb, opts.actions...)
	if setup != nil {
		setup(cmd)
	}
	return cmd
}

func newTrainCmd() *cobra.Command {
	return newTaskCmd(taskOptions{
		task:    models.TaskTrain,
		short:   "Train a model",
		verb:    "training",
		actions: []models.Action{models.ActionStop, models.ActionDryrun, models.ActionTest, models.ActionQuery, models.ActionAutoTune},
	}, nil)
}

func newInferenceCmd() *cobra.Command {
	return newTaskCmd(taskOptions{
		task:    models.TaskInference,
		short:   "Run inference",
		verb:    "inference",
		actions: []models.Action{models.ActionStop, models.ActionDryrun, models.ActionTest},
	}, nil)
}

func newRLCmd() *cobra.Command {
	return newTaskCmd(taskOptions{
		task:    models.TaskRL,
		short:   "Run RL training",
		verb:    "RL training",
		actions: []models.Action{models.ActionStop, models.ActionDryrun, models.ActionTest},
	}, nil)
}

func newCompressCmd() *cobra.Command {
	return newTaskCmd(taskOptions{
		task:    models.TaskCompress,
		short:   "Compress a model",
		verb:    "compression",
		actions: []models.Action{models.ActionStop, models.ActionDryrun},
	}, nil)
}

func newServeCmd() *cobra.Command {
	var (
		port       int
		modelPath  string
		engineArgs string
	)
	opts := taskOptions{
		task:    models.TaskServe,
		short:   "Serve a model",
		verb:    "serving",
		actions: []models.Action{models.ActionStop, models.ActionTest, models.ActionAutoTune},
		extra: func(cmd *cobra.Command, action models.Action) []string {
			var extra []string
			if port > 0 {
				extra = append(extra, fmt.Sprintf("++experiment.runner.cli_args.port=%d", port))
			}
			if modelPath != "" {
				extra = append(extra, "++experiment.runner.cli_args.model_path="+modelPath)
			}
			if engineArgs != "" {
				extra = append(extra, "++experiment.runner.cli_args.engine_args='"+engineArgs+"'")
			}
			if action == models.ActionRun {
				color.New(color.FgYellow).Fprintln(cmd.ErrOrStderr(), serveWarning)
			}
			return extra
		},
	}
	return newTaskCmd(opts, func(cmd *cobra.Command) {
		cmd.Flags().IntVar(&port, "port", 0, "Server port")
		cmd.Flags().StringVar(&modelPath, "model-path", "", "Model weights path")
		cmd.Flags().StringVar(&engineArgs, "engine-args", "", `Engine args as JSON string, e.g. '{"a":1}'`)
	})
}
