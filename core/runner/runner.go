// Package runner turns a job config into backend launches for each task
// type. Runners hold only the config and their collaborators; everything
// needed to reach a launched job again lives in the persisted JobHandle.
package runner

import (
	"context"

	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/1016qqz/FlagScale/core/executor"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/monitoring"
	"github.com/1016qqz/FlagScale/core/repository"
)

// LaunchOptions tunes a launch
type LaunchOptions struct {
	// SmokeTest waits for the job to prove itself healthy before returning
	SmokeTest bool
}

// Runner carries out lifecycle actions for one task type
type Runner interface {
	TaskType() models.TaskType
	// Launch starts the job and persists its handle
	Launch(ctx context.Context, opts LaunchOptions) (*models.JobHandle, error)
	// Validate renders the launch scripts without starting anything
	Validate(ctx context.Context) error
	// Terminate stops the job recorded for this config. Stopping a job
	// that is already gone succeeds.
	Terminate(ctx context.Context) error
	// Status reports the state of the job recorded for this config
	Status(ctx context.Context) (*models.StatusReport, error)
}

// HostResolver discovers nodes from a non-file host source such as ec2://
type HostResolver interface {
	DiscoverNodes(ctx context.Context, source string) ([]models.Node, error)
}

// Deps are the collaborators shared by every runner
type Deps struct {
	Backend executor.Backend
	Store   repository.HandleStore
	Monitor *monitoring.JobMonitor
	Hosts   HostResolver
	Fs      afero.Fs
	Log     logrus.FieldLogger
}
