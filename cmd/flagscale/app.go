package main

import (
	"context"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/1016qqz/FlagScale/api/rest/handlers"
	"github.com/1016qqz/FlagScale/config"
	"github.com/1016qqz/FlagScale/core/dispatcher"
	"github.com/1016qqz/FlagScale/core/executor"
	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/monitoring"
	"github.com/1016qqz/FlagScale/core/repository"
	"github.com/1016qqz/FlagScale/core/runner"
	"github.com/1016qqz/FlagScale/core/tuner"
	"github.com/1016qqz/FlagScale/providers/aws"
)

// app is the wired object graph shared by the commands
type app struct {
	dispatcher *dispatcher.Dispatcher
	metrics    *monitoring.MetricsExporter
	events     handlers.EventSource
	db         *repository.DB
}

func newApp(ctx context.Context, cfg *config.Config, log logrus.FieldLogger) (*app, error) {
	backend, err := executor.New(cfg.Backend, executor.Options{
		Namespace:  cfg.K8sNamespace,
		Kubeconfig: cfg.Kubeconfig,
		Logger:     log,
	})
	if err != nil {
		return nil, err
	}

	a := &app{metrics: monitoring.NewMetricsExporter()}
	fs := afero.NewOsFs()

	var store repository.HandleStore = repository.NewFileHandleStore(fs)
	if cfg.DatabaseURL != "" {
		db, err := repository.NewDB(cfg.DatabaseURL)
		if err != nil {
			return nil, errors.Wrap(err, "failed to connect to database")
		}
		if err := db.Migrate(ctx); err != nil {
			db.Close()
			return nil, err
		}
		log.Info("Database connected successfully")
		a.db = db
		store = repository.NewPostgresHandleStore(db)
		a.events = repository.NewEventRepository(db)
	}

	factory := runner.NewFactory(runner.Deps{
		Backend: backend,
		Store:   store,
		Monitor: monitoring.NewJobMonitor(cfg.PollInterval, log),
		Hosts:   &ec2Hosts{region: cfg.AWSRegion},
		Fs:      fs,
		Log:     log,
	})
	a.dispatcher = dispatcher.New(factory, log)
	a.dispatcher.SetMetrics(a.metrics)

	t := tuner.New(a.dispatcher, fs, log)
	t.SetMetrics(a.metrics)
	a.dispatcher.SetTuner(t)
	return a, nil
}

func (a *app) Close() {
	if a.db != nil {
		a.db.Close()
	}
}

// ec2Hosts connects to AWS on first use, so configs without an ec2://
// hostfile never need credentials
type ec2Hosts struct {
	region string
	once   sync.Once
	client *aws.Client
	err    error
}

func (h *ec2Hosts) DiscoverNodes(ctx context.Context, source string) ([]models.Node, error) {
	h.once.Do(func() {
		h.client, h.err = aws.NewClient(ctx, h.region)
	})
	if h.err != nil {
		return nil, h.err
	}
	return h.client.DiscoverNodes(ctx, source)
}
