package spec

import (
	"github.com/sirupsen/logrus"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/logging"
)

const (
	// LegacyDeployPath is where deploy settings lived before they moved under the runner
	LegacyDeployPath = "experiment.deploy"
	// DeployPath is the current location of deploy settings
	DeployPath = "experiment.runner.deploy"
	runnerPath = "experiment.runner"
)

// Migrator rewrites deprecated configuration shapes into the current schema.
// It must run before anything else reads the config.
type Migrator struct {
	log logrus.FieldLogger
}

// NewMigrator creates a migrator that reports deprecations to log
func NewMigrator(log logrus.FieldLogger) *Migrator {
	return &Migrator{log: logging.OrDiscard(log)}
}

// Migrate moves experiment.deploy under experiment.runner.deploy in place.
// Keys already present at the destination are kept. A missing or empty
// experiment.deploy leaves the tree untouched, so running Migrate twice is
// the same as running it once.
func (m *Migrator) Migrate(cfg *Node) error {
	legacy, ok := cfg.Get(LegacyDeployPath)
	if !ok || legacy.IsEmpty() {
		return nil
	}
	if !legacy.IsMap() {
		return &models.ConfigMigrationError{
			Path:   LegacyDeployPath,
			Reason: "expected a mapping, got a " + legacy.Kind().String(),
		}
	}

	if runner, ok := cfg.Get(runnerPath); ok && !runner.IsMap() && !runner.IsNull() {
		return &models.ConfigMigrationError{
			Path:   runnerPath,
			Reason: "expected a mapping, got a " + runner.Kind().String(),
		}
	}
	dest, ok := cfg.Get(DeployPath)
	if !ok || dest.IsNull() {
		dest = NewMap()
		if err := cfg.Set(DeployPath, dest); err != nil {
			return &models.ConfigMigrationError{Path: DeployPath, Reason: err.Error()}
		}
	}
	if !dest.IsMap() {
		return &models.ConfigMigrationError{
			Path:   DeployPath,
			Reason: "expected a mapping, got a " + dest.Kind().String(),
		}
	}

	for _, key := range legacy.Keys() {
		if _, exists := dest.Field(key); exists {
			m.log.WithField("key", key).Debugf("Keeping %s.%s, ignoring legacy value", DeployPath, key)
			continue
		}
		value, _ := legacy.Field(key)
		dest.SetField(key, value.Clone())
	}
	cfg.Delete(LegacyDeployPath)

	m.log.Warnf("%s is deprecated and has been moved to %s; please update your config", LegacyDeployPath, DeployPath)
	return nil
}
