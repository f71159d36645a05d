package tuner

import (
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"

	"github.com/1016qqz/FlagScale/core/models"
	"github.com/1016qqz/FlagScale/core/repository"
)

// HistoryFile is written under <exp_dir>/auto_tune
const HistoryFile = "history.yaml"

// HistoryPath returns where the history of a tuning run under expDir lives
func HistoryPath(expDir string) string {
	return filepath.Join(expDir, "auto_tune", HistoryFile)
}

func writeHistory(fs afero.Fs, path string, summary *models.TuningSummary) error {
	data, err := yaml.Marshal(summary)
	if err != nil {
		return errors.Wrap(err, "failed to encode tuning history")
	}
	return repository.WriteFileAtomic(fs, path, data)
}

// ReadHistory loads a history written by a previous run
func ReadHistory(fs afero.Fs, path string) (*models.TuningSummary, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read tuning history %s", path)
	}
	var summary models.TuningSummary
	if err := yaml.Unmarshal(data, &summary); err != nil {
		return nil, errors.Wrapf(err, "corrupt tuning history %s", path)
	}
	return &summary, nil
}

func sortByIndex(trials []models.TuningTrial) {
	sort.Slice(trials, func(i, j int) bool { return trials[i].Index < trials[j].Index })
}
