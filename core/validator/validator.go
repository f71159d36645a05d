// Package validator holds the fixed matrix of lifecycle actions each task
// type supports.
package validator

import (
	"sort"

	"github.com/1016qqz/FlagScale/core/models"
)

var matrix = map[models.TaskType][]models.Action{
	models.TaskTrain: {
		models.ActionRun, models.ActionDryrun, models.ActionTest,
		models.ActionStop, models.ActionQuery, models.ActionAutoTune,
	},
	models.TaskInference: {
		models.ActionRun, models.ActionDryrun, models.ActionTest, models.ActionStop,
	},
	models.TaskServe: {
		models.ActionRun, models.ActionTest, models.ActionStop, models.ActionAutoTune,
	},
	models.TaskCompress: {
		models.ActionRun, models.ActionDryrun, models.ActionStop,
	},
	models.TaskRL: {
		models.ActionRun, models.ActionDryrun, models.ActionTest, models.ActionStop,
	},
}

// Validate checks that task is a known task type and that it permits action
func Validate(task models.TaskType, action models.Action) error {
	allowed, ok := matrix[task]
	if !ok {
		return &models.ValidationError{TaskType: task, Action: action, Err: models.ErrInvalidTaskType}
	}
	for _, a := range allowed {
		if a == action {
			return nil
		}
	}
	return &models.ValidationError{TaskType: task, Action: action, Err: models.ErrActionNotAllowed}
}

// IsValidTask reports whether task appears in the matrix
func IsValidTask(task models.TaskType) bool {
	_, ok := matrix[task]
	return ok
}

// ValidTasks returns the known task types in sorted order
func ValidTasks() []models.TaskType {
	tasks := make([]models.TaskType, 0, len(matrix))
	for t := range matrix {
		tasks = append(tasks, t)
	}
	sort.Slice(tasks, func(i, j int) bool { return tasks[i] < tasks[j] })
	return tasks
}

// AllowedActions returns a copy of the actions task permits, or nil for an
// unknown task
func AllowedActions(task models.TaskType) []models.Action {
	allowed, ok := matrix[task]
	if !ok {
		return nil
	}
	out := make([]models.Action, len(allowed))
	copy(out, allowed)
	return out
}
