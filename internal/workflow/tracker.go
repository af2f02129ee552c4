// Package workflow tracks per-task workflow step instances and the task
// progress derived from them.
package workflow

import (
	"context"
	"errors"
	"math"
	"strings"
	"time"

	"grievance/api/internal/apperr"
	"grievance/api/internal/store"
	"grievance/api/internal/util"
)

type Store interface {
	GetTask(ctx context.Context, politicianID, taskID string) (store.Task, error)
	GetWorkflow(ctx context.Context, politicianID, workflowID string) (store.WorkflowDefinition, error)
	BindWorkflow(ctx context.Context, politicianID, taskID, workflowID string, steps []store.TaskWorkflowStep) error
	ListTaskSteps(ctx context.Context, politicianID, taskID string) ([]store.TaskWorkflowStep, error)
	UpdateStepStatus(ctx context.Context, politicianID string, change store.StepChange, progress func([]store.TaskWorkflowStep) int) (store.TaskWorkflowStep, int, error)
}

type Tracker struct {
	store Store
	now   func() time.Time
}

func NewTracker(s Store, now func() time.Time) *Tracker {
	if now == nil {
		now = time.Now
	}
	return &Tracker{store: s, now: now}
}

type StepUpdate struct {
	Step     store.TaskWorkflowStep `json:"step"`
	Progress int                    `json:"progress"`
}

// Progress is round(100 * completed / total). Skipped steps count as not
// completed. An empty slice yields 0; callers decide whether that applies.
func Progress(steps []store.TaskWorkflowStep) int {
	if len(steps) == 0 {
		return 0
	}
	completed := 0
	for _, step := range steps {
		if step.Status == store.StepCompleted {
			completed++
		}
	}
	return int(math.Round(100 * float64(completed) / float64(len(steps))))
}

// BindWorkflow creates one pending step instance per definition step and
// links the task to the workflow. Nothing is written on failure.
func (t *Tracker) BindWorkflow(ctx context.Context, politicianID, taskID, workflowID string) ([]store.TaskWorkflowStep, error) {
	taskID = strings.TrimSpace(taskID)
	workflowID = strings.TrimSpace(workflowID)
	if taskID == "" || workflowID == "" {
		return nil, apperr.Validation("taskId and workflowId are required", nil)
	}

	task, err := t.store.GetTask(ctx, politicianID, taskID)
	if err != nil {
		return nil, translate(err, "task not found", "load task")
	}
	if task.WorkflowID != nil {
		return nil, alreadyBound(taskID, *task.WorkflowID)
	}

	instances, err := t.Instantiate(ctx, politicianID, taskID, workflowID)
	if err != nil {
		return nil, err
	}

	if err := t.store.BindWorkflow(ctx, politicianID, taskID, workflowID, instances); err != nil {
		if errors.Is(err, store.ErrAlreadyBound) {
			return nil, alreadyBound(taskID, workflowID)
		}
		return nil, translate(err, "task not found", "bind workflow")
	}
	return instances, nil
}

// Instantiate builds pending step instances for taskID from the workflow
// definition without writing them. The task itself need not exist yet.
func (t *Tracker) Instantiate(ctx context.Context, politicianID, taskID, workflowID string) ([]store.TaskWorkflowStep, error) {
	definition, err := t.store.GetWorkflow(ctx, politicianID, workflowID)
	if err != nil {
		return nil, translate(err, "workflow not found", "load workflow")
	}
	if len(definition.Steps) == 0 {
		return nil, apperr.Validation("workflow has no steps", map[string]string{"workflowId": workflowID})
	}

	now := t.now().UTC()
	instances := make([]store.TaskWorkflowStep, 0, len(definition.Steps))
	for _, def := range definition.Steps {
		instances = append(instances, store.TaskWorkflowStep{
			ID:             util.NewID("tws"),
			TaskID:         taskID,
			PoliticianID:   politicianID,
			WorkflowStepID: def.ID,
			StepNumber:     def.StepNumber,
			Title:          def.Title,
			Required:       def.Required,
			Status:         store.StepPending,
			UpdatedAt:      now,
		})
	}
	return instances, nil
}

// SetStepStatus moves a step to any of the four statuses and persists the
// recomputed task progress in the same write.
func (t *Tracker) SetStepStatus(ctx context.Context, politicianID, taskID, stepID string, status store.StepStatus, actor string, notes *string) (StepUpdate, error) {
	if strings.TrimSpace(taskID) == "" || strings.TrimSpace(stepID) == "" {
		return StepUpdate{}, apperr.Validation("taskId and stepId are required", nil)
	}
	if !status.Valid() {
		return StepUpdate{}, apperr.Validation("invalid step status", map[string]string{"status": string(status)})
	}

	change := store.StepChange{
		TaskID: taskID,
		StepID: stepID,
		Status: status,
		Actor:  strings.TrimSpace(actor),
		Notes:  notes,
	}
	if status == store.StepCompleted {
		completedAt := t.now().UTC()
		change.CompletedAt = &completedAt
	}

	step, progress, err := t.store.UpdateStepStatus(ctx, politicianID, change, Progress)
	if err != nil {
		return StepUpdate{}, translate(err, "step not found for task", "update step status")
	}
	return StepUpdate{Step: step, Progress: progress}, nil
}

// ProgressOf recomputes progress from the current step statuses. A task with
// no step instances keeps its stored progress.
func (t *Tracker) ProgressOf(ctx context.Context, politicianID, taskID string) (int, error) {
	task, err := t.store.GetTask(ctx, politicianID, taskID)
	if err != nil {
		return 0, translate(err, "task not found", "load task")
	}
	steps, err := t.store.ListTaskSteps(ctx, politicianID, taskID)
	if err != nil {
		return 0, translate(err, "task not found", "list steps")
	}
	if len(steps) == 0 {
		return task.Progress, nil
	}
	return Progress(steps), nil
}

func (t *Tracker) Steps(ctx context.Context, politicianID, taskID string) ([]store.TaskWorkflowStep, error) {
	steps, err := t.store.ListTaskSteps(ctx, politicianID, taskID)
	if err != nil {
		return nil, translate(err, "task not found", "list steps")
	}
	return steps, nil
}

func alreadyBound(taskID, workflowID string) error {
	return apperr.Conflict("WORKFLOW_ALREADY_BOUND", "task already has a workflow", map[string]string{
		"taskId":     taskID,
		"workflowId": workflowID,
	})
}

func translate(err error, notFoundMessage, op string) error {
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound(notFoundMessage)
	}
	var appErr *apperr.Error
	if errors.As(err, &appErr) {
		return err
	}
	return apperr.Transient(op, err)
}
