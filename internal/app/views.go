package app

import (
	"time"

	"grievance/api/internal/approval"
	"grievance/api/internal/store"
	"grievance/api/internal/workflow"
)

func formatTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339)
}

func workflowJSON(definition store.WorkflowDefinition) map[string]any {
	steps := make([]map[string]any, 0, len(definition.Steps))
	for _, step := range definition.Steps {
		steps = append(steps, map[string]any{
			"id":                    step.ID,
			"stepNumber":            step.StepNumber,
			"title":                 step.Title,
			"description":           step.Description,
			"expectedDurationHours": step.ExpectedDurationHours,
			"required":              step.Required,
		})
	}
	return map[string]any{
		"id":        definition.ID,
		"name":      definition.Name,
		"category":  definition.Category,
		"createdBy": definition.CreatedBy,
		"createdAt": definition.CreatedAt.UTC().Format(time.RFC3339),
		"steps":     steps,
	}
}

func stepJSON(step store.TaskWorkflowStep) map[string]any {
	return map[string]any{
		"id":             step.ID,
		"taskId":         step.TaskID,
		"workflowStepId": step.WorkflowStepID,
		"stepNumber":     step.StepNumber,
		"title":          step.Title,
		"required":       step.Required,
		"status":         step.Status,
		"completedBy":    step.CompletedBy,
		"completedAt":    formatTime(step.CompletedAt),
		"notes":          step.Notes,
	}
}

func stepsJSON(steps []store.TaskWorkflowStep) []map[string]any {
	out := make([]map[string]any, 0, len(steps))
	for _, step := range steps {
		out = append(out, stepJSON(step))
	}
	return out
}

func taskJSON(detail TaskDetail) map[string]any {
	task := detail.Task
	var workflowID any
	if task.WorkflowID != nil {
		workflowID = *task.WorkflowID
	}
	body := map[string]any{
		"id":          task.ID,
		"title":       task.Title,
		"description": task.Description,
		"categoryId":  task.CategoryID,
		"priority":    task.Priority,
		"status":      task.Status,
		"deadline":    formatTime(task.Deadline),
		"workflowId":  workflowID,
		"progress":    detail.Progress,
		"sla":         detail.SLA,
		"createdBy":   task.CreatedBy,
		"createdAt":   task.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":   task.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if detail.Steps != nil {
		body["steps"] = stepsJSON(detail.Steps)
	}
	return body
}

func stepUpdateJSON(update workflow.StepUpdate) map[string]any {
	return map[string]any{
		"step":     stepJSON(update.Step),
		"progress": update.Progress,
	}
}

func eventJSON(event store.Event) map[string]any {
	return map[string]any{
		"id":                event.ID,
		"title":             event.Title,
		"eventType":         event.EventType,
		"location":          event.Location,
		"startsAt":          event.StartsAt.UTC().Format(time.RFC3339),
		"endsAt":            event.EndsAt.UTC().Format(time.RFC3339),
		"expectedAttendees": event.ExpectedAttendees,
		"priority":          event.Priority,
		"status":            event.Status,
		"approvalStage":     event.ApprovalStage,
		"createdBy":         event.CreatedBy,
		"createdAt":         event.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":         event.UpdatedAt.UTC().Format(time.RFC3339),
	}
}

func approvalsJSON(approvals []store.EventApproval) []map[string]any {
	out := make([]map[string]any, 0, len(approvals))
	for _, item := range approvals {
		out = append(out, map[string]any{
			"id":           item.ID,
			"level":        item.ApprovalLevel,
			"approverRole": item.ApproverRole,
			"status":       item.Status,
			"actedBy":      item.ActedBy,
			"actedAt":      formatTime(item.ActedAt),
			"comment":      item.Comment,
		})
	}
	return out
}

func eventDetailJSON(detail EventDetail) map[string]any {
	warnings := detail.Warnings
	if warnings == nil {
		warnings = []string{}
	}
	return map[string]any{
		"event":     eventJSON(detail.Event),
		"approvals": approvalsJSON(detail.Approvals),
		"warnings":  warnings,
	}
}

func outcomeJSON(outcome approval.Outcome) map[string]any {
	return map[string]any{
		"eventId":   outcome.EventID,
		"status":    outcome.Status,
		"stage":     outcome.Stage,
		"level":     outcome.Level,
		"approvals": approvalsJSON(outcome.Approvals),
	}
}
