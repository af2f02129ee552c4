package app

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"grievance/api/internal/store"
)

type fakeStore struct {
	mu            sync.Mutex
	pingErr       error
	settings      map[string]store.CalendarSettings
	workflows     map[string]store.WorkflowDefinition
	tasks         map[string]store.Task
	steps         map[string][]store.TaskWorkflowStep
	events        map[string]store.Event
	approvals     map[string][]store.EventApproval
	notifications []store.Notification
	insertErr     error
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		settings:  map[string]store.CalendarSettings{},
		workflows: map[string]store.WorkflowDefinition{},
		tasks:     map[string]store.Task{},
		steps:     map[string][]store.TaskWorkflowStep{},
		events:    map[string]store.Event{},
		approvals: map[string][]store.EventApproval{},
	}
}

func (f *fakeStore) Ping(context.Context) error {
	return f.pingErr
}

func (f *fakeStore) GetCalendarSettings(_ context.Context, politicianID string) (store.CalendarSettings, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	settings, ok := f.settings[politicianID]
	if !ok {
		return store.CalendarSettings{}, store.ErrNotFound
	}
	return settings, nil
}

func (f *fakeStore) InsertWorkflow(_ context.Context, definition store.WorkflowDefinition) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.workflows[definition.ID] = definition
	return nil
}

func (f *fakeStore) GetWorkflow(_ context.Context, politicianID, workflowID string) (store.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	definition, ok := f.workflows[workflowID]
	if !ok || definition.PoliticianID != politicianID {
		return store.WorkflowDefinition{}, store.ErrNotFound
	}
	return definition, nil
}

func (f *fakeStore) ListWorkflows(_ context.Context, politicianID string) ([]store.WorkflowDefinition, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.WorkflowDefinition{}
	for _, definition := range f.workflows {
		if definition.PoliticianID == politicianID {
			out = append(out, definition)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (f *fakeStore) InsertTask(_ context.Context, task store.Task) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tasks[task.ID] = task
	return nil
}

func (f *fakeStore) InsertTaskWithWorkflow(_ context.Context, task store.Task, steps []store.TaskWorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.insertErr != nil {
		return f.insertErr
	}
	f.tasks[task.ID] = task
	f.steps[task.ID] = append([]store.TaskWorkflowStep(nil), steps...)
	return nil
}

func (f *fakeStore) GetTask(_ context.Context, politicianID, taskID string) (store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.PoliticianID != politicianID || task.DeletedAt != nil {
		return store.Task{}, store.ErrNotFound
	}
	return task, nil
}

func (f *fakeStore) ListTasks(_ context.Context, politicianID, status string) ([]store.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Task{}
	for _, task := range f.tasks {
		if task.PoliticianID != politicianID || task.DeletedAt != nil {
			continue
		}
		if status != "" && string(task.Status) != status {
			continue
		}
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (f *fakeStore) SoftDeleteTask(_ context.Context, politicianID, taskID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.PoliticianID != politicianID || task.DeletedAt != nil {
		return store.ErrNotFound
	}
	now := time.Now()
	task.DeletedAt = &now
	f.tasks[taskID] = task
	return nil
}

func (f *fakeStore) ListTaskSteps(_ context.Context, politicianID, taskID string) ([]store.TaskWorkflowStep, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.TaskWorkflowStep{}
	for _, step := range f.steps[taskID] {
		if step.PoliticianID == politicianID {
			out = append(out, step)
		}
	}
	return out, nil
}

func (f *fakeStore) BindWorkflow(_ context.Context, politicianID, taskID, workflowID string, steps []store.TaskWorkflowStep) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[taskID]
	if !ok || task.PoliticianID != politicianID {
		return store.ErrNotFound
	}
	if task.WorkflowID != nil || len(f.steps[taskID]) > 0 {
		return store.ErrAlreadyBound
	}
	f.steps[taskID] = append([]store.TaskWorkflowStep(nil), steps...)
	task.WorkflowID = &workflowID
	f.tasks[taskID] = task
	return nil
}

func (f *fakeStore) UpdateStepStatus(_ context.Context, politicianID string, change store.StepChange, progress func([]store.TaskWorkflowStep) int) (store.TaskWorkflowStep, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	task, ok := f.tasks[change.TaskID]
	if !ok || task.PoliticianID != politicianID {
		return store.TaskWorkflowStep{}, 0, store.ErrNotFound
	}
	steps := f.steps[change.TaskID]
	for i := range steps {
		if steps[i].ID != change.StepID {
			continue
		}
		steps[i].Status = change.Status
		if change.Notes != nil {
			steps[i].Notes = *change.Notes
		}
		steps[i].CompletedAt = change.CompletedAt
		steps[i].CompletedBy = ""
		if change.CompletedAt != nil {
			steps[i].CompletedBy = change.Actor
		}
		task.Progress = progress(steps)
		f.tasks[change.TaskID] = task
		return steps[i], task.Progress, nil
	}
	return store.TaskWorkflowStep{}, 0, store.ErrNotFound
}

func (f *fakeStore) InsertEvent(_ context.Context, event store.Event, approvals []store.EventApproval) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events[event.ID] = event
	f.approvals[event.ID] = append([]store.EventApproval(nil), approvals...)
	return nil
}

func (f *fakeStore) GetEvent(_ context.Context, politicianID, eventID string) (store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[eventID]
	if !ok || event.PoliticianID != politicianID {
		return store.Event{}, store.ErrNotFound
	}
	return event, nil
}

func (f *fakeStore) ListEventApprovals(_ context.Context, politicianID, eventID string) ([]store.EventApproval, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if event, ok := f.events[eventID]; !ok || event.PoliticianID != politicianID {
		return nil, store.ErrNotFound
	}
	return append([]store.EventApproval(nil), f.approvals[eventID]...), nil
}

func (f *fakeStore) ApplyApprovalDecision(_ context.Context, politicianID string, d store.ApprovalDecision) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	event, ok := f.events[d.EventID]
	if !ok || event.PoliticianID != politicianID {
		return store.ErrNotFound
	}
	chain := f.approvals[d.EventID]
	for i := range chain {
		if chain[i].ID != d.ApprovalID {
			continue
		}
		if chain[i].Status != store.ApprovalPending || chain[i].Version != d.ExpectedVersion {
			return store.ErrStaleWrite
		}
		actedAt := d.ActedAt
		chain[i].Status = d.Status
		chain[i].ActedBy = d.ActedBy
		chain[i].ActedAt = &actedAt
		chain[i].Comment = d.Comment
		chain[i].Version++
		event.Status = d.EventStatus
		event.ApprovalStage = d.ApprovalStage
		f.events[d.EventID] = event
		return nil
	}
	return store.ErrStaleWrite
}

func (f *fakeStore) ListApprovedEvents(_ context.Context, politicianID string, from, to time.Time) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Event{}
	for _, event := range f.events {
		if event.PoliticianID != politicianID || event.Status != store.EventApproved {
			continue
		}
		if event.StartsAt.Before(to) && event.EndsAt.After(from) {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeStore) ListEventsAtStage(_ context.Context, politicianID, stage string) ([]store.Event, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []store.Event{}
	for _, event := range f.events {
		if event.PoliticianID == politicianID && event.Status == store.EventPending && event.ApprovalStage == stage {
			out = append(out, event)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartsAt.Before(out[j].StartsAt) })
	return out, nil
}

func (f *fakeStore) InsertNotification(_ context.Context, item store.Notification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item.PoliticianID == "" {
		return errors.New("notification without tenant")
	}
	f.notifications = append(f.notifications, item)
	return nil
}
