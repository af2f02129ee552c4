package app

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"grievance/api/internal/apperr"
	"grievance/api/internal/approval"
	"grievance/api/internal/auth"
	"grievance/api/internal/calendar"
	"grievance/api/internal/config"
	"grievance/api/internal/lock"
	"grievance/api/internal/notify"
	"grievance/api/internal/rbac"
	"grievance/api/internal/scheduling"
	"grievance/api/internal/search"
	"grievance/api/internal/sla"
	"grievance/api/internal/store"
	"grievance/api/internal/util"
	"grievance/api/internal/workflow"
)

type Session struct {
	UserID    string
	UserName  string
	Role      rbac.Role
	TenantID  string
	ExpiresAt time.Time
}

type dataStore interface {
	Ping(context.Context) error
	GetCalendarSettings(context.Context, string) (store.CalendarSettings, error)
	InsertWorkflow(context.Context, store.WorkflowDefinition) error
	GetWorkflow(context.Context, string, string) (store.WorkflowDefinition, error)
	ListWorkflows(context.Context, string) ([]store.WorkflowDefinition, error)
	InsertTask(context.Context, store.Task) error
	InsertTaskWithWorkflow(context.Context, store.Task, []store.TaskWorkflowStep) error
	GetTask(context.Context, string, string) (store.Task, error)
	ListTasks(context.Context, string, string) ([]store.Task, error)
	SoftDeleteTask(context.Context, string, string) error
	ListTaskSteps(context.Context, string, string) ([]store.TaskWorkflowStep, error)
	BindWorkflow(context.Context, string, string, string, []store.TaskWorkflowStep) error
	UpdateStepStatus(context.Context, string, store.StepChange, func([]store.TaskWorkflowStep) int) (store.TaskWorkflowStep, int, error)
	InsertEvent(context.Context, store.Event, []store.EventApproval) error
	GetEvent(context.Context, string, string) (store.Event, error)
	ListEventApprovals(context.Context, string, string) ([]store.EventApproval, error)
	ApplyApprovalDecision(context.Context, string, store.ApprovalDecision) error
	ListApprovedEvents(context.Context, string, time.Time, time.Time) ([]store.Event, error)
	ListEventsAtStage(context.Context, string, string) ([]store.Event, error)
	InsertNotification(context.Context, store.Notification) error
}

type searchService interface {
	Search(q search.Query) search.Response
	IndexTask(t search.TaskRecord)
	IndexEvent(e search.EventRecord)
	DeleteTask(id string)
}

type noSearch struct{}

func (noSearch) Search(q search.Query) search.Response {
	return search.Response{Results: []search.Result{}, Query: q.Text}
}

func (noSearch) IndexTask(search.TaskRecord) {}

func (noSearch) IndexEvent(search.EventRecord) {}

func (noSearch) DeleteTask(string) {}

// Collaborators are the optional side-effect backends. Nil fields fall back
// to in-process defaults.
type Collaborators struct {
	Locker   lock.Locker
	Notifier notify.Notifier
	Calendar calendar.Syncer
	Search   searchService
	Logger   *slog.Logger
	Now      func() time.Time
}

type Service struct {
	cfg       config.Config
	store     dataStore
	tracker   *workflow.Tracker
	approvals *approval.Orchestrator
	search    searchService
	logger    *slog.Logger
	now       func() time.Time
}

func New(cfg config.Config, ds dataStore, c Collaborators) *Service {
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Notifier == nil {
		c.Notifier = notify.LogNotifier{Recorder: ds, Logger: c.Logger}
	}
	if c.Search == nil {
		c.Search = noSearch{}
	}

	opts := []approval.Option{
		approval.WithNotifier(c.Notifier),
		approval.WithLogger(c.Logger),
		approval.WithClock(c.Now),
	}
	if c.Locker != nil {
		opts = append(opts, approval.WithLocker(c.Locker))
	}
	if c.Calendar != nil {
		opts = append(opts, approval.WithCalendar(c.Calendar))
	}

	return &Service{
		cfg:       cfg,
		store:     ds,
		tracker:   workflow.NewTracker(ds, c.Now),
		approvals: approval.New(ds, opts...),
		search:    c.Search,
		logger:    c.Logger,
		now:       c.Now,
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) SessionFromToken(_ context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	session := Session{
		UserID:   claims.Subject,
		UserName: claims.Name,
		Role:     rbac.Normalize(claims.Role),
		TenantID: claims.TenantID,
	}
	if claims.ExpiresAt != nil {
		session.ExpiresAt = claims.ExpiresAt.Time
	}
	return session, nil
}

// IssueToken mints an access token for a session. Used by operator tooling
// and tests; interactive sign-in lives outside this service.
func (s *Service) IssueToken(session Session) (string, error) {
	return auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Name:             session.UserName,
		Role:             string(session.Role),
		TenantID:         session.TenantID,
		RegisteredClaims: jwt.RegisteredClaims{Subject: session.UserID},
	}, s.cfg.AccessTTL)
}

func requireAction(session Session, action rbac.Action) error {
	if rbac.Can(session.Role, action) {
		return nil
	}
	return apperr.Authorization("role may not perform this action", map[string]string{
		"role":   string(session.Role),
		"action": string(action),
	})
}

// =============================================================================
// Workflows
// =============================================================================

type CreateWorkflowInput struct {
	Name     string                    `json:"name"`
	Category string                    `json:"category"`
	Steps    []CreateWorkflowStepInput `json:"steps"`
}

type CreateWorkflowStepInput struct {
	Title                 string `json:"title"`
	Description           string `json:"description"`
	ExpectedDurationHours int    `json:"expectedDurationHours"`
	Required              *bool  `json:"required"`
}

func (s *Service) CreateWorkflow(ctx context.Context, session Session, input CreateWorkflowInput) (store.WorkflowDefinition, error) {
	if err := requireAction(session, rbac.ActionManageWorkflow); err != nil {
		return store.WorkflowDefinition{}, err
	}
	name := strings.TrimSpace(input.Name)
	details := map[string]string{}
	if name == "" {
		details["name"] = "required"
	}
	if len(input.Steps) == 0 {
		details["steps"] = "at least one step is required"
	}
	for _, step := range input.Steps {
		if strings.TrimSpace(step.Title) == "" {
			details["steps.title"] = "every step needs a title"
		}
		if step.ExpectedDurationHours < 0 {
			details["steps.expectedDurationHours"] = "must not be negative"
		}
	}
	if len(details) > 0 {
		return store.WorkflowDefinition{}, apperr.Validation("invalid workflow", details)
	}

	workflowID := util.NewID("wf")
	definition := store.WorkflowDefinition{
		ID:           workflowID,
		PoliticianID: session.TenantID,
		Name:         name,
		Category:     strings.TrimSpace(input.Category),
		CreatedBy:    session.UserName,
		CreatedAt:    s.now().UTC(),
		Steps:        make([]store.WorkflowStepDefinition, 0, len(input.Steps)),
	}
	for i, step := range input.Steps {
		required := true
		if step.Required != nil {
			required = *step.Required
		}
		definition.Steps = append(definition.Steps, store.WorkflowStepDefinition{
			ID:                    util.NewID("wfs"),
			WorkflowID:            workflowID,
			StepNumber:            i + 1,
			Title:                 strings.TrimSpace(step.Title),
			Description:           strings.TrimSpace(step.Description),
			ExpectedDurationHours: step.ExpectedDurationHours,
			Required:              required,
		})
	}

	if err := s.store.InsertWorkflow(ctx, definition); err != nil {
		return store.WorkflowDefinition{}, storeError(err, "workflow not found", "insert workflow")
	}
	return definition, nil
}

func (s *Service) ListWorkflows(ctx context.Context, session Session) ([]store.WorkflowDefinition, error) {
	items, err := s.store.ListWorkflows(ctx, session.TenantID)
	if err != nil {
		return nil, storeError(err, "workflow not found", "list workflows")
	}
	return items, nil
}

// =============================================================================
// Tasks
// =============================================================================

type CreateTaskInput struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	CategoryID  string `json:"categoryId"`
	Priority    string `json:"priority"`
	Deadline    string `json:"deadline"`
	WorkflowID  string `json:"workflowId"`
}

type TaskDetail struct {
	Task     store.Task
	Steps    []store.TaskWorkflowStep
	SLA      sla.Result
	Progress int
}

func (s *Service) CreateTask(ctx context.Context, session Session, input CreateTaskInput) (TaskDetail, error) {
	if err := requireAction(session, rbac.ActionManageTasks); err != nil {
		return TaskDetail{}, err
	}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		return TaskDetail{}, apperr.Validation("title is required", map[string]string{"title": "required"})
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = scheduling.PriorityMedium
	}
	if !scheduling.ValidPriority(priority) {
		return TaskDetail{}, apperr.Validation("unknown priority", map[string]string{"priority": priority})
	}
	deadline, err := sla.ParseDeadline(input.Deadline)
	if err != nil {
		return TaskDetail{}, apperr.Validation("deadline must be RFC 3339", map[string]string{"deadline": input.Deadline})
	}

	now := s.now().UTC()
	task := store.Task{
		ID:           util.NewID("task"),
		PoliticianID: session.TenantID,
		Title:        title,
		Description:  strings.TrimSpace(input.Description),
		CategoryID:   strings.TrimSpace(input.CategoryID),
		Priority:     priority,
		Status:       store.TaskOpen,
		Deadline:     deadline,
		CreatedBy:    session.UserName,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	detail := TaskDetail{Task: task, Steps: []store.TaskWorkflowStep{}, SLA: sla.Classify(deadline, now)}

	workflowID := strings.TrimSpace(input.WorkflowID)
	if workflowID == "" {
		if err := s.store.InsertTask(ctx, task); err != nil {
			return TaskDetail{}, storeError(err, "task not found", "insert task")
		}
	} else {
		steps, err := s.tracker.Instantiate(ctx, session.TenantID, task.ID, workflowID)
		if err != nil {
			return TaskDetail{}, err
		}
		task.WorkflowID = &workflowID
		if err := s.store.InsertTaskWithWorkflow(ctx, task, steps); err != nil {
			return TaskDetail{}, storeError(err, "workflow not found", "insert task with workflow")
		}
		detail.Task = task
		detail.Steps = steps
	}

	s.search.IndexTask(taskRecord(detail.Task))
	return detail, nil
}

func (s *Service) ListTasks(ctx context.Context, session Session, status string) ([]TaskDetail, error) {
	status = strings.TrimSpace(status)
	if status != "" {
		switch store.TaskStatus(status) {
		case store.TaskOpen, store.TaskInProgress, store.TaskCompleted, store.TaskClosed:
		default:
			return nil, apperr.Validation("unknown task status", map[string]string{"status": status})
		}
	}
	tasks, err := s.store.ListTasks(ctx, session.TenantID, status)
	if err != nil {
		return nil, storeError(err, "task not found", "list tasks")
	}
	now := s.now()
	out := make([]TaskDetail, 0, len(tasks))
	for _, task := range tasks {
		out = append(out, TaskDetail{Task: task, SLA: sla.Classify(task.Deadline, now), Progress: task.Progress})
	}
	return out, nil
}

func (s *Service) GetTask(ctx context.Context, session Session, taskID string) (TaskDetail, error) {
	task, err := s.store.GetTask(ctx, session.TenantID, taskID)
	if err != nil {
		return TaskDetail{}, storeError(err, "task not found", "load task")
	}
	steps, err := s.tracker.Steps(ctx, session.TenantID, taskID)
	if err != nil {
		return TaskDetail{}, err
	}
	progress := task.Progress
	if len(steps) > 0 {
		progress = workflow.Progress(steps)
	}
	return TaskDetail{Task: task, Steps: steps, SLA: sla.Classify(task.Deadline, s.now()), Progress: progress}, nil
}

func (s *Service) DeleteTask(ctx context.Context, session Session, taskID string) error {
	if err := requireAction(session, rbac.ActionManageTasks); err != nil {
		return err
	}
	if err := s.store.SoftDeleteTask(ctx, session.TenantID, taskID); err != nil {
		return storeError(err, "task not found", "delete task")
	}
	s.search.DeleteTask(taskID)
	return nil
}

func (s *Service) BindWorkflow(ctx context.Context, session Session, taskID, workflowID string) ([]store.TaskWorkflowStep, error) {
	if err := requireAction(session, rbac.ActionManageTasks); err != nil {
		return nil, err
	}
	return s.tracker.BindWorkflow(ctx, session.TenantID, taskID, workflowID)
}

func (s *Service) SetStepStatus(ctx context.Context, session Session, taskID, stepID, status string, notes *string) (workflow.StepUpdate, error) {
	if err := requireAction(session, rbac.ActionEditSteps); err != nil {
		return workflow.StepUpdate{}, err
	}
	actor := session.UserName
	if actor == "" {
		actor = session.UserID
	}
	return s.tracker.SetStepStatus(ctx, session.TenantID, taskID, stepID, store.StepStatus(strings.TrimSpace(status)), actor, notes)
}

func (s *Service) ProgressOf(ctx context.Context, session Session, taskID string) (int, error) {
	return s.tracker.ProgressOf(ctx, session.TenantID, taskID)
}

func (s *Service) ClassifySLA(ctx context.Context, session Session, taskID string) (sla.Result, error) {
	task, err := s.store.GetTask(ctx, session.TenantID, taskID)
	if err != nil {
		return sla.Result{}, storeError(err, "task not found", "load task")
	}
	return sla.Classify(task.Deadline, s.now()), nil
}

// =============================================================================
// Events and approvals
// =============================================================================

type CreateEventInput struct {
	Title             string   `json:"title"`
	EventType         string   `json:"eventType"`
	Location          string   `json:"location"`
	StartsAt          string   `json:"startsAt"`
	EndsAt            string   `json:"endsAt"`
	ExpectedAttendees int      `json:"expectedAttendees"`
	Priority          string   `json:"priority"`
	ApproverRoles     []string `json:"approverRoles"`
}

type EventDetail struct {
	Event     store.Event
	Approvals []store.EventApproval
	Warnings  []string
}

func (s *Service) CreateEvent(ctx context.Context, session Session, input CreateEventInput) (EventDetail, error) {
	if err := requireAction(session, rbac.ActionManageEvents); err != nil {
		return EventDetail{}, err
	}

	details := map[string]string{}
	title := strings.TrimSpace(input.Title)
	if title == "" {
		details["title"] = "required"
	}
	if !scheduling.ValidEventType(input.EventType) {
		details["eventType"] = "unknown event type"
	}
	priority := strings.TrimSpace(input.Priority)
	if priority == "" {
		priority = scheduling.PriorityMedium
	}
	if !scheduling.ValidPriority(priority) {
		details["priority"] = "unknown priority"
	}
	if input.ExpectedAttendees < 0 {
		details["expectedAttendees"] = "must not be negative"
	}
	startsAt, errStart := time.Parse(time.RFC3339, strings.TrimSpace(input.StartsAt))
	if errStart != nil {
		details["startsAt"] = "must be RFC 3339"
	}
	endsAt, errEnd := time.Parse(time.RFC3339, strings.TrimSpace(input.EndsAt))
	if errEnd != nil {
		details["endsAt"] = "must be RFC 3339"
	}
	if errStart == nil && errEnd == nil && !endsAt.After(startsAt) {
		details["endsAt"] = "must be after startsAt"
	}
	if len(details) > 0 {
		return EventDetail{}, apperr.Validation("invalid event", details)
	}

	eventID := util.NewID("evt")
	chain, err := approval.NewChain(session.TenantID, eventID, input.ApproverRoles)
	if err != nil {
		return EventDetail{}, err
	}

	settings, err := s.calendarSettings(ctx, session.TenantID)
	if err != nil {
		return EventDetail{}, err
	}
	buffer := time.Duration(settings.BufferMinutes) * time.Minute
	committed, err := s.store.ListApprovedEvents(ctx, session.TenantID, startsAt.Add(-buffer), endsAt.Add(buffer))
	if err != nil {
		return EventDetail{}, storeError(err, "event not found", "list approved events")
	}

	now := s.now().UTC()
	event := store.Event{
		ID:                eventID,
		PoliticianID:      session.TenantID,
		Title:             title,
		EventType:         input.EventType,
		Location:          strings.TrimSpace(input.Location),
		StartsAt:          startsAt.UTC(),
		EndsAt:            endsAt.UTC(),
		ExpectedAttendees: input.ExpectedAttendees,
		Priority:          priority,
		Status:            store.EventPending,
		ApprovalStage:     chain[0].ApproverRole,
		CreatedByID:       session.UserID,
		CreatedBy:         session.UserName,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := s.store.InsertEvent(ctx, event, chain); err != nil {
		return EventDetail{}, storeError(err, "event not found", "insert event")
	}

	s.search.IndexEvent(eventRecord(event))
	return EventDetail{
		Event:     event,
		Approvals: chain,
		Warnings:  scheduling.DetectConflicts(event.StartsAt, event.EndsAt, buffer, busyFrom(committed)),
	}, nil
}

func (s *Service) GetEvent(ctx context.Context, session Session, eventID string) (EventDetail, error) {
	event, err := s.store.GetEvent(ctx, session.TenantID, eventID)
	if err != nil {
		return EventDetail{}, storeError(err, "event not found", "load event")
	}
	approvals, err := s.store.ListEventApprovals(ctx, session.TenantID, eventID)
	if err != nil {
		return EventDetail{}, storeError(err, "event not found", "load approvals")
	}
	return EventDetail{Event: event, Approvals: approvals, Warnings: []string{}}, nil
}

// ActOnApproval resolves the event's current level on behalf of the caller.
// The approver role is derived from the caller's account role.
func (s *Service) ActOnApproval(ctx context.Context, session Session, eventID, decision, comment string) (approval.Outcome, error) {
	if err := requireAction(session, rbac.ActionApprove); err != nil {
		return approval.Outcome{}, err
	}
	approverRole, ok := rbac.ApproverFor(session.Role)
	if !ok {
		return approval.Outcome{}, apperr.Authorization("account role has no approver role", map[string]string{"role": string(session.Role)})
	}
	actor := session.UserName
	if actor == "" {
		actor = session.UserID
	}

	outcome, err := s.approvals.Act(ctx, session.TenantID, eventID, string(approverRole), approval.Decision(strings.TrimSpace(decision)), actor, comment)
	if err != nil {
		return approval.Outcome{}, err
	}
	s.search.IndexEvent(eventRecord(outcome.Event))
	return outcome, nil
}

func (s *Service) ApprovalInbox(ctx context.Context, session Session) ([]store.Event, error) {
	approverRole, ok := rbac.ApproverFor(session.Role)
	if !ok {
		return []store.Event{}, nil
	}
	events, err := s.store.ListEventsAtStage(ctx, session.TenantID, string(approverRole))
	if err != nil {
		return nil, storeError(err, "event not found", "list approval inbox")
	}
	return events, nil
}

// =============================================================================
// Scheduling
// =============================================================================

type SuggestSlotsInput struct {
	EventType         string `json:"eventType"`
	DurationMinutes   int    `json:"durationMinutes"`
	PreferredStart    string `json:"preferredStart"`
	PreferredEnd      string `json:"preferredEnd"`
	ExcludeWeekends   *bool  `json:"excludeWeekends"`
	Location          string `json:"location"`
	ExpectedAttendees int    `json:"expectedAttendees"`
	Priority          string `json:"priority"`
}

func (s *Service) calendarSettings(ctx context.Context, politicianID string) (store.CalendarSettings, error) {
	settings, err := s.store.GetCalendarSettings(ctx, politicianID)
	if errors.Is(err, store.ErrNotFound) {
		return store.CalendarSettings{
			PoliticianID:    politicianID,
			BufferMinutes:   s.cfg.DefaultBufferMinutes,
			WorkingStart:    "09:00",
			WorkingEnd:      "17:00",
			ExcludeWeekends: true,
		}, nil
	}
	if err != nil {
		return store.CalendarSettings{}, storeError(err, "calendar settings not found", "load calendar settings")
	}
	return settings, nil
}

func (s *Service) SuggestSlots(ctx context.Context, session Session, input SuggestSlotsInput) ([]scheduling.Candidate, error) {
	if !scheduling.ValidEventType(input.EventType) {
		return nil, apperr.Validation("unknown event type", map[string]string{"eventType": input.EventType})
	}
	settings, err := s.calendarSettings(ctx, session.TenantID)
	if err != nil {
		return nil, err
	}

	startRaw, endRaw := input.PreferredStart, input.PreferredEnd
	if strings.TrimSpace(startRaw) == "" {
		startRaw = settings.WorkingStart
	}
	if strings.TrimSpace(endRaw) == "" {
		endRaw = settings.WorkingEnd
	}
	dayStart, err := scheduling.ParseClock(startRaw)
	if err != nil {
		return nil, apperr.Validation("preferredStart must be HH:MM", map[string]string{"preferredStart": startRaw})
	}
	dayEnd, err := scheduling.ParseClock(endRaw)
	if err != nil {
		return nil, apperr.Validation("preferredEnd must be HH:MM", map[string]string{"preferredEnd": endRaw})
	}
	excludeWeekends := settings.ExcludeWeekends
	if input.ExcludeWeekends != nil {
		excludeWeekends = *input.ExcludeWeekends
	}
	priority := input.Priority
	if priority == "" {
		priority = scheduling.PriorityMedium
	}

	now := s.now()
	buffer := time.Duration(settings.BufferMinutes) * time.Minute
	committed, err := s.store.ListApprovedEvents(ctx, session.TenantID, now.Add(-buffer), now.AddDate(0, 0, scheduling.HorizonDays+1))
	if err != nil {
		return nil, storeError(err, "event not found", "list approved events")
	}

	return scheduling.Suggest(scheduling.Request{
		EventType:         input.EventType,
		Duration:          time.Duration(input.DurationMinutes) * time.Minute,
		DayStart:          dayStart,
		DayEnd:            dayEnd,
		ExcludeWeekends:   excludeWeekends,
		Location:          input.Location,
		ExpectedAttendees: input.ExpectedAttendees,
		Priority:          priority,
		Buffer:            buffer,
		Existing:          busyFrom(committed),
		Now:               now,
		TZ:                s.cfg.Location(),
	})
}

// =============================================================================
// Search
// =============================================================================

func (s *Service) Search(_ context.Context, session Session, text string, filter search.ResultType, limit, offset int) search.Response {
	return s.search.Search(search.Query{
		PoliticianID: session.TenantID,
		Text:         strings.TrimSpace(text),
		FilterType:   filter,
		Limit:        limit,
		Offset:       offset,
	})
}

func busyFrom(events []store.Event) []scheduling.Busy {
	out := make([]scheduling.Busy, 0, len(events))
	for _, event := range events {
		out = append(out, scheduling.Busy{Title: event.Title, Start: event.StartsAt, End: event.EndsAt})
	}
	return out
}

func taskRecord(task store.Task) search.TaskRecord {
	return search.TaskRecord{
		ID:           task.ID,
		PoliticianID: task.PoliticianID,
		Title:        task.Title,
		Description:  task.Description,
		Status:       string(task.Status),
		Priority:     task.Priority,
	}
}

func eventRecord(event store.Event) search.EventRecord {
	return search.EventRecord{
		ID:            event.ID,
		PoliticianID:  event.PoliticianID,
		Title:         event.Title,
		Location:      event.Location,
		EventType:     event.EventType,
		Status:        string(event.Status),
		ApprovalStage: event.ApprovalStage,
	}
}
