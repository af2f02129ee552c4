package store

import (
	"errors"
	"time"
)

var (
	ErrNotFound     = errors.New("store: not found")
	ErrStaleWrite   = errors.New("store: stale write")
	ErrAlreadyBound = errors.New("store: workflow already bound")
)

type TaskStatus string

const (
	TaskOpen       TaskStatus = "open"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskClosed     TaskStatus = "closed"
)

type StepStatus string

const (
	StepPending    StepStatus = "pending"
	StepInProgress StepStatus = "in_progress"
	StepCompleted  StepStatus = "completed"
	StepSkipped    StepStatus = "skipped"
)

// Valid reports whether s is one of the four step statuses.
func (s StepStatus) Valid() bool {
	switch s {
	case StepPending, StepInProgress, StepCompleted, StepSkipped:
		return true
	default:
		return false
	}
}

type EventStatus string

const (
	EventPending  EventStatus = "pending"
	EventApproved EventStatus = "approved"
	EventRejected EventStatus = "rejected"
)

type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalApproved ApprovalStatus = "approved"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval stage projections for terminal events.
const (
	StageCompleted = "completed"
	StageRejected  = "rejected"
)

type CalendarSettings struct {
	PoliticianID    string
	BufferMinutes   int
	WorkingStart    string
	WorkingEnd      string
	ExcludeWeekends bool
}

type WorkflowDefinition struct {
	ID           string
	PoliticianID string
	Name         string
	Category     string
	CreatedBy    string
	CreatedAt    time.Time
	Steps        []WorkflowStepDefinition
}

type WorkflowStepDefinition struct {
	ID                    string
	WorkflowID            string
	StepNumber            int
	Title                 string
	Description           string
	ExpectedDurationHours int
	Required              bool
}

type Task struct {
	ID           string
	PoliticianID string
	Title        string
	Description  string
	CategoryID   string
	Priority     string
	Status       TaskStatus
	Progress     int
	Deadline     *time.Time
	WorkflowID   *string
	CreatedBy    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	DeletedAt    *time.Time
}

// TaskWorkflowStep is the mutable per-task record of one workflow step.
type TaskWorkflowStep struct {
	ID             string
	TaskID         string
	PoliticianID   string
	WorkflowStepID string
	StepNumber     int
	Title          string
	Required       bool
	Status         StepStatus
	CompletedBy    string
	CompletedAt    *time.Time
	Notes          string
	UpdatedAt      time.Time
}

type StepChange struct {
	TaskID      string
	StepID      string
	Status      StepStatus
	Actor       string
	Notes       *string // nil keeps the stored notes
	CompletedAt *time.Time
}

type Event struct {
	ID                string
	PoliticianID      string
	Title             string
	EventType         string
	Location          string
	StartsAt          time.Time
	EndsAt            time.Time
	ExpectedAttendees int
	Priority          string
	Status            EventStatus
	ApprovalStage     string
	CreatedByID       string
	CreatedBy         string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type EventApproval struct {
	ID            string
	EventID       string
	PoliticianID  string
	ApprovalLevel int
	ApproverRole  string
	Status        ApprovalStatus
	ActedBy       string
	ActedAt       *time.Time
	Comment       string
	Version       int
}

// ApprovalDecision is one compare-and-swap write against a pending approval
// level plus the refreshed event projection.
type ApprovalDecision struct {
	EventID         string
	ApprovalID      string
	ExpectedVersion int
	Status          ApprovalStatus
	ActedBy         string
	ActedAt         time.Time
	Comment         string
	EventStatus     EventStatus
	ApprovalStage   string
}

type Notification struct {
	ID           string
	PoliticianID string
	Recipient    string
	EventID      string
	Kind         string
	Message      string
	CreatedAt    time.Time
}
