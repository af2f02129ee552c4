// Package approval runs the sequential multi-level sign-off for events.
//
// Each event carries approval levels 1..n. The lowest pending level is the
// one currently required to act; a rejection at any level is terminal and
// leaves every higher level pending. The event's approval_stage is a
// projection of the approval list and is rewritten on every transition.
package approval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"grievance/api/internal/apperr"
	"grievance/api/internal/calendar"
	"grievance/api/internal/lock"
	"grievance/api/internal/notify"
	"grievance/api/internal/rbac"
	"grievance/api/internal/store"
	"grievance/api/internal/util"
)

type Decision string

const (
	Approve Decision = "approve"
	Reject  Decision = "reject"
)

type Store interface {
	GetEvent(ctx context.Context, politicianID, eventID string) (store.Event, error)
	ListEventApprovals(ctx context.Context, politicianID, eventID string) ([]store.EventApproval, error)
	ApplyApprovalDecision(ctx context.Context, politicianID string, decision store.ApprovalDecision) error
}

type Orchestrator struct {
	store    Store
	locker   lock.Locker
	notifier notify.Notifier
	syncer   calendar.Syncer
	logger   *slog.Logger
	now      func() time.Time
}

type Option func(*Orchestrator)

func WithLocker(l lock.Locker) Option {
	return func(o *Orchestrator) { o.locker = l }
}

func WithNotifier(n notify.Notifier) Option {
	return func(o *Orchestrator) { o.notifier = n }
}

func WithCalendar(s calendar.Syncer) Option {
	return func(o *Orchestrator) { o.syncer = s }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func New(s Store, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:    s,
		locker:   lock.Noop{},
		notifier: notify.LogNotifier{},
		syncer:   calendar.Disabled{},
		logger:   slog.Default(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type Outcome struct {
	EventID   string                `json:"eventId"`
	Status    store.EventStatus     `json:"status"`
	Stage     string                `json:"stage"`
	Level     int                   `json:"level"`
	Event     store.Event           `json:"-"`
	Approvals []store.EventApproval `json:"approvals"`
}

// NewChain builds pending approval records for levels 1..n in the given
// role order. An empty role list yields the default chain.
func NewChain(politicianID, eventID string, roles []string) ([]store.EventApproval, error) {
	if len(roles) == 0 {
		for _, role := range rbac.DefaultApprovalChain {
			roles = append(roles, string(role))
		}
	}
	chain := make([]store.EventApproval, 0, len(roles))
	for i, role := range roles {
		role = strings.TrimSpace(role)
		if !rbac.ValidApprover(role) {
			return nil, apperr.Validation("unknown approver role", map[string]any{"role": role, "level": i + 1})
		}
		chain = append(chain, store.EventApproval{
			ID:            util.NewID("apr"),
			EventID:       eventID,
			PoliticianID:  politicianID,
			ApprovalLevel: i + 1,
			ApproverRole:  role,
			Status:        store.ApprovalPending,
		})
	}
	return chain, nil
}

// Current returns the lowest pending level. ok is false when no level is
// pending. The chain must not be empty and must be ordered by level, start at 1, be contiguous, and
// have every level below the current one approved.
func Current(approvals []store.EventApproval) (store.EventApproval, bool, error) {
	if len(approvals) == 0 {
		return store.EventApproval{}, false, errors.New("event has no approval levels")
	}
	var current *store.EventApproval
	for i := range approvals {
		a := approvals[i]
		if a.ApprovalLevel != i+1 {
			return store.EventApproval{}, false, fmt.Errorf("approval levels not contiguous at index %d (level %d)", i, a.ApprovalLevel)
		}
		if current != nil {
			if a.Status != store.ApprovalPending {
				return store.EventApproval{}, false, fmt.Errorf("level %d resolved above pending level %d", a.ApprovalLevel, current.ApprovalLevel)
			}
			continue
		}
		switch a.Status {
		case store.ApprovalPending:
			current = &approvals[i]
		case store.ApprovalRejected:
			return store.EventApproval{}, false, nil
		}
	}
	if current == nil {
		return store.EventApproval{}, false, nil
	}
	return *current, true, nil
}

// Act applies one approver's decision to the event's current level.
func (o *Orchestrator) Act(ctx context.Context, politicianID, eventID, actorRole string, decision Decision, actor, comment string) (Outcome, error) {
	if decision != Approve && decision != Reject {
		return Outcome{}, apperr.Validation("decision must be approve or reject", map[string]string{"decision": string(decision)})
	}
	if strings.TrimSpace(eventID) == "" {
		return Outcome{}, apperr.Validation("eventId is required", nil)
	}

	unlock, err := o.locker.Lock(ctx, "event:"+politicianID+":"+eventID)
	if err != nil {
		if errors.Is(err, lock.ErrHeld) {
			return Outcome{}, apperr.Conflict("APPROVAL_IN_FLIGHT", "another decision on this event is in progress", map[string]string{"eventId": eventID})
		}
		return Outcome{}, apperr.Transient("acquire event lock", err)
	}
	defer unlock()

	event, err := o.store.GetEvent(ctx, politicianID, eventID)
	if err != nil {
		return Outcome{}, translate(err, "event not found", "load event")
	}
	approvals, err := o.store.ListEventApprovals(ctx, politicianID, eventID)
	if err != nil {
		return Outcome{}, translate(err, "event not found", "load approvals")
	}

	current, ok, err := Current(approvals)
	if err != nil {
		return Outcome{}, apperr.Conflict("APPROVAL_CHAIN_MALFORMED", err.Error(), map[string]string{"eventId": eventID})
	}
	if !ok || event.Status != store.EventPending {
		return Outcome{}, apperr.Conflict("EVENT_TERMINAL", "event has no pending approval", map[string]string{
			"eventId": eventID,
			"status":  string(event.Status),
		})
	}
	if actorRole != current.ApproverRole {
		return Outcome{}, apperr.Authorization("approver role does not match the current approval level", map[string]any{
			"requiredRole": current.ApproverRole,
			"actorRole":    actorRole,
			"level":        current.ApprovalLevel,
		})
	}

	actedAt := o.now().UTC()
	write := store.ApprovalDecision{
		EventID:         eventID,
		ApprovalID:      current.ID,
		ExpectedVersion: current.Version,
		ActedBy:         actor,
		ActedAt:         actedAt,
		Comment:         strings.TrimSpace(comment),
	}

	var next *store.EventApproval
	if decision == Reject {
		write.Status = store.ApprovalRejected
		write.EventStatus = store.EventRejected
		write.ApprovalStage = store.StageRejected
	} else {
		write.Status = store.ApprovalApproved
		for i := range approvals {
			if approvals[i].ApprovalLevel > current.ApprovalLevel && approvals[i].Status == store.ApprovalPending {
				next = &approvals[i]
				break
			}
		}
		if next == nil {
			write.EventStatus = store.EventApproved
			write.ApprovalStage = store.StageCompleted
		} else {
			write.EventStatus = store.EventPending
			write.ApprovalStage = next.ApproverRole
		}
	}

	if err := o.store.ApplyApprovalDecision(ctx, politicianID, write); err != nil {
		if errors.Is(err, store.ErrStaleWrite) {
			return Outcome{}, apperr.Conflict("APPROVAL_ALREADY_RESOLVED", "approval level was resolved by another request", map[string]any{
				"eventId": eventID,
				"level":   current.ApprovalLevel,
			})
		}
		return Outcome{}, translate(err, "event not found", "apply approval decision")
	}

	for i := range approvals {
		if approvals[i].ID == current.ID {
			approvals[i].Status = write.Status
			approvals[i].ActedBy = actor
			approvals[i].ActedAt = &actedAt
			approvals[i].Comment = write.Comment
			approvals[i].Version++
		}
	}
	event.Status = write.EventStatus
	event.ApprovalStage = write.ApprovalStage
	event.UpdatedAt = actedAt

	o.logger.InfoContext(ctx, "approval decision applied",
		"politician_id", politicianID,
		"event_id", eventID,
		"level", current.ApprovalLevel,
		"decision", string(decision),
		"status", string(event.Status),
		"stage", event.ApprovalStage,
	)

	if event.Status == store.EventApproved {
		if err := o.syncer.SyncApprovedEvent(ctx, event); err != nil {
			o.logger.WarnContext(ctx, "calendar sync failed", "event_id", eventID, "error", err)
		}
	}
	o.notifyTransition(ctx, event, current, decision, next)

	return Outcome{
		EventID:   eventID,
		Status:    event.Status,
		Stage:     event.ApprovalStage,
		Level:     current.ApprovalLevel,
		Event:     event,
		Approvals: approvals,
	}, nil
}

func (o *Orchestrator) notifyTransition(ctx context.Context, event store.Event, acted store.EventApproval, decision Decision, next *store.EventApproval) {
	verb := "approved"
	if decision == Reject {
		verb = "rejected"
	}
	creator := event.CreatedByID
	if creator == "" {
		creator = event.CreatedBy
	}

	messages := []store.Notification{{
		PoliticianID: event.PoliticianID,
		Recipient:    creator,
		EventID:      event.ID,
		Kind:         "event_" + verb,
		Message:      fmt.Sprintf("%q was %s by %s (level %d)", event.Title, verb, acted.ApproverRole, acted.ApprovalLevel),
	}}
	if next != nil {
		messages = append(messages, store.Notification{
			PoliticianID: event.PoliticianID,
			Recipient:    next.ApproverRole,
			EventID:      event.ID,
			Kind:         "approval_requested",
			Message:      fmt.Sprintf("%q awaits your approval (level %d)", event.Title, next.ApprovalLevel),
		})
	}

	for _, msg := range messages {
		if err := o.notifier.Notify(ctx, msg); err != nil {
			o.logger.WarnContext(ctx, "notification failed",
				"event_id", event.ID,
				"recipient", msg.Recipient,
				"error", err,
			)
		}
	}
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
