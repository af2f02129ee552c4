// Package sla classifies task deadlines into urgency tiers.
package sla

import (
	"fmt"
	"strings"
	"time"
)

type Status string

const (
	WithinSLA      Status = "within_sla"
	ApproachingSLA Status = "approaching_sla"
	Overdue        Status = "overdue"
)

// Result leaves DaysRemaining and HoursRemaining nil when the task has no
// deadline. HoursRemaining is the whole hours left after DaysRemaining full days.
type Result struct {
	Status         Status `json:"status"`
	DaysRemaining  *int   `json:"daysRemaining,omitempty"`
	HoursRemaining *int   `json:"hoursRemaining,omitempty"`
}

const day = 24 * time.Hour

// Classify derives the SLA tier of a deadline at instant now.
func Classify(deadline *time.Time, now time.Time) Result {
	if deadline == nil {
		return Result{Status: WithinSLA}
	}

	remaining := deadline.Sub(now)
	if remaining <= 0 {
		return Result{Status: Overdue, DaysRemaining: intPtr(0), HoursRemaining: intPtr(0)}
	}

	days := int(remaining / day)
	hours := int((remaining % day) / time.Hour)

	status := WithinSLA
	if days <= 1 {
		status = ApproachingSLA
	}
	return Result{Status: status, DaysRemaining: intPtr(days), HoursRemaining: intPtr(hours)}
}

// ParseDeadline parses an RFC 3339 deadline. Blank input means no deadline.
func ParseDeadline(raw string) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parsed, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil, fmt.Errorf("parse deadline %q: %w", raw, err)
	}
	parsed = parsed.UTC()
	return &parsed, nil
}

func intPtr(v int) *int {
	return &v
}
