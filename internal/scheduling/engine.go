// Package scheduling ranks candidate time slots for a new event against the
// tenant's committed calendar. Everything here is pure: no I/O, no clock
// reads, no shared state.
package scheduling

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"grievance/api/internal/apperr"
)

const (
	EventPressConference = "press_conference"
	EventTownHall        = "town_hall"
	EventCommunity       = "community_event"
	EventMeeting         = "meeting"
	EventRally           = "rally"
	EventFundraiser      = "fundraiser"
	EventInterview       = "interview"
	EventOther           = "other"
)

const (
	PriorityUrgent = "urgent"
	PriorityHigh   = "high"
	PriorityMedium = "medium"
	PriorityLow    = "low"
)

const (
	HorizonDays = 14
	SlotStep    = 30 * time.Minute
)

func ValidEventType(t string) bool {
	switch t {
	case EventPressConference, EventTownHall, EventCommunity, EventMeeting,
		EventRally, EventFundraiser, EventInterview, EventOther:
		return true
	default:
		return false
	}
}

func ValidPriority(p string) bool {
	_, ok := DefaultWeights.Priority[p]
	return ok
}

// Clock is a wall-clock time of day.
type Clock struct {
	Hour   int
	Minute int
}

func ParseClock(raw string) (Clock, error) {
	hh, mm, ok := strings.Cut(strings.TrimSpace(raw), ":")
	if !ok {
		return Clock{}, fmt.Errorf("parse clock %q: want HH:MM", raw)
	}
	hour, err := strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 24 {
		return Clock{}, fmt.Errorf("parse clock %q: bad hour", raw)
	}
	minute, err := strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 || (hour == 24 && minute != 0) {
		return Clock{}, fmt.Errorf("parse clock %q: bad minute", raw)
	}
	return Clock{Hour: hour, Minute: minute}, nil
}

func (c Clock) String() string {
	return fmt.Sprintf("%02d:%02d", c.Hour, c.Minute)
}

func (c Clock) on(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), c.Hour, c.Minute, 0, 0, day.Location())
}

func (c Clock) minutes() int {
	return c.Hour*60 + c.Minute
}

// Busy is an already committed calendar interval.
type Busy struct {
	Title string
	Start time.Time
	End   time.Time
}

type Request struct {
	EventType         string
	Duration          time.Duration
	DayStart          Clock
	DayEnd            Clock
	ExcludeWeekends   bool
	Location          string
	ExpectedAttendees int
	Priority          string
	Buffer            time.Duration
	Existing          []Busy
	Now               time.Time
	TZ                *time.Location
}

type Candidate struct {
	Date      string    `json:"date"`
	Time      string    `json:"time"`
	Start     time.Time `json:"start"`
	End       time.Time `json:"end"`
	Score     int       `json:"score"`
	Reasons   []string  `json:"reasons"`
	Conflicts []string  `json:"conflicts"`
}

func (r Request) validate() error {
	details := map[string]string{}
	if r.Duration <= 0 {
		details["duration"] = "must be positive"
	}
	if r.Buffer < 0 {
		details["buffer"] = "must not be negative"
	}
	if r.DayEnd.minutes() <= r.DayStart.minutes() {
		details["window"] = "end must be after start"
	}
	if r.Priority != "" && !ValidPriority(r.Priority) {
		details["priority"] = "unknown priority"
	}
	if r.Now.IsZero() {
		details["now"] = "reference time is required"
	}
	if len(details) > 0 {
		return apperr.Validation("invalid slot request", details)
	}
	return nil
}

// Suggest scores every slot in the horizon with DefaultWeights.
func Suggest(req Request) ([]Candidate, error) {
	return SuggestWith(DefaultWeights, req)
}

// SuggestWith enumerates slots every SlotStep across HorizonDays starting
// today, scores each, drops those at or below MinScore and returns the best
// Limit by score, earlier start first on ties. No acceptable slot yields an
// empty slice, not an error.
func SuggestWith(w Weights, req Request) ([]Candidate, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	loc := req.TZ
	if loc == nil {
		loc = time.UTC
	}
	now := req.Now.In(loc)
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, loc)

	candidates := make([]Candidate, 0)
	for d := 0; d < HorizonDays; d++ {
		day := today.AddDate(0, 0, d)
		if req.ExcludeWeekends && isWeekend(day.Weekday()) {
			continue
		}
		windowEnd := req.DayEnd.on(day)
		for start := req.DayStart.on(day); !start.Add(req.Duration + req.Buffer).After(windowEnd); start = start.Add(SlotStep) {
			if start.Before(now) {
				continue
			}
			c := score(w, req, now, start)
			if c.Score > w.MinScore {
				candidates = append(candidates, c)
			}
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].Start.Before(candidates[j].Start)
	})
	if len(candidates) > w.Limit {
		candidates = candidates[:w.Limit]
	}
	return candidates, nil
}

func score(w Weights, req Request, now, start time.Time) Candidate {
	end := start.Add(req.Duration)
	c := Candidate{
		Date:      start.Format("2006-01-02"),
		Time:      start.Format("15:04"),
		Start:     start,
		End:       end,
		Reasons:   make([]string, 0, 6),
		Conflicts: make([]string, 0, 1),
	}
	total := w.Base
	hour := start.Hour()

	if conflict, ok := firstConflict(start, end, req.Buffer, req.Existing); ok {
		total += w.ConflictPenalty
		c.Conflicts = append(c.Conflicts, conflict)
	}

	window, ok := w.TimeOfDay[req.EventType]
	if !ok {
		window = w.DefaultTimeOfDay
	}
	if window.contains(hour) {
		total += window.Bonus
		c.Reasons = append(c.Reasons, fmt.Sprintf("optimal time of day for %s", label(req.EventType)))
	} else {
		total += w.OffHoursPenalty
		c.Reasons = append(c.Reasons, "outside the preferred hours")
	}

	if rule, ok := w.DayOfWeek[req.EventType]; ok && hasDay(rule.Days, start.Weekday()) {
		total += rule.Bonus
		c.Reasons = append(c.Reasons, fmt.Sprintf("good day of week (%s)", start.Weekday()))
	}

	// Zero or negative attendee counts mean "not specified".
	if req.ExpectedAttendees > 0 {
		if req.ExpectedAttendees > w.LargeAudienceMin && hour >= w.LargeAudienceFromHour {
			total += w.LargeAudienceBonus
			c.Reasons = append(c.Reasons, "evening slot suits a large audience")
		}
		if req.ExpectedAttendees < w.SmallAudienceMax && w.SmallAudienceHours.contains(hour) {
			total += w.SmallAudienceHours.Bonus
			c.Reasons = append(c.Reasons, "morning slot suits a small group")
		}
	}

	if travel := TravelMinutes(req.Location, req.ExpectedAttendees); travel > w.LongTravelMinutes {
		total += w.LongTravelPenalty
		c.Reasons = append(c.Reasons, fmt.Sprintf("long travel time (~%d min)", travel))
	}

	if bonus := w.Priority[req.Priority]; bonus > 0 {
		total += bonus
		c.Reasons = append(c.Reasons, fmt.Sprintf("%s priority flexibility", req.Priority))
	}

	daysOut := int(start.Sub(now) / (24 * time.Hour))
	switch {
	case daysOut < w.ShortNoticeDays && req.Priority != PriorityUrgent:
		total += w.ShortNoticePenalty
		c.Reasons = append(c.Reasons, "short notice")
	case daysOut >= w.AdvanceNoticeFromDay && daysOut <= w.AdvanceNoticeToDay:
		total += w.AdvanceNoticeBonus
		c.Reasons = append(c.Reasons, "good advance notice")
	}

	c.Score = clamp(total, 0, 100)
	return c
}

// DetectConflicts lists every committed interval that overlaps [start, end)
// once both sides are padded by buffer. Touching intervals do not conflict.
func DetectConflicts(start, end time.Time, buffer time.Duration, existing []Busy) []string {
	out := make([]string, 0)
	for _, b := range existing {
		if overlaps(start, end, buffer, b) {
			out = append(out, describe(b))
		}
	}
	return out
}

func firstConflict(start, end time.Time, buffer time.Duration, existing []Busy) (string, bool) {
	for _, b := range existing {
		if overlaps(start, end, buffer, b) {
			return describe(b), true
		}
	}
	return "", false
}

func overlaps(start, end time.Time, buffer time.Duration, b Busy) bool {
	paddedStart := b.Start.Add(-buffer)
	paddedEnd := b.End.Add(buffer)
	return start.Before(paddedEnd) && end.After(paddedStart)
}

func describe(b Busy) string {
	title := b.Title
	if title == "" {
		title = "existing event"
	}
	return fmt.Sprintf("conflicts with %q (%s-%s)", title, b.Start.Format("15:04"), b.End.Format("15:04"))
}

func label(eventType string) string {
	if eventType == "" {
		return "this event"
	}
	return strings.ReplaceAll(eventType, "_", " ")
}

func hasDay(days []time.Weekday, d time.Weekday) bool {
	for _, day := range days {
		if day == d {
			return true
		}
	}
	return false
}

func isWeekend(d time.Weekday) bool {
	return d == time.Saturday || d == time.Sunday
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
