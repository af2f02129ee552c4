package scheduling

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grievance/api/internal/apperr"
)

// Monday morning.
var now = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func at(day, hour, minute int) time.Time {
	return time.Date(2025, 3, day, hour, minute, 0, 0, time.UTC)
}

func baseRequest() Request {
	return Request{
		EventType: EventMeeting,
		Duration:  time.Hour,
		DayStart:  Clock{Hour: 9},
		DayEnd:    Clock{Hour: 17},
		Priority:  PriorityMedium,
		Buffer:    30 * time.Minute,
		Now:       now,
	}
}

func TestScenarioConflictsWithBufferedEvents(t *testing.T) {
	req := baseRequest()
	req.Existing = []Busy{
		{Title: "Budget review", Start: at(18, 14, 0), End: at(18, 15, 0)},
		{Title: "Press call", Start: at(18, 16, 0), End: at(18, 16, 30)},
	}

	conflicted := score(DefaultWeights, req, now, at(18, 14, 45))
	require.Len(t, conflicted.Conflicts, 1)
	assert.Contains(t, conflicted.Conflicts[0], "Budget review")

	clear := score(DefaultWeights, req, now, at(18, 11, 0))
	assert.Empty(t, clear.Conflicts)
	assert.Equal(t, conflicted.Score-DefaultWeights.ConflictPenalty, 125, "conflict costs exactly the penalty before clamping")
	assert.Equal(t, 100, clear.Score)
	assert.Equal(t, 75, conflicted.Score)
}

func TestFirstConflictOnlyRecordedOnce(t *testing.T) {
	req := baseRequest()
	req.Existing = []Busy{
		{Title: "A", Start: at(18, 14, 0), End: at(18, 15, 0)},
		{Title: "B", Start: at(18, 15, 0), End: at(18, 16, 0)},
	}
	c := score(DefaultWeights, req, now, at(18, 14, 30))
	require.Len(t, c.Conflicts, 1)
	assert.Equal(t, 75, c.Score)

	assert.Len(t, DetectConflicts(at(18, 14, 30), at(18, 15, 30), req.Buffer, req.Existing), 2)
}

func TestBufferBoundaryIsNotAConflict(t *testing.T) {
	existing := []Busy{
		{Title: "Budget review", Start: at(18, 14, 0), End: at(18, 15, 0)},
		{Title: "Press call", Start: at(18, 16, 0), End: at(18, 16, 30)},
	}
	buffer := 30 * time.Minute

	assert.Empty(t, DetectConflicts(at(18, 12, 30), at(18, 13, 30), buffer, existing))
	assert.Empty(t, DetectConflicts(at(18, 17, 0), at(18, 18, 0), buffer, existing))

	between := DetectConflicts(at(18, 15, 30), at(18, 16, 30), buffer, existing)
	require.Len(t, between, 1)
	assert.Contains(t, between[0], "Press call")
}

func TestScoreAppliesEachAdjustment(t *testing.T) {
	w := DefaultWeights
	w.Base = 50

	cases := []struct {
		name    string
		req     func(r *Request)
		start   time.Time
		want    int
		reasons []string
	}{
		{
			name: "press conference tuesday morning",
			req: func(r *Request) {
				r.EventType = EventPressConference
				r.ExpectedAttendees = 10
				r.Location = "Downtown plaza"
				r.Priority = PriorityHigh
			},
			start:   at(18, 10, 0),
			want:    100,
			reasons: []string{"optimal time of day for press conference", "good day of week (Tuesday)", "morning slot suits a small group", "high priority flexibility", "good advance notice"},
		},
		{
			name: "large town hall at city hall",
			req: func(r *Request) {
				r.EventType = EventTownHall
				r.ExpectedAttendees = 150
				r.Location = "City Hall"
				r.Priority = PriorityLow
			},
			start:   at(20, 19, 0),
			want:    95,
			reasons: []string{"evening slot suits a large audience", "long travel time (~41 min)"},
		},
		{
			name: "early community event on saturday",
			req: func(r *Request) {
				r.EventType = EventCommunity
				r.Location = "virtual"
			},
			start:   at(15, 8, 0),
			want:    65,
			reasons: []string{"outside the preferred hours", "good day of week (Saturday)"},
		},
		{
			name: "same day meeting",
			req: func(r *Request) {
				r.Location = "Community Center"
			},
			start:   at(10, 14, 0),
			want:    45,
			reasons: []string{"short notice"},
		},
		{
			name: "same day urgent meeting skips short notice",
			req: func(r *Request) {
				r.Priority = PriorityUrgent
			},
			start: at(10, 14, 0),
			want:  55,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := baseRequest()
			tc.req(&req)
			got := score(w, req, now, tc.start)
			assert.Equal(t, tc.want, got.Score)
			for _, reason := range tc.reasons {
				assert.Contains(t, got.Reasons, reason)
			}
		})
	}
}

func TestScoreIsClamped(t *testing.T) {
	w := DefaultWeights
	w.Base = -500
	assert.Equal(t, 0, score(w, baseRequest(), now, at(18, 11, 0)).Score)
	w.Base = 500
	assert.Equal(t, 100, score(w, baseRequest(), now, at(18, 11, 0)).Score)
}

func TestSuggestExcludesScoreOfExactlyFifty(t *testing.T) {
	req := baseRequest()
	req.DayStart = Clock{Hour: 10}
	req.DayEnd = Clock{Hour: 11}
	req.Buffer = 0
	req.Priority = PriorityUrgent
	req.Location = "City Hall"
	req.ExpectedAttendees = 200
	req.Existing = []Busy{{Title: "Recess", Start: now, End: now.AddDate(0, 0, 30)}}

	require.Equal(t, 50, score(DefaultWeights, req, now, at(12, 10, 0)).Score)

	got, err := Suggest(req)
	require.NoError(t, err)
	require.Len(t, got, 7)
	for _, c := range got {
		assert.Equal(t, 60, c.Score)
		assert.Contains(t, c.Reasons, "good advance notice")
		assert.Len(t, c.Conflicts, 1)
	}
	assert.Equal(t, "2025-03-17", got[0].Date)
	assert.Equal(t, "10:00", got[0].Time)
}

func TestSuggestRanksAndLimits(t *testing.T) {
	req := baseRequest()
	req.Existing = []Busy{{Title: "Budget review", Start: at(18, 14, 0), End: at(18, 15, 0)}}

	got, err := Suggest(req)
	require.NoError(t, err)
	require.Len(t, got, DefaultWeights.Limit)
	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		require.GreaterOrEqual(t, prev.Score, cur.Score)
		if prev.Score == cur.Score {
			require.True(t, prev.Start.Before(cur.Start))
		}
	}
	for _, c := range got {
		assert.Greater(t, c.Score, 50)
		assert.LessOrEqual(t, c.Score, 100)
		assert.False(t, c.End.Add(req.Buffer).After(time.Date(c.Start.Year(), c.Start.Month(), c.Start.Day(), 17, 0, 0, 0, time.UTC)))
	}
}

func TestSuggestIsIdempotent(t *testing.T) {
	req := baseRequest()
	req.EventType = EventTownHall
	req.DayEnd = Clock{Hour: 21}
	req.ExpectedAttendees = 120
	req.Existing = []Busy{{Title: "Gala", Start: at(19, 18, 0), End: at(19, 21, 0)}}

	first, err := Suggest(req)
	require.NoError(t, err)
	second, err := Suggest(req)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestSuggestSkipsWeekendsAndPastSlots(t *testing.T) {
	req := baseRequest()
	req.ExcludeWeekends = true
	req.Now = at(10, 12, 0)
	w := DefaultWeights
	w.Limit = 1000

	got, err := SuggestWith(w, req)
	require.NoError(t, err)
	require.NotEmpty(t, got)
	for _, c := range got {
		assert.NotEqual(t, time.Saturday, c.Start.Weekday())
		assert.NotEqual(t, time.Sunday, c.Start.Weekday())
		assert.False(t, c.Start.Before(req.Now))
	}
}

func TestSuggestReturnsEmptyWhenNothingFits(t *testing.T) {
	req := baseRequest()
	req.DayStart = Clock{Hour: 9}
	req.DayEnd = Clock{Hour: 10}
	req.Duration = 2 * time.Hour

	got, err := Suggest(req)
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestSuggestValidatesRequest(t *testing.T) {
	req := baseRequest()
	req.Duration = 0
	_, err := Suggest(req)
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)

	req = baseRequest()
	req.Priority = "whenever"
	_, err = Suggest(req)
	require.True(t, apperr.Is(err, apperr.KindValidation), "got %v", err)
}

func TestTravelMinutes(t *testing.T) {
	cases := []struct {
		location  string
		attendees int
		want      int
	}{
		{"City Hall", 0, 30},
		{"downtown library", 100, 37},
		{"Downtown", 500, 45},
		{"Convention Center", 50, 20},
		{"Main venue", 0, 20},
		{"Virtual (Zoom)", 300, 0},
		{"remote", 0, 0},
		{"Riverside park", 40, 15},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, TravelMinutes(tc.location, tc.attendees), tc.location)
	}
}

func TestParseClock(t *testing.T) {
	c, err := ParseClock("09:30")
	require.NoError(t, err)
	assert.Equal(t, Clock{Hour: 9, Minute: 30}, c)
	assert.Equal(t, "09:30", c.String())

	for _, bad := range []string{"9", "25:00", "10:75", "aa:bb", "24:30"} {
		_, err := ParseClock(bad)
		assert.Error(t, err, bad)
	}
}
