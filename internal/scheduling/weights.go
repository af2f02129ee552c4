package scheduling

import "time"

// HourWindow is an inclusive range of start hours with the bonus applied
// when a slot starts inside it.
type HourWindow struct {
	From  int
	To    int
	Bonus int
}

func (w HourWindow) contains(hour int) bool {
	return hour >= w.From && hour <= w.To
}

type DayRule struct {
	Days  []time.Weekday
	Bonus int
}

// Weights is the fixed scoring table. Every adjustment the engine applies is
// read from here so the table can be tuned and tested apart from the scan.
type Weights struct {
	Base     int
	MinScore int // candidates must score strictly above this
	Limit    int

	ConflictPenalty int

	TimeOfDay        map[string]HourWindow
	DefaultTimeOfDay HourWindow
	OffHoursPenalty  int

	DayOfWeek map[string]DayRule

	LargeAudienceMin      int
	LargeAudienceFromHour int
	LargeAudienceBonus    int
	SmallAudienceMax      int
	SmallAudienceHours    HourWindow

	LongTravelMinutes int
	LongTravelPenalty int

	Priority map[string]int

	ShortNoticeDays      int
	ShortNoticePenalty   int
	AdvanceNoticeFromDay int
	AdvanceNoticeToDay   int
	AdvanceNoticeBonus   int
}

var DefaultWeights = Weights{
	Base:     100,
	MinScore: 50,
	Limit:    10,

	ConflictPenalty: -50,

	TimeOfDay: map[string]HourWindow{
		EventPressConference: {From: 9, To: 11, Bonus: 20},
		EventTownHall:        {From: 18, To: 20, Bonus: 15},
	},
	DefaultTimeOfDay: HourWindow{From: 9, To: 17, Bonus: 5},
	OffHoursPenalty:  -10,

	DayOfWeek: map[string]DayRule{
		EventPressConference: {Days: []time.Weekday{time.Tuesday, time.Wednesday, time.Thursday}, Bonus: 10},
		EventCommunity:       {Days: []time.Weekday{time.Saturday, time.Sunday}, Bonus: 15},
	},

	LargeAudienceMin:      100,
	LargeAudienceFromHour: 18,
	LargeAudienceBonus:    10,
	SmallAudienceMax:      20,
	SmallAudienceHours:    HourWindow{From: 9, To: 11, Bonus: 5},

	LongTravelMinutes: 30,
	LongTravelPenalty: -5,

	Priority: map[string]int{
		PriorityUrgent: 0,
		PriorityHigh:   5,
		PriorityMedium: 10,
		PriorityLow:    15,
	},

	ShortNoticeDays:      2,
	ShortNoticePenalty:   -20,
	AdvanceNoticeFromDay: 7,
	AdvanceNoticeToDay:   14,
	AdvanceNoticeBonus:   10,
}
