package domain

import (
	"sort"
	"time"
)

const (
	DateLayout = "2006-01-02"
	SlotLayout = "15:04"
)

// BusinessHours is the typed schedule configuration handed to the services
// at construction time. Weekdays use ISO numbering (1=Monday .. 7=Sunday).
type BusinessHours struct {
	Open         string
	Close        string
	SlotInterval time.Duration
	WorkingDays  []int
	Blackouts    map[string]bool
	AdvanceDays  int
	PastBuffer   time.Duration
}

func isoWeekday(t time.Time) int {
	wd := int(t.Weekday())
	if wd == 0 {
		return 7
	}
	return wd
}

func (h BusinessHours) IsWorkingDay(day time.Time) bool {
	wd := isoWeekday(day)
	for _, d := range h.WorkingDays {
		if d == wd {
			return true
		}
	}
	return false
}

func (h BusinessHours) IsBlackout(date string) bool {
	return h.Blackouts[date]
}

// DaySlots generates every bookable HH:MM slot between open and close.
func (h BusinessHours) DaySlots() []string {
	open, err := time.Parse(SlotLayout, h.Open)
	if err != nil {
		return nil
	}
	close, err := time.Parse(SlotLayout, h.Close)
	if err != nil || !close.After(open) {
		return nil
	}
	var slots []string
	for t := open; t.Before(close); t = t.Add(h.SlotInterval) {
		slots = append(slots, t.Format(SlotLayout))
	}
	return slots
}

func (h BusinessHours) withinHours(at time.Time) bool {
	slot := at.Format(SlotLayout)
	return slot >= h.Open && slot < h.Close
}

// CheckBookable validates a target datetime against the schedule rules and
// returns a stable reason code, or "" when the datetime is bookable.
// A small buffer tolerates clock skew between client and server.
func (h BusinessHours) CheckBookable(at, now time.Time) string {
	if at.Before(now.Add(-h.PastBuffer)) {
		return ReasonPastDate
	}
	if h.AdvanceDays > 0 && at.After(now.AddDate(0, 0, h.AdvanceDays)) {
		return ReasonTooFarAdvance
	}
	if !h.IsWorkingDay(at) || h.IsBlackout(at.Format(DateLayout)) {
		return ReasonNonWorkingDay
	}
	if !h.withinHours(at) {
		return ReasonOutsideHours
	}
	return ""
}

// OpenSlots returns the day's slots minus the booked ones, sorted.
func (h BusinessHours) OpenSlots(booked []string) []string {
	taken := make(map[string]bool, len(booked))
	for _, b := range booked {
		taken[b] = true
	}
	var open []string
	for _, s := range h.DaySlots() {
		if !taken[s] {
			open = append(open, s)
		}
	}
	sort.Strings(open)
	return open
}

// CombineDateSlot builds the scheduled datetime from a date and an HH:MM
// slot. All scheduling is done in UTC.
func CombineDateSlot(date, slot string) (time.Time, error) {
	return time.Parse(DateLayout+" "+SlotLayout, date+" "+slot)
}
