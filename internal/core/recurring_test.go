package core_test

import (
	"testing"
	"time"

	"invoicing-engine/internal/core"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestSubstituteTokens(t *testing.T) {
	march := date(2026, time.March, 15)
	tests := []struct {
		in   string
		want string
	}{
		{"Servicii [[luna]] [[an]]", "Servicii martie 2026"},
		{"Abonament [[luna_nr]]/[[an]]", "Abonament 03/2026"},
		{"no tokens here", "no tokens here"},
	}
	for _, tt := range tests {
		if got := core.SubstituteTokens(tt.in, march); got != tt.want {
			t.Errorf("SubstituteTokens(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}

	if got := core.SubstituteTokens("[[luna]]", date(2026, time.December, 1)); got != "decembrie" {
		t.Errorf("december token = %q, want decembrie", got)
	}
}

func TestAdvanceNextIssuance(t *testing.T) {
	tests := []struct {
		name      string
		frequency core.Frequency
		day       int
		current   time.Time
		want      time.Time
	}{
		{"monthly steps one month", core.FrequencyMonthly, 15, date(2026, time.January, 15), date(2026, time.February, 15)},
		{"monthly day 31 clamps to 28", core.FrequencyMonthly, 31, date(2026, time.January, 28), date(2026, time.February, 28)},
		{"weekly steps seven days", core.FrequencyWeekly, 0, date(2026, time.January, 1), date(2026, time.January, 8)},
		{"quarterly steps three months", core.FrequencyQuarterly, 1, date(2026, time.January, 1), date(2026, time.April, 1)},
		{"semi-annual steps six months", core.FrequencySemiannual, 10, date(2026, time.January, 10), date(2026, time.July, 10)},
		{"yearly steps twelve months", core.FrequencyYearly, 5, date(2026, time.March, 5), date(2027, time.March, 5)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sched := &core.RecurringSchedule{Frequency: tt.frequency, FrequencyDay: tt.day}
			got := core.AdvanceNextIssuance(sched, tt.current)
			if !got.Equal(tt.want) {
				t.Errorf("next = %s, want %s", got.Format("2006-01-02"), tt.want.Format("2006-01-02"))
			}
		})
	}
}

func TestAdvanceNextIssuance_OnceReturnsZero(t *testing.T) {
	sched := &core.RecurringSchedule{Frequency: core.FrequencyOnce}
	if next := core.AdvanceNextIssuance(sched, date(2026, time.May, 1)); !next.IsZero() {
		t.Errorf("once frequency should return the zero time, got %s", next)
	}
}

func TestComputeDueDate(t *testing.T) {
	days := 15
	sched := &core.RecurringSchedule{DueDateType: core.DueDateDays, DueDateDays: &days}
	due := core.ComputeDueDate(sched, date(2026, time.March, 10))
	if due == nil || !due.Equal(date(2026, time.March, 25)) {
		t.Errorf("days due date = %v, want 2026-03-25", due)
	}

	// Fixed day in the same month when strictly after the issue date.
	fixedDay := 20
	sched = &core.RecurringSchedule{DueDateType: core.DueDateFixed, DueDateFixedDay: &fixedDay}
	due = core.ComputeDueDate(sched, date(2026, time.March, 10))
	if due == nil || !due.Equal(date(2026, time.March, 20)) {
		t.Errorf("fixed due date = %v, want 2026-03-20", due)
	}

	// Pushed to next month when it would not fall after the issue date.
	due = core.ComputeDueDate(sched, date(2026, time.March, 20))
	if due == nil || !due.Equal(date(2026, time.April, 20)) {
		t.Errorf("fixed due date on same day = %v, want 2026-04-20", due)
	}

	// Day 30 clamps to 28, February stays valid.
	highDay := 30
	sched = &core.RecurringSchedule{DueDateType: core.DueDateFixed, DueDateFixedDay: &highDay}
	due = core.ComputeDueDate(sched, date(2026, time.February, 1))
	if due == nil || !due.Equal(date(2026, time.February, 28)) {
		t.Errorf("clamped due date = %v, want 2026-02-28", due)
	}
}

func TestScheduleDue(t *testing.T) {
	now := date(2026, time.June, 1)
	next := date(2026, time.May, 31)
	stop := date(2026, time.May, 15)

	sched := &core.RecurringSchedule{IsActive: true, NextIssuanceDate: &next}
	if due, expired := core.ScheduleDue(sched, now); !due || expired {
		t.Errorf("past next issuance should be due, got due=%v expired=%v", due, expired)
	}

	future := date(2026, time.June, 2)
	sched = &core.RecurringSchedule{IsActive: true, NextIssuanceDate: &future}
	if due, _ := core.ScheduleDue(sched, now); due {
		t.Error("future next issuance should not be due")
	}

	sched = &core.RecurringSchedule{IsActive: false, NextIssuanceDate: &next}
	if due, _ := core.ScheduleDue(sched, now); due {
		t.Error("inactive schedule should not be due")
	}

	sched = &core.RecurringSchedule{IsActive: true, NextIssuanceDate: &next, StopDate: &stop}
	if due, expired := core.ScheduleDue(sched, now); due || !expired {
		t.Errorf("passed stop date should report expired, got due=%v expired=%v", due, expired)
	}
}
