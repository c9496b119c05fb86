package schedule

import (
	"testing"
	"time"

	"github.com/openchapel/events/internal/model"
)

func date(s string) time.Time {
	t, err := time.Parse(model.DateLayout, s)
	if err != nil {
		panic(err)
	}
	return t
}

func TestNextOccurrence_AllWeekdays(t *testing.T) {
	t.Parallel()

	// 2024-03-04 is a Monday; sweep a full week of starting days.
	for offset := 0; offset < 7; offset++ {
		from := date("2024-03-04").AddDate(0, 0, offset)
		for dow := 0; dow <= 6; dow++ {
			got := NextOccurrence(dow, from)

			if got.Before(civil(from)) {
				t.Fatalf("NextOccurrence(%d, %s) = %s is in the past", dow, from, got)
			}
			if int(got.Weekday()) != dow {
				t.Fatalf("NextOccurrence(%d, %s) = %s has weekday %d", dow, from, got, got.Weekday())
			}
			// Smallest such date: anything a week earlier would be before from.
			if prev := got.AddDate(0, 0, -7); !prev.Before(civil(from)) {
				t.Fatalf("NextOccurrence(%d, %s) = %s is not minimal", dow, from, got)
			}
		}
	}
}

func TestNextOccurrence_SameDayInclusive(t *testing.T) {
	t.Parallel()

	sunday := date("2024-03-10") // a Sunday
	if got := NextOccurrence(0, sunday); !got.Equal(sunday) {
		t.Fatalf("same-day occurrence: got %s, want %s", got, sunday)
	}
	if got := NextOccurrenceAfter(0, sunday); !got.Equal(sunday.AddDate(0, 0, 7)) {
		t.Fatalf("strict occurrence: got %s, want next Sunday", got)
	}
}

func TestNextOccurrence_IgnoresTimeOfDay(t *testing.T) {
	t.Parallel()

	lateSunday := time.Date(2024, 3, 10, 23, 59, 0, 0, time.UTC)
	if got := NextOccurrence(0, lateSunday); !got.Equal(date("2024-03-10")) {
		t.Fatalf("late same-day: got %s, want 2024-03-10", got)
	}
}

func TestHasLapsed(t *testing.T) {
	t.Parallel()

	sundayService := func(d string) *model.Event {
		return &model.Event{
			Title:       "Sunday Service",
			Date:        d,
			Time:        "09:00",
			IsPermanent: true,
			Recurrence:  &model.Recurrence{DayOfWeek: 0, Frequency: model.FrequencyWeekly},
		}
	}

	tests := []struct {
		name string
		ev   *model.Event
		now  time.Time
		want bool
	}{
		{
			name: "four hours after a 09:00 sunday start",
			ev:   sundayService("2024-03-10"),
			now:  time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
			want: true, // 3h duration ends 12:00
		},
		{
			name: "still running at the two hour mark",
			ev:   sundayService("2024-03-10"),
			now:  time.Date(2024, 3, 10, 11, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "bible study lapses after two hours",
			ev: &model.Event{
				Date: "2024-03-06", Time: "19:00", IsPermanent: true,
				Recurrence: &model.Recurrence{DayOfWeek: 3, Frequency: model.FrequencyWeekly},
			},
			now:  time.Date(2024, 3, 6, 21, 0, 1, 0, time.UTC),
			want: true,
		},
		{
			name: "missing date never lapses",
			ev:   sundayService(""),
			now:  time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
			want: false,
		},
		{
			name: "malformed date never lapses",
			ev:   sundayService("sometime"),
			now:  time.Date(2024, 3, 10, 13, 0, 0, 0, time.UTC),
			want: false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HasLapsed(tt.ev, tt.now); got != tt.want {
				t.Fatalf("HasLapsed = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestOnCorrectWeekday(t *testing.T) {
	t.Parallel()

	wed := &model.Event{
		Date: "2024-03-06", IsPermanent: true,
		Recurrence: &model.Recurrence{DayOfWeek: 3, Frequency: model.FrequencyWeekly},
	}
	if !OnCorrectWeekday(wed) {
		t.Fatal("2024-03-06 is a Wednesday")
	}

	drifted := &model.Event{
		Date: "2024-03-04", IsPermanent: true, // a Monday
		Recurrence: &model.Recurrence{DayOfWeek: 3, Frequency: model.FrequencyWeekly},
	}
	if OnCorrectWeekday(drifted) {
		t.Fatal("Monday date should fail a Wednesday recurrence")
	}

	// Non-recurring events are never weekday-checked.
	plain := &model.Event{Date: "2024-03-04"}
	if !OnCorrectWeekday(plain) {
		t.Fatal("non-recurring event must pass")
	}
}

func TestNextLiveDate(t *testing.T) {
	t.Parallel()

	// Sunday morning before service: today still counts.
	now := time.Date(2024, 3, 10, 8, 0, 0, 0, time.UTC)
	if got := NextLiveDate(0, "10:00", now); got != "2024-03-10" {
		t.Fatalf("before start: got %s, want 2024-03-10", got)
	}

	// Sunday afternoon after the service ended: roll a week forward.
	now = time.Date(2024, 3, 10, 14, 0, 0, 0, time.UTC)
	if got := NextLiveDate(0, "10:00", now); got != "2024-03-17" {
		t.Fatalf("after end: got %s, want 2024-03-17", got)
	}

	// Mid-service: the running instance is still live.
	now = time.Date(2024, 3, 10, 11, 30, 0, 0, time.UTC)
	if got := NextLiveDate(0, "10:00", now); got != "2024-03-10" {
		t.Fatalf("mid-instance: got %s, want 2024-03-10", got)
	}
}
