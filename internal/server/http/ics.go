package httpserver

import (
	"net/http"
	"time"

	ics "github.com/arran4/golang-ical"

	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/schedule"
)

// byday maps time.Weekday numbering to RRULE day codes.
var byday = [7]string{"SU", "MO", "TU", "WE", "TH", "FR", "SA"}

// handleCalendar publishes the feed as an iCalendar document. Weekly
// events carry an RRULE so subscribers see every future instance, not
// just the next one.
func (s *Server) handleCalendar(w http.ResponseWriter, r *http.Request) {
	cal := buildCalendar(s.feed.Events(), s.loc, time.Now())

	w.Header().Set("Content-Type", "text/calendar; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="events.ics"`)
	_, _ = w.Write([]byte(cal.Serialize()))
}

func buildCalendar(events []model.Event, loc *time.Location, now time.Time) *ics.Calendar {
	cal := ics.NewCalendar()
	cal.SetMethod(ics.MethodPublish)
	cal.SetProductId("-//openchapel//events//EN")

	for i := range events {
		ev := &events[i]
		start, ok := ev.StartsAt(loc)
		if !ok {
			// Undated entries have no calendar position.
			continue
		}
		ve := cal.AddEvent(ev.ID)
		ve.SetDtStampTime(now)
		ve.SetStartAt(start)
		ve.SetEndAt(start.Add(schedule.Duration(ev)))
		ve.SetSummary(ev.Title)
		if ev.Description != "" {
			ve.SetDescription(ev.Description)
		}
		if ev.ImageURL != "" {
			ve.SetURL(ev.ImageURL)
		}
		if ev.Recurring() {
			dow := ev.Recurrence.DayOfWeek
			if dow >= 0 && dow <= 6 {
				ve.AddRrule("FREQ=WEEKLY;BYDAY=" + byday[dow])
			}
		}
	}
	return cal
}
