// Package service contains the application services: the recurring-event
// reconciler, the live event feed, per-user saved events, and auth.
package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/openchapel/events/internal/metrics"
	"github.com/openchapel/events/internal/model"
	"github.com/openchapel/events/internal/repository"
	"github.com/openchapel/events/internal/schedule"
)

// The two permanent slots the site guarantees. Dates are filled in at
// backfill time; everything else is fixed.
var permanentTemplates = []model.Event{
	{
		Title:       "Sunday Service",
		Description: "Sunday Service - a time worshiping in the Lord's presence.",
		ImageURL:    "https://images.unsplash.com/photo-1438232992991-995b7058bbb3",
		Time:        "10:00",
		Type:        model.EventRegular,
		IsPermanent: true,
		Recurrence:  &model.Recurrence{DayOfWeek: 0, Frequency: model.FrequencyWeekly},
	},
	{
		Title:       "Bible Study",
		Description: "Weekly Bible study and fellowship.",
		ImageURL:    "https://images.unsplash.com/photo-1504052434569-70ad5836ab65",
		Time:        "19:00",
		Type:        model.EventRegular,
		IsPermanent: true,
		Recurrence:  &model.Recurrence{DayOfWeek: 3, Frequency: model.FrequencyWeekly},
	},
}

// Correction kinds, used for logging and metrics labels.
const (
	correctionBackfill = "backfill"
	correctionWeekday  = "weekday"
	correctionLapse    = "lapse"
)

// Reconciler keeps the permanent events existing and correctly dated.
// It never owns data: each pass reads a snapshot, computes corrections,
// and writes them back through the repository in one batch.
type Reconciler struct {
	repo *repository.EventRepo
	log  *zap.Logger
	now  func() time.Time
}

// NewReconciler constructs a reconciler over the event repository.
func NewReconciler(repo *repository.EventRepo, log *zap.Logger) *Reconciler {
	return &Reconciler{repo: repo, log: log, now: time.Now}
}

// SetClock overrides the reconciler's time source. Schedule math runs in
// the returned time's location, so this is also how the site timezone is
// injected.
func (rc *Reconciler) SetClock(now func() time.Time) { rc.now = now }

// Pass runs one reconciliation over the snapshot: inventory, backfill,
// weekday repair, lapse advance. All corrections are collected first and
// written in a single batch, so a pass never re-triggers itself mid-way
// and running it twice over the same data writes nothing the second time.
//
// The returned slice is the snapshot with corrections already applied, so
// the caller can publish a consistent view without waiting for the next
// remote snapshot. The write count is the number of corrected records.
func (rc *Reconciler) Pass(ctx context.Context, events []model.Event) ([]model.Event, int) {
	metrics.ReconcilePass()
	now := rc.now()

	corrected := make([]model.Event, len(events))
	copy(corrected, events)

	// Inventory: first record per permanent slot wins.
	slots := make(map[int]int, len(permanentTemplates)) // dayOfWeek -> index into corrected
	for i := range corrected {
		ev := &corrected[i]
		if !ev.Recurring() {
			continue
		}
		if _, taken := slots[ev.Recurrence.DayOfWeek]; !taken {
			slots[ev.Recurrence.DayOfWeek] = i
		}
	}

	updates := make(map[string]model.Event)

	// Backfill: recreate any missing permanent slot.
	for _, tmpl := range permanentTemplates {
		if _, found := slots[tmpl.Recurrence.DayOfWeek]; found {
			continue
		}
		id, err := rc.repo.AllocateID(ctx)
		if err != nil {
			rc.log.Error("reconcile: allocate id for backfill", zap.String("title", tmpl.Title), zap.Error(err))
			continue
		}
		ev := tmpl
		ev.ID = id
		ev.Recurrence = &model.Recurrence{DayOfWeek: tmpl.Recurrence.DayOfWeek, Frequency: model.FrequencyWeekly}
		ev.Date = schedule.NextLiveDate(ev.Recurrence.DayOfWeek, ev.Time, now)
		updates[id] = ev
		corrected = append(corrected, ev)
		metrics.ReconcileCorrection(correctionBackfill)
		rc.log.Info("reconcile: backfilled permanent event",
			zap.String("id", id), zap.String("title", ev.Title), zap.String("date", ev.Date))
	}

	// Repair and advance the slots that do exist.
	for _, i := range slots {
		ev := &corrected[i]
		dow := ev.Recurrence.DayOfWeek

		switch {
		case !schedule.OnCorrectWeekday(ev):
			next := schedule.NextLiveDate(dow, ev.Time, now)
			rc.log.Info("reconcile: repaired weekday drift",
				zap.String("id", ev.ID), zap.String("from", ev.Date), zap.String("to", next))
			ev.Date = next
			updates[ev.ID] = *ev
			metrics.ReconcileCorrection(correctionWeekday)

		case schedule.HasLapsed(ev, now):
			next := schedule.NextLiveDate(dow, ev.Time, now)
			rc.log.Info("reconcile: advanced lapsed event",
				zap.String("id", ev.ID), zap.String("from", ev.Date), zap.String("to", next))
			ev.Date = next
			updates[ev.ID] = *ev
			metrics.ReconcileCorrection(correctionLapse)
		}
	}

	if len(updates) == 0 {
		return corrected, 0
	}

	// Write failures are logged, not raised: the published snapshot may
	// stay inconsistent until the next pass self-heals it.
	if err := rc.repo.SetMulti(ctx, updates); err != nil {
		rc.log.Error("reconcile: batched correction write failed",
			zap.Int("corrections", len(updates)), zap.Error(err))
	}
	return corrected, len(updates)
}
