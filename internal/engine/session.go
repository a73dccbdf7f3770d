package engine

import (
	"context"
	"strings"
	"time"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/events"
	"walkingbus/internal/store"
)

// Start marks the session started and returns its first stop.
func (e *Engine) Start(ctx context.Context, sessionID, instructorID string) (info StationInfo, err error) {
	defer e.track("start")(&err)
	if err := requireIDs("sessionId", sessionID, "instructorId", instructorID); err != nil {
		return StationInfo{}, err
	}

	// The lookup runs outside the transaction so a slow provider never holds
	// the session lock. Guards are re-checked inside.
	pre, err := e.store.Session(ctx, sessionID)
	if err != nil {
		return StationInfo{}, translate(err, "session")
	}
	var weather *domain.Weather
	if !pre.Started() {
		weather = e.lookupWeather(ctx, pre.City)
	}

	var started domain.ActivitySession
	err = e.store.InSession(ctx, sessionID, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := authorizeInstructor(ctx, tx, sessionID, instructorID); err != nil {
			return err
		}
		if sess.Started() {
			return apperr.New(apperr.CodeAlreadyStarted, "session has already started")
		}
		now := e.now()
		if opens := sess.ScheduledAt.Add(-e.startWindow); now.Before(opens) {
			return apperr.Newf(apperr.CodeTooEarly, "session can start from %s", opens.UTC().Format(time.RFC3339))
		}
		p, err := loadProgress(ctx, tx, sess)
		if err != nil {
			return err
		}
		if err := tx.MarkStarted(ctx, sessionID, now, instructorID, weather); err != nil {
			return err
		}
		sess.StartedAt = &now
		sess.StartedBy = instructorID
		sess.Weather = weather
		started = sess

		info, err = e.stationInfo(ctx, tx, sess, p, p.stops[0])
		return err
	})
	if err != nil {
		return StationInfo{}, translate(err, "session")
	}

	e.log.Info("session started", "session", sessionID, "instructor", instructorID, "weather", weather != nil)
	e.emit(events.New(events.KindSessionStarted, sessionID, *started.StartedAt).AtStop(info.StationID, info.StopNumber))
	return info, nil
}

// Arrive opens the visit of the current stop.
func (e *Engine) Arrive(ctx context.Context, sessionID, instructorID string) (info StationInfo, err error) {
	defer e.track("arrive")(&err)
	if err := requireIDs("sessionId", sessionID, "instructorId", instructorID); err != nil {
		return StationInfo{}, err
	}

	var at time.Time
	err = e.store.InSession(ctx, sessionID, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := authorizeInstructor(ctx, tx, sessionID, instructorID); err != nil {
			return err
		}
		if err := requireRunning(sess); err != nil {
			return err
		}
		p, err := loadProgress(ctx, tx, sess)
		if err != nil {
			return err
		}
		if open, ok := p.openVisit(); ok {
			return apperr.Newf(apperr.CodeAlreadyOpen, "stop %d is still open", open.StopNumber)
		}
		cur, ok := p.current()
		if !ok {
			return apperr.New(apperr.CodeNoStationsLeft, "every stop has been visited")
		}

		at = e.now()
		v := domain.StationVisit{SessionID: sessionID, StationID: cur.StationID, StopNumber: cur.StopNumber, ArrivedAt: &at}
		if err := tx.UpsertVisit(ctx, v); err != nil {
			return err
		}
		p.visits[cur.StopNumber] = v

		info, err = e.stationInfo(ctx, tx, sess, p, cur)
		return err
	})
	if err != nil {
		return StationInfo{}, translate(err, "session")
	}

	e.log.Info("arrived at station", "session", sessionID, "stop", info.StopNumber, "last", info.IsLastStation)
	e.emit(events.New(events.KindArrivedAtStation, sessionID, at).AtStop(info.StationID, info.StopNumber))
	return info, nil
}

// Advance leaves the current stop and returns the next one, which becomes
// current by derivation.
func (e *Engine) Advance(ctx context.Context, sessionID, instructorID string) (info StationInfo, err error) {
	defer e.track("advance")(&err)
	if err := requireIDs("sessionId", sessionID, "instructorId", instructorID); err != nil {
		return StationInfo{}, err
	}

	var at time.Time
	err = e.store.InSession(ctx, sessionID, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := authorizeInstructor(ctx, tx, sessionID, instructorID); err != nil {
			return err
		}
		if err := requireRunning(sess); err != nil {
			return err
		}
		p, err := loadProgress(ctx, tx, sess)
		if err != nil {
			return err
		}
		cur, visit, arrived := p.arrivedAtCurrent()
		if !arrived {
			if _, ok := p.current(); !ok {
				return apperr.New(apperr.CodeNoNextStation, "every stop has been visited")
			}
			return apperr.Newf(apperr.CodeNotYetArrived, "not yet arrived at stop %d", cur.StopNumber)
		}
		next, ok := p.next(cur.StopNumber)
		if !ok {
			return apperr.New(apperr.CodeNoNextStation, "current stop is the last one, end the session instead")
		}
		l, err := loadLedger(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if pending := l.pendingDropoffs(p, cur); len(pending) > 0 {
			return apperr.Newf(apperr.CodeChildrenPending, "%d children still to drop off: %s", len(pending), strings.Join(personIDs(pending), ", "))
		}

		at = e.now()
		visit.LeftAt = &at
		if err := tx.UpsertVisit(ctx, visit); err != nil {
			return err
		}
		p.visits[cur.StopNumber] = visit

		info, err = e.stationInfo(ctx, tx, sess, p, next)
		return err
	})
	if err != nil {
		return StationInfo{}, translate(err, "session")
	}

	e.log.Info("advanced to station", "session", sessionID, "stop", info.StopNumber)
	e.emit(events.New(events.KindAdvancedToStation, sessionID, at).AtStop(info.StationID, info.StopNumber))
	return info, nil
}

// End closes the final visit and finishes the session. Stats and badges run
// afterwards on a detached goroutine.
func (e *Engine) End(ctx context.Context, sessionID, instructorID string) (err error) {
	defer e.track("end")(&err)
	if err := requireIDs("sessionId", sessionID, "instructorId", instructorID); err != nil {
		return err
	}

	var (
		ended domain.ActivitySession
		final domain.RouteStop
	)
	err = e.store.InSession(ctx, sessionID, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := authorizeInstructor(ctx, tx, sessionID, instructorID); err != nil {
			return err
		}
		if err := requireRunning(sess); err != nil {
			return err
		}
		p, err := loadProgress(ctx, tx, sess)
		if err != nil {
			return err
		}
		l, err := loadLedger(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		if missing := l.incomplete(); len(missing) > 0 {
			return apperr.Newf(apperr.CodeIncompleteCheckouts, "%d attendees checked in without check-out: %s", len(missing), strings.Join(missing, ", "))
		}
		final = p.last()
		if cur, ok := p.current(); ok && cur.StopNumber != final.StopNumber {
			return apperr.Newf(apperr.CodeStationsInProgress, "stop %d is not finished yet", cur.StopNumber)
		}

		now := e.now()
		v, ok := p.visit(final.StopNumber)
		if !ok || v.ArrivedAt == nil {
			v = domain.StationVisit{SessionID: sessionID, StationID: final.StationID, StopNumber: final.StopNumber, ArrivedAt: &now}
		}
		if v.LeftAt == nil {
			v.LeftAt = &now
			if err := tx.UpsertVisit(ctx, v); err != nil {
				return err
			}
		}
		if err := tx.MarkFinished(ctx, sessionID, now); err != nil {
			return err
		}
		sess.FinishedAt = &now
		ended = sess
		return nil
	})
	if err != nil {
		return translate(err, "session")
	}

	e.log.Info("session ended", "session", sessionID, "instructor", instructorID)
	e.emit(events.New(events.KindSessionEnded, sessionID, *ended.FinishedAt).AtStop(final.StationID, final.StopNumber))
	e.runEndHooks(ended)
	return nil
}
