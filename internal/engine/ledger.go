package engine

import (
	"context"
	"sort"

	"github.com/google/uuid"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/events"
	"walkingbus/internal/store"
)

// ledger indexes the registrations and attendance rows of one session.
type ledger struct {
	regs map[string]domain.Registration
	in   map[string]domain.Attendance
	out  map[string]domain.Attendance
}

func loadLedger(ctx context.Context, r store.Reader, sessionID string) (ledger, error) {
	regs, err := r.Registrations(ctx, sessionID)
	if err != nil {
		return ledger{}, err
	}
	rows, err := r.Attendance(ctx, sessionID)
	if err != nil {
		return ledger{}, err
	}
	l := ledger{
		regs: make(map[string]domain.Registration, len(regs)),
		in:   make(map[string]domain.Attendance),
		out:  make(map[string]domain.Attendance),
	}
	for _, reg := range regs {
		l.regs[reg.PersonID] = reg
	}
	for _, a := range rows {
		if a.Direction == domain.DirectionIn {
			l.in[a.PersonID] = a
		} else {
			l.out[a.PersonID] = a
		}
	}
	return l, nil
}

// pendingDropoffs lists children on board whose drop-off stop is at or
// before cur. A drop-off that cannot be resolved after the pick-up counts as
// the last stop.
func (l ledger) pendingDropoffs(p progress, cur domain.RouteStop) []domain.Registration {
	var out []domain.Registration
	for id := range l.in {
		reg, ok := l.regs[id]
		if !ok || reg.Role != domain.RoleChild {
			continue
		}
		if _, done := l.out[id]; done {
			continue
		}
		stop := p.last().StopNumber
		if _, drop, ok := domain.TripStops(p.stops, reg.PickupStationID, reg.DropoffStationID); ok {
			stop = drop.StopNumber
		}
		if stop <= cur.StopNumber {
			out = append(out, reg)
		}
	}
	sortRegs(out)
	return out
}

// pendingPickups lists children due at cur who are not yet checked in.
func (l ledger) pendingPickups(cur domain.RouteStop) []domain.Registration {
	var out []domain.Registration
	for id, reg := range l.regs {
		if reg.Role != domain.RoleChild || reg.PickupStationID != cur.StationID {
			continue
		}
		if _, done := l.in[id]; done {
			continue
		}
		out = append(out, reg)
	}
	sortRegs(out)
	return out
}

// incomplete returns the persons checked in but never checked out.
func (l ledger) incomplete() []string {
	var ids []string
	for id := range l.in {
		if _, ok := l.out[id]; !ok {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

func sortRegs(regs []domain.Registration) {
	sort.Slice(regs, func(i, j int) bool { return regs[i].PersonID < regs[j].PersonID })
}

func personIDs(regs []domain.Registration) []string {
	ids := make([]string, len(regs))
	for i, r := range regs {
		ids[i] = r.PersonID
	}
	return ids
}

// authorizeLedgerActor accepts the person themselves or an assigned
// instructor.
func authorizeLedgerActor(ctx context.Context, r store.Reader, sessionID, actorID, personID string) error {
	if actorID == personID {
		return nil
	}
	ok, err := r.IsInstructorAssigned(ctx, sessionID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.CodeUnauthorized, "%s may not record presence for %s", actorID, personID)
	}
	return nil
}

// CheckIn records that personID boarded at the current stop.
func (e *Engine) CheckIn(ctx context.Context, actorID, personID, sessionID string) (a domain.Attendance, err error) {
	defer e.track("check_in")(&err)
	return e.record(ctx, actorID, personID, sessionID, domain.DirectionIn)
}

// CheckOut records that personID left the group at the current stop.
func (e *Engine) CheckOut(ctx context.Context, actorID, personID, sessionID string) (a domain.Attendance, err error) {
	defer e.track("check_out")(&err)
	return e.record(ctx, actorID, personID, sessionID, domain.DirectionOut)
}

func (e *Engine) record(ctx context.Context, actorID, personID, sessionID string, dir domain.Direction) (domain.Attendance, error) {
	if err := requireIDs("actorId", actorID, "personId", personID, "sessionId", sessionID); err != nil {
		return domain.Attendance{}, err
	}

	var row domain.Attendance
	err := e.store.InSession(ctx, sessionID, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := authorizeLedgerActor(ctx, tx, sessionID, actorID, personID); err != nil {
			return err
		}
		if err := requireRunning(sess); err != nil {
			return err
		}
		p, err := loadProgress(ctx, tx, sess)
		if err != nil {
			return err
		}
		cur, _, arrived := p.arrivedAtCurrent()
		if !arrived {
			return apperr.New(apperr.CodeInstructorNotPresent, "the instructor has not arrived at the current stop")
		}
		l, err := loadLedger(ctx, tx, sessionID)
		if err != nil {
			return err
		}
		reg, ok := l.regs[personID]
		if !ok {
			return apperr.Newf(apperr.CodeNotRegistered, "%s is not registered for this session", personID)
		}

		switch dir {
		case domain.DirectionIn:
			if reg.Role == domain.RoleChild && reg.PickupStationID != cur.StationID {
				return apperr.Newf(apperr.CodeNotRegistered, "%s is not registered for pick-up at stop %d", personID, cur.StopNumber)
			}
			if _, done := l.in[personID]; done {
				return apperr.Newf(apperr.CodeAlreadyDone, "%s is already checked in", personID)
			}
		case domain.DirectionOut:
			if _, in := l.in[personID]; !in {
				return apperr.Newf(apperr.CodeNotCheckedIn, "%s was never checked in", personID)
			}
			if _, done := l.out[personID]; done {
				return apperr.Newf(apperr.CodeAlreadyDone, "%s is already checked out", personID)
			}
		}

		row = domain.Attendance{
			ID:           uuid.NewString(),
			PersonID:     personID,
			Role:         reg.Role,
			StationID:    cur.StationID,
			SessionID:    sessionID,
			Direction:    dir,
			RegisteredAt: e.now(),
		}
		return tx.InsertAttendance(ctx, row)
	})
	if err != nil {
		return domain.Attendance{}, translate(err, "session")
	}

	e.log.Info("presence recorded", "session", sessionID, "person", personID, "direction", dir, "actor", actorID)
	e.emitPresence(row, false)
	return row, nil
}

// UndoCheckIn removes the check-in of personID while its stop is still open.
func (e *Engine) UndoCheckIn(ctx context.Context, actorID, personID, sessionID string) (err error) {
	defer e.track("undo_check_in")(&err)
	return e.undo(ctx, actorID, personID, sessionID, domain.DirectionIn)
}

// UndoCheckOut removes the check-out of personID while its stop is still open.
func (e *Engine) UndoCheckOut(ctx context.Context, actorID, personID, sessionID string) (err error) {
	defer e.track("undo_check_out")(&err)
	return e.undo(ctx, actorID, personID, sessionID, domain.DirectionOut)
}

func (e *Engine) undo(ctx context.Context, actorID, personID, sessionID string, dir domain.Direction) error {
	if err := requireIDs("actorId", actorID, "personId", personID, "sessionId", sessionID); err != nil {
		return err
	}

	var removed domain.Attendance
	err := e.store.InSession(ctx, sessionID, func(tx store.Tx) error {
		sess, err := tx.Session(ctx, sessionID)
		if err != nil {
			return err
		}
		if err := authorizeLedgerActor(ctx, tx, sessionID, actorID, personID); err != nil {
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

		rows := l.in
		if dir == domain.DirectionOut {
			rows = l.out
		}
		row, ok := rows[personID]
		if !ok {
			return apperr.Newf(apperr.CodeNotFound, "no check-%s recorded for %s", dir, personID)
		}
		if dir == domain.DirectionIn {
			if _, out := l.out[personID]; out {
				return apperr.Newf(apperr.CodeCheckedOut, "%s is already checked out, undo the check-out first", personID)
			}
		}
		if v, ok := p.visitFor(row); ok && v.LeftAt != nil {
			return apperr.Newf(apperr.CodeStationAlreadyLeft, "stop %d has already been left", v.StopNumber)
		}

		removed = row
		return tx.DeleteAttendance(ctx, row.ID)
	})
	if err != nil {
		return translate(err, "session")
	}

	e.log.Info("presence undone", "session", sessionID, "person", personID, "direction", dir, "actor", actorID)
	e.emitPresence(removed, true)
	return nil
}

func (e *Engine) emitPresence(a domain.Attendance, undone bool) {
	at := a.RegisteredAt
	if undone {
		at = e.now()
	}
	ev := events.New(events.KindPresenceChanged, a.SessionID, at)
	ev.StationID = a.StationID
	ev.PersonID = a.PersonID
	ev.Role = a.Role
	ev.Direction = a.Direction
	ev.Undone = undone
	e.emit(ev)
}
