package engine

import (
	"context"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/store"
)

// Snapshot is the read model of one session.
type Snapshot struct {
	Session domain.ActivitySession `json:"session"`
	Status  domain.SessionStatus   `json:"status"`
	Stops   []StationInfo          `json:"stops"`
	Current *StationInfo           `json:"current,omitempty"`
}

// Status derives the session status from its timestamps and visits.
func (e *Engine) Status(ctx context.Context, sessionID string) (domain.SessionStatus, error) {
	sess, p, l, err := e.read(ctx, sessionID)
	if err != nil {
		return "", err
	}
	return deriveStatus(sess, p, l), nil
}

func deriveStatus(sess domain.ActivitySession, p progress, l ledger) domain.SessionStatus {
	switch {
	case sess.Finished():
		return domain.StatusEnded
	case !sess.Started():
		return domain.StatusNotStarted
	}
	cur, ok := p.current()
	if !ok {
		return domain.StatusReadyToEnd
	}
	v, visited := p.visit(cur.StopNumber)
	if !visited || !v.Open() {
		return domain.StatusBetweenStations
	}
	if p.isLast(cur.StopNumber) && len(l.incomplete()) == 0 {
		return domain.StatusReadyToEnd
	}
	return domain.StatusInStation
}

// Snapshot returns the session with every stop annotated.
func (e *Engine) Snapshot(ctx context.Context, sessionID string) (Snapshot, error) {
	sess, p, l, err := e.read(ctx, sessionID)
	if err != nil {
		return Snapshot{}, err
	}
	stops, err := e.annotate(ctx, sess, p)
	if err != nil {
		return Snapshot{}, err
	}
	snap := Snapshot{Session: sess, Status: deriveStatus(sess, p, l), Stops: stops}
	if sess.Started() && !sess.Finished() {
		if cur, ok := p.current(); ok {
			for i := range stops {
				if stops[i].StopNumber == cur.StopNumber {
					snap.Current = &stops[i]
					break
				}
			}
		}
	}
	return snap, nil
}

// Schedule lists the stops with their advisory expected arrival.
func (e *Engine) Schedule(ctx context.Context, sessionID string) ([]StationInfo, error) {
	sess, p, _, err := e.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	return e.annotate(ctx, sess, p)
}

// PendingPickups lists children due at the current stop and not yet on
// board. It is empty unless the session is running.
func (e *Engine) PendingPickups(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	sess, p, l, err := e.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Started() || sess.Finished() {
		return nil, nil
	}
	cur, ok := p.current()
	if !ok {
		return nil, nil
	}
	return l.pendingPickups(cur), nil
}

// PendingDropoffs lists children that block Advance at the current stop.
func (e *Engine) PendingDropoffs(ctx context.Context, sessionID string) ([]domain.Registration, error) {
	sess, p, l, err := e.read(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.Started() || sess.Finished() {
		return nil, nil
	}
	cur, ok := p.current()
	if !ok {
		return nil, nil
	}
	return l.pendingDropoffs(p, cur), nil
}

// CanView allows admins, assigned instructors and registered persons to
// read a session.
func (e *Engine) CanView(ctx context.Context, sessionID, personID string, role domain.Role) error {
	if role == domain.RoleAdmin {
		return nil
	}
	if err := requireIDs("personId", personID); err != nil {
		return err
	}
	if _, err := e.store.Session(ctx, sessionID); err != nil {
		return translate(err, "session")
	}
	ok, err := e.store.IsInstructorAssigned(ctx, sessionID, personID)
	if err != nil {
		return translate(err, "session")
	}
	if ok {
		return nil
	}
	regs, err := e.store.Registrations(ctx, sessionID)
	if err != nil {
		return translate(err, "session")
	}
	for _, r := range regs {
		if r.PersonID == personID {
			return nil
		}
	}
	return apperr.Newf(apperr.CodeUnauthorized, "%s may not view session %s", personID, sessionID)
}

// read is a plain snapshot read outside any session lock.
func (e *Engine) read(ctx context.Context, sessionID string) (domain.ActivitySession, progress, ledger, error) {
	if err := requireIDs("sessionId", sessionID); err != nil {
		return domain.ActivitySession{}, progress{}, ledger{}, err
	}
	var r store.Reader = e.store
	sess, err := r.Session(ctx, sessionID)
	if err != nil {
		return domain.ActivitySession{}, progress{}, ledger{}, translate(err, "session")
	}
	p, err := loadProgress(ctx, r, sess)
	if err != nil {
		return domain.ActivitySession{}, progress{}, ledger{}, translate(err, "route")
	}
	l, err := loadLedger(ctx, r, sessionID)
	if err != nil {
		return domain.ActivitySession{}, progress{}, ledger{}, translate(err, "session")
	}
	return sess, p, l, nil
}

func (e *Engine) annotate(ctx context.Context, sess domain.ActivitySession, p progress) ([]StationInfo, error) {
	out := make([]StationInfo, 0, len(p.stops))
	for _, stop := range p.stops {
		info, err := e.stationInfo(ctx, e.store, sess, p, stop)
		if err != nil {
			return nil, translate(err, "station")
		}
		out = append(out, info)
	}
	return out, nil
}
