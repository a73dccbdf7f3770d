// Package engine drives an activity session through its stops. Every
// mutating call re-reads the session inside one store transaction and
// re-checks its guards there; the current station is derived from the
// visits on every call and never stored.
package engine

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"walkingbus/internal/apperr"
	"walkingbus/internal/domain"
	"walkingbus/internal/events"
	"walkingbus/internal/route"
	"walkingbus/internal/store"
)

const (
	DefaultStartWindow = 30 * time.Minute
	DefaultHookTimeout = 30 * time.Second
	weatherTimeout     = 3 * time.Second
)

// Emitter receives transition events. Emit must not block.
type Emitter interface {
	Emit(ev events.Event)
}

// WeatherLookup returns the current weather of a city.
type WeatherLookup interface {
	Current(ctx context.Context, city string) (*domain.Weather, error)
}

// EndHook is background work run after a session ends. Hooks of one
// session run in registration order on a detached goroutine.
type EndHook interface {
	Name() string
	SessionEnded(ctx context.Context, sess domain.ActivitySession) error
}

// Metrics receives operation outcomes. code is empty on success.
type Metrics interface {
	ObserveOperation(op string, code string, d time.Duration)
	HookFailed(hook string)
	WeatherFailed()
}

type Engine struct {
	store       store.Store
	now         func() time.Time
	startWindow time.Duration
	hookTimeout time.Duration
	est         route.Estimator
	log         *slog.Logger
	metrics     Metrics
	emitter     Emitter
	weather     WeatherLookup
	hooks       []EndHook

	wg sync.WaitGroup
}

type Option func(*Engine)

func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// WithStartWindow sets how long before scheduledAt a session may start.
func WithStartWindow(d time.Duration) Option { return func(e *Engine) { e.startWindow = d } }

func WithHookTimeout(d time.Duration) Option { return func(e *Engine) { e.hookTimeout = d } }

func WithEstimator(est route.Estimator) Option { return func(e *Engine) { e.est = est } }

func WithLogger(l *slog.Logger) Option { return func(e *Engine) { e.log = l } }

func WithMetrics(m Metrics) Option { return func(e *Engine) { e.metrics = m } }

func WithEmitter(em Emitter) Option { return func(e *Engine) { e.emitter = em } }

func WithWeather(w WeatherLookup) Option { return func(e *Engine) { e.weather = w } }

func WithEndHooks(hooks ...EndHook) Option {
	return func(e *Engine) { e.hooks = append(e.hooks, hooks...) }
}

func New(st store.Store, opts ...Option) *Engine {
	e := &Engine{
		store:       st,
		now:         time.Now,
		startWindow: DefaultStartWindow,
		hookTimeout: DefaultHookTimeout,
		est:         route.DefaultEstimator(),
		log:         slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.log = e.log.With("component", "engine")
	return e
}

// Wait blocks until every detached end hook has returned.
func (e *Engine) Wait() { e.wg.Wait() }

// track times op; the returned func reports the outcome held in *errp.
func (e *Engine) track(op string) func(errp *error) {
	began := time.Now()
	return func(errp *error) {
		if e.metrics == nil {
			return
		}
		code := ""
		if *errp != nil {
			code = string(apperr.CodeOf(*errp))
		}
		e.metrics.ObserveOperation(op, code, time.Since(began))
	}
}

func (e *Engine) emit(ev events.Event) {
	if e.emitter != nil {
		e.emitter.Emit(ev)
	}
}

// translate maps store sentinels onto the error taxonomy.
func translate(err error, what string) error {
	if err == nil {
		return nil
	}
	if _, ok := apperr.As(err); ok {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return apperr.Newf(apperr.CodeNotFound, "%s not found", what)
	case errors.Is(err, store.ErrConflict):
		return apperr.Wrap(apperr.CodeConcurrentUpdate, "session changed concurrently, retry", err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Internal("request cancelled", err)
	default:
		return apperr.Internal("storage failure", err)
	}
}

func requireIDs(pairs ...string) error {
	for i := 0; i+1 < len(pairs); i += 2 {
		if strings.TrimSpace(pairs[i+1]) == "" {
			return apperr.Newf(apperr.CodeInvalidArgument, "%s is required", pairs[i])
		}
	}
	return nil
}

// authorizeInstructor requires actorID to be assigned to the session.
func authorizeInstructor(ctx context.Context, r store.Reader, sessionID, actorID string) error {
	ok, err := r.IsInstructorAssigned(ctx, sessionID, actorID)
	if err != nil {
		return err
	}
	if !ok {
		return apperr.Newf(apperr.CodeNotAssigned, "instructor %s is not assigned to session %s", actorID, sessionID)
	}
	return nil
}

func requireRunning(sess domain.ActivitySession) error {
	if !sess.Started() {
		return apperr.New(apperr.CodeNotStarted, "session has not started")
	}
	if sess.Finished() {
		return apperr.New(apperr.CodeAlreadyFinished, "session has already finished")
	}
	return nil
}

func (e *Engine) lookupWeather(ctx context.Context, city string) *domain.Weather {
	if e.weather == nil || strings.TrimSpace(city) == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, weatherTimeout)
	defer cancel()
	w, err := e.weather.Current(ctx, city)
	if err != nil {
		e.log.Warn("weather lookup failed", "city", city, "error", err)
		if e.metrics != nil {
			e.metrics.WeatherFailed()
		}
		return nil
	}
	return w
}

func (e *Engine) runEndHooks(sess domain.ActivitySession) {
	if len(e.hooks) == 0 {
		return
	}
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		for _, h := range e.hooks {
			e.runHook(h, sess)
		}
	}()
}

func (e *Engine) runHook(h EndHook, sess domain.ActivitySession) {
	ctx, cancel := context.WithTimeout(context.Background(), e.hookTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			e.log.Error("end hook panicked", "hook", h.Name(), "session", sess.ID, "panic", r)
			if e.metrics != nil {
				e.metrics.HookFailed(h.Name())
			}
		}
	}()
	if err := h.SessionEnded(ctx, sess); err != nil {
		e.log.Error("end hook failed", "hook", h.Name(), "session", sess.ID, "error", err)
		if e.metrics != nil {
			e.metrics.HookFailed(h.Name())
		}
	}
}
