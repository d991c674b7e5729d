// Package engine implements the roll lifecycle: stage resolution, label
// generation, registration, slitting, consumption and stock deletion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"rolltrack/logger"
	"rolltrack/store"
)

// DefaultMaxTotalWidth is the slitter capacity in millimetres.
const DefaultMaxTotalWidth = 1300

// ErrInvalidInput is returned for blank or malformed request fields.
var ErrInvalidInput = errors.New("invalid input")

type Config struct {
	Store         *store.Store
	MaxTotalWidth int
	LabelBaseURL  string
	Logger        *logger.Logger
}

type Engine struct {
	store    *store.Store
	maxWidth int
	baseURL  string
	log      *logger.Logger
	Events   *EventBus
	suffix   func() string
}

func New(c Config) *Engine {
	log := c.Logger
	if log == nil {
		log = logger.Nop()
	}
	maxWidth := c.MaxTotalWidth
	if maxWidth <= 0 {
		maxWidth = DefaultMaxTotalWidth
	}
	e := &Engine{
		store:    c.Store,
		maxWidth: maxWidth,
		baseURL:  strings.TrimRight(c.LabelBaseURL, "/"),
		log:      log.With("component", "engine"),
		Events:   NewEventBus(),
		suffix:   randomSuffix,
	}
	e.Events.OnPanic(func(evt Event, r any) {
		e.log.Error("event listener panic", "event", evt.Type.String(), "panic", fmt.Sprint(r))
	})
	e.wireEventHandlers()
	return e
}

// Accessors
func (e *Engine) Store() *store.Store    { return e.store }
func (e *Engine) MaxTotalWidth() int     { return e.maxWidth }
func (e *Engine) StorageType() string    { return e.store.StorageType() }
func (e *Engine) Logger() *logger.Logger { return e.log }

type ctxKey int

const (
	actorKey ctxKey = iota
	userAgentKey
)

// WithActor attaches the operator identity recorded on scan events. The
// value is opaque to the engine.
func WithActor(ctx context.Context, actor string) context.Context {
	return context.WithValue(ctx, actorKey, actor)
}

func WithUserAgent(ctx context.Context, ua string) context.Context {
	return context.WithValue(ctx, userAgentKey, ua)
}

func ActorFrom(ctx context.Context) string {
	s, _ := ctx.Value(actorKey).(string)
	return s
}

func UserAgentFrom(ctx context.Context) string {
	s, _ := ctx.Value(userAgentKey).(string)
	return s
}

func (e *Engine) emit(t EventType, payload any) {
	e.Events.Emit(Event{Type: t, Payload: payload})
}

// audit appends a scan event stamped with the caller's actor and user agent.
func (e *Engine) audit(ctx context.Context, ev store.ScanEvent) error {
	ev.Actor = ActorFrom(ctx)
	ev.UserAgent = UserAgentFrom(ctx)
	_, err := e.store.ScanEvents.Append(ctx, ev)
	return err
}

// partial builds the error for a multi-step operation that committed some
// writes, logs it and emits EventInconsistentState.
func (e *Engine) partial(op, qr, step string, err error) error {
	ise := &store.InconsistentStateError{Op: op, QRValue: qr, Step: step, Err: err}
	e.log.Error("partial commit", "op", op, "qr", qr, "step", step, "err", err)
	e.emit(EventInconsistentState, InconsistentStateEvent{Op: op, QRValue: qr, Step: step, Detail: err.Error()})
	return ise
}

func (e *Engine) defaultJobID() string {
	return fmt.Sprintf("job-%d", e.store.Now().UnixMilli())
}

func randomSuffix() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:9]
}
