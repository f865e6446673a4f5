// Package engine is the session entry point: it turns one user message into
// a supervised multi-agent turn, streams its progress and checkpoints the
// thread.
package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/moolen/lookout/internal/agent/audit"
	"github.com/moolen/lookout/internal/agent/checkpoint"
	"github.com/moolen/lookout/internal/agent/guardrails"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/agent/supervisor"
	"github.com/moolen/lookout/internal/logging"
	"github.com/moolen/lookout/internal/metrics"
	"github.com/moolen/lookout/internal/tracing"
)

var (
	// ErrThreadBusy is returned when a thread already has a turn running.
	ErrThreadBusy = errors.New("thread is busy")

	// ErrEmptyInput is returned for blank user messages.
	ErrEmptyInput = errors.New("empty input")
)

// Error codes carried by error events.
const (
	CodeBlocked        = "blocked"
	CodeRecursionLimit = "recursion_limit"
	CodeCanceled       = "canceled"
	CodeInternal       = "internal"
)

const eventBuffer = 32

// Config holds the per-engine knobs. Zero values are usable.
type Config struct {
	Model   string
	MaxHops int
	// Guard validates user input before a turn starts.
	Guard guardrails.Validator
	// Locks marks threads as busy. Engines sharing a checkpoint store should
	// share Locks too.
	Locks   *checkpoint.KeyedMutex
	Audit   *audit.Logger
	Metrics *metrics.Metrics
}

// Engine runs turns for many threads. Turns on different threads run
// concurrently; a thread runs one turn at a time.
type Engine struct {
	top     *supervisor.TopSupervisor
	store   checkpoint.Store
	cfg     Config
	locks   *checkpoint.KeyedMutex
	logger  *logging.Logger
	running sync.WaitGroup
}

func New(top *supervisor.TopSupervisor, store checkpoint.Store, cfg Config) *Engine {
	if cfg.MaxHops <= 0 {
		cfg.MaxHops = supervisor.DefaultMaxHops
	}
	locks := cfg.Locks
	if locks == nil {
		locks = checkpoint.NewKeyedMutex()
	}
	return &Engine{
		top:    top,
		store:  store,
		cfg:    cfg,
		locks:  locks,
		logger: logging.GetLogger("engine"),
	}
}

func (e *Engine) Model() string { return e.cfg.Model }

func (e *Engine) MaxHops() int { return e.cfg.MaxHops }

// SubmitTurn starts a turn for text on threadID and returns its event
// stream. The channel is closed when the turn is over; the last event is
// either turn_complete or error. Callers must drain the channel or cancel
// ctx.
//
// Input rejected by the guardrails yields a single error event and leaves
// the thread untouched.
func (e *Engine) SubmitTurn(ctx context.Context, threadID, text string) (<-chan Event, error) {
	if threadID == "" {
		return nil, fmt.Errorf("thread id is required")
	}
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyInput
	}

	unlock, ok := e.locks.TryLock(threadID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrThreadBusy, threadID)
	}

	events := make(chan Event, eventBuffer)
	if e.cfg.Guard != nil {
		if err := e.cfg.Guard.Validate(text); err != nil {
			unlock()
			e.logger.InfoWithFields("input blocked",
				logging.Field("thread_id", threadID),
				logging.Field("reason", err.Error()))
			_ = e.cfg.Audit.LogError(threadID, "guardrails", err)
			e.cfg.Metrics.TurnStarted()(CodeBlocked)
			events <- newError(threadID, CodeBlocked, err)
			close(events)
			return events, nil
		}
	}

	e.running.Add(1)
	go func() {
		defer e.running.Done()
		defer close(events)
		defer unlock()
		e.runTurn(ctx, threadID, text, events)
	}()
	return events, nil
}

func (e *Engine) runTurn(ctx context.Context, threadID, text string, events chan<- Event) {
	var err error
	ctx, span := tracing.StartSpan(ctx, "engine.turn",
		attribute.String("thread_id", threadID),
		attribute.String("model", e.cfg.Model))
	defer func() { tracing.EndSpan(span, err) }()

	start := time.Now()
	finished := e.cfg.Metrics.TurnStarted()
	logger := e.logger.WithContext(ctx).WithField("thread_id", threadID)
	emit := func(ev Event) {
		select {
		case events <- ev:
		case <-ctx.Done():
		}
	}
	_ = e.cfg.Audit.LogTurnStart(threadID, text)

	current, err := e.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		current, err = state.New(threadID), nil
	}
	if err != nil {
		err = fmt.Errorf("failed to load thread: %w", err)
		e.fail(threadID, err, emit, finished)
		return
	}

	user := state.UserMessage(text)
	history := append(current.Messages, user)
	var appended []state.Message

	turn := supervisor.NewTurn(threadID, e.cfg.MaxHops, supervisor.Observer{
		OnDecision: func(sup string, d supervisor.Decision) {
			logger.DebugWithFields("routing decision",
				logging.Field("supervisor", sup),
				logging.Field("next", d.Next))
			_ = e.cfg.Audit.LogRoutingDecision(threadID, sup, d.Next, d.FinalMessage)
			emit(newRoutingDecision(threadID, sup, d.Next, d.FinalMessage))
		},
		OnMessage: func(m state.Message) {
			appended = append(appended, m)
			_ = e.cfg.Audit.LogWorkerMessage(threadID, m.Originator, m.Content)
			emit(newWorkerMessage(threadID, m))
		},
		OnWorkerMessage: func(team string, m state.Message) {
			e.cfg.Metrics.RecordWorkerMessage(m.Originator)
			_ = e.cfg.Audit.LogWorkerMessage(threadID, m.Originator, m.Content)
		},
		OnError: func(sup string, cause error) {
			logger.Warn("%s forced FINISH: %v", sup, cause)
			_ = e.cfg.Audit.LogError(threadID, sup, cause)
		},
	})

	res, runErr := e.top.Run(ctx, turn, history)

	// The user message and whatever the turn produced are kept even when
	// the turn failed, so the thread shows what happened.
	next := ""
	if res != nil {
		next = res.Next
	}
	_, saveErr := e.store.Update(context.WithoutCancel(ctx), threadID, func(st *state.ConversationState) error {
		st.Append(user)
		st.Append(appended...)
		st.SetNext(next)
		return nil
	})

	if runErr != nil {
		err = runErr
		e.fail(threadID, err, emit, finished)
		return
	}
	if saveErr != nil {
		err = fmt.Errorf("failed to save thread: %w", saveErr)
		e.fail(threadID, err, emit, finished)
		return
	}

	duration := time.Since(start)
	_ = e.cfg.Audit.LogTurnComplete(threadID, duration, len(appended))
	finished("ok")
	logger.InfoWithFields("turn complete",
		logging.Field("teams", res.Teams),
		logging.Field("hops", turn.Hops.Used()),
		logging.Field("duration_ms", duration.Milliseconds()))
	emit(Event{ThreadID: threadID, Time: time.Now().UTC(), TurnComplete: &TurnComplete{
		Final:      res.Final,
		Teams:      res.Teams,
		Appended:   len(appended),
		Hops:       turn.Hops.Used(),
		Duration:   duration,
		DurationMs: duration.Milliseconds(),
	}})
}

func (e *Engine) fail(threadID string, err error, emit func(Event), finished func(string)) {
	code := ErrorCode(err)
	if code == CodeRecursionLimit {
		e.cfg.Metrics.RecordHopLimit()
	}
	finished(code)
	e.logger.ErrorWithFields("turn failed",
		logging.Field("thread_id", threadID),
		logging.Field("code", code),
		logging.Field("error", err))
	_ = e.cfg.Audit.LogError(threadID, supervisor.TopSupervisorName, err)
	emit(newError(threadID, code, err))
}

// ErrorCode classifies a turn failure.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, guardrails.ErrBlocked):
		return CodeBlocked
	case errors.Is(err, supervisor.ErrRecursionLimit):
		return CodeRecursionLimit
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return CodeCanceled
	default:
		return CodeInternal
	}
}

// History returns the messages of threadID, nil for an unknown thread.
func (e *Engine) History(ctx context.Context, threadID string) ([]state.Message, error) {
	st, err := e.store.Load(ctx, threadID)
	if errors.Is(err, checkpoint.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return st.Messages, nil
}

// Wait blocks until every running turn has finished.
func (e *Engine) Wait() {
	e.running.Wait()
}
