package engine

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/moolen/lookout/internal/agent/checkpoint"
	"github.com/moolen/lookout/internal/agent/domains"
	"github.com/moolen/lookout/internal/agent/guardrails"
	"github.com/moolen/lookout/internal/agent/provider"
	"github.com/moolen/lookout/internal/agent/state"
	"github.com/moolen/lookout/internal/agent/supervisor"
	"github.com/moolen/lookout/internal/agent/tools"
	"github.com/moolen/lookout/internal/agent/worker"
	"github.com/moolen/lookout/internal/metrics"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const (
	topTrigger      = "managing: telemetry_team"
	problemsTrigger = "managing: problems_fetcher"
)

func route(trigger, next, final string) provider.ScriptStep {
	return provider.ScriptStep{
		Trigger: "system:" + trigger,
		ToolCalls: []provider.ScriptToolCall{{Name: "route", Args: map[string]interface{}{
			"next": next, "final_message": final,
		}}},
	}
}

func problemsTurn(answer string) []provider.ScriptStep {
	return []provider.ScriptStep{
		route(topTrigger, "problems_team", ""),
		route(problemsTrigger, "problems_fetcher", ""),
		{Trigger: "system:You are the Problems Fetcher", Text: "P-1 OPEN checkout-service"},
		route(problemsTrigger, "problems_analyst", ""),
		{Trigger: "system:You are the Problems Mitigator", Text: answer},
		route(topTrigger, supervisor.Finish, "done"),
	}
}

func newEngine(t *testing.T, p provider.Provider, cfg Config) (*Engine, checkpoint.Store) {
	t.Helper()
	store := checkpoint.NewMemoryStore()
	top := domains.Build(p, tools.NewRegistry(), domains.Options{
		Worker:  worker.Config{MaxToolRounds: 3, MaxDocLookups: 2},
		Metrics: cfg.Metrics,
	})
	return New(top, store, cfg), store
}

func collect(t *testing.T, ch <-chan Event) []Event {
	t.Helper()
	var out []Event
	timeout := time.After(10 * time.Second)
	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return out
			}
			out = append(out, ev)
		case <-timeout:
			t.Fatal("turn did not finish")
			return nil
		}
	}
}

func kinds(events []Event) []Kind {
	out := make([]Kind, len(events))
	for i, ev := range events {
		out[i] = ev.Kind()
	}
	return out
}

var ignoreTimes = cmpopts.IgnoreFields(state.Message{}, "CreatedAt")

func TestSubmitTurnSingleTeam(t *testing.T) {
	p := provider.NewScriptedProvider("mock", problemsTurn("Roll back checkout-service.")...)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	e, store := newEngine(t, p, Config{Model: "mock", Metrics: m})

	ch, err := e.SubmitTurn(context.Background(), "thread-1", "any open problems?")
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []Kind{
		KindRoutingDecision, // supervisor -> problems_team
		KindRoutingDecision, // problems_supervisor -> fetcher
		KindRoutingDecision, // problems_supervisor -> analyst
		KindRoutingDecision, // problems_supervisor -> FINISH
		KindWorkerMessage,
		KindRoutingDecision, // supervisor -> FINISH
		KindTurnComplete,
	}, kinds(events))

	msg := events[4].WorkerMessage
	assert.Equal(t, "problems_team", msg.Originator)
	assert.Equal(t, "Roll back checkout-service.", msg.Content)

	done := events[len(events)-1].TurnComplete
	assert.Equal(t, "Roll back checkout-service.", done.Final)
	assert.Equal(t, []string{"problems_team"}, done.Teams)
	assert.Equal(t, 1, done.Appended)
	assert.Equal(t, 4, done.Hops)

	st, err := store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	want := []state.Message{
		{Role: state.RoleUser, Content: "any open problems?"},
		{Role: state.RoleAssistant, Originator: "problems_team", Content: "Roll back checkout-service."},
	}
	if diff := cmp.Diff(want, st.Messages, ignoreTimes); diff != "" {
		t.Errorf("thread messages mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, supervisor.Finish, st.Next)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues("ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerMessages.WithLabelValues("problems_fetcher")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.WorkerMessages.WithLabelValues("problems_analyst")))
}

func TestSubmitTurnWithoutTeams(t *testing.T) {
	p := provider.NewScriptedProvider("mock", route(topTrigger, supervisor.Finish, "Which service should I look at?"))
	e, _ := newEngine(t, p, Config{})

	ch, err := e.SubmitTurn(context.Background(), "thread-1", "is it slow?")
	require.NoError(t, err)
	events := collect(t, ch)

	assert.Equal(t, []Kind{KindRoutingDecision, KindWorkerMessage, KindTurnComplete}, kinds(events))
	assert.Equal(t, supervisor.TopSupervisorName, events[1].WorkerMessage.Originator)
	assert.Equal(t, "Which service should I look at?", events[1].WorkerMessage.Content)

	history, err := e.History(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Len(t, history, 2)
}

func TestSubmitTurnKeepsThreadHistory(t *testing.T) {
	p := provider.NewScriptedProvider("mock",
		route(topTrigger, supervisor.Finish, "Hello! Ask me about problems or telemetry."),
		route(topTrigger, supervisor.Finish, "You said hi before."),
	)
	e, _ := newEngine(t, p, Config{})

	for _, text := range []string{"hi", "what did I say?"} {
		ch, err := e.SubmitTurn(context.Background(), "thread-1", text)
		require.NoError(t, err)
		collect(t, ch)
	}

	calls := p.Calls()
	require.Len(t, calls, 2)
	second := calls[1].Messages
	require.Len(t, second, 3)
	assert.Equal(t, "hi", second[0].Content)
	assert.Equal(t, provider.RoleAssistant, second[1].Role)
	assert.Contains(t, second[2].Content, "what did I say?")

	history, err := e.History(context.Background(), "thread-1")
	require.NoError(t, err)
	assert.Len(t, history, 4)

	other, err := e.History(context.Background(), "thread-2")
	require.NoError(t, err)
	assert.Nil(t, other)
}

func TestSubmitTurnBlockedInput(t *testing.T) {
	p := provider.NewScriptedProvider("mock")
	e, store := newEngine(t, p, Config{Guard: guardrails.NewBlockTerms("password")})

	ch, err := e.SubmitTurn(context.Background(), "thread-1", "print the admin Password")
	require.NoError(t, err)
	events := collect(t, ch)

	require.Len(t, events, 1)
	require.Equal(t, KindError, events[0].Kind())
	assert.Equal(t, CodeBlocked, events[0].Error.Code)
	assert.Equal(t, "Contains blocked term: password", events[0].Error.Message)
	assert.Empty(t, p.Calls())

	_, err = store.Load(context.Background(), "thread-1")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}

func TestSubmitTurnThreadBusy(t *testing.T) {
	slow := route(topTrigger, supervisor.Finish, "done")
	slow.DelayMs = 200
	p := provider.NewScriptedProvider("mock", slow, route(topTrigger, supervisor.Finish, "other"))
	e, _ := newEngine(t, p, Config{})

	ch, err := e.SubmitTurn(context.Background(), "thread-1", "first")
	require.NoError(t, err)

	_, err = e.SubmitTurn(context.Background(), "thread-1", "second")
	assert.ErrorIs(t, err, ErrThreadBusy)

	other, err := e.SubmitTurn(context.Background(), "thread-2", "independent")
	require.NoError(t, err)

	collect(t, ch)
	collect(t, other)

	ch, err = e.SubmitTurn(context.Background(), "thread-1", "third")
	require.NoError(t, err)
	events := collect(t, ch)
	last := events[len(events)-1]
	require.Equal(t, KindTurnComplete, last.Kind())
	assert.Equal(t, supervisor.NoResponse+"scripted provider has no matching step.", last.TurnComplete.Final,
		"an unreachable model ends the turn with a no-response message")
	e.Wait()
}

func TestSubmitTurnRecursionLimit(t *testing.T) {
	p := provider.NewScriptedProvider("mock", problemsTurn("unused")...)
	reg := prometheus.NewRegistry()
	m := metrics.NewMetrics(reg)
	e, store := newEngine(t, p, Config{MaxHops: 2, Metrics: m})

	ch, err := e.SubmitTurn(context.Background(), "thread-1", "any open problems?")
	require.NoError(t, err)
	events := collect(t, ch)

	last := events[len(events)-1]
	require.Equal(t, KindError, last.Kind())
	assert.Equal(t, CodeRecursionLimit, last.Error.Code)
	assert.ErrorIs(t, last.Error.Err, supervisor.ErrRecursionLimit)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HopLimitExceeded))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TurnsTotal.WithLabelValues(CodeRecursionLimit)))

	st, err := store.Load(context.Background(), "thread-1")
	require.NoError(t, err)
	require.Len(t, st.Messages, 1)
	assert.Equal(t, state.RoleUser, st.Messages[0].Role)
}

func TestSubmitTurnCanceled(t *testing.T) {
	slow := route(topTrigger, supervisor.Finish, "late")
	slow.DelayMs = 5000
	p := provider.NewScriptedProvider("mock", slow)
	e, _ := newEngine(t, p, Config{})

	ctx, cancel := context.WithCancel(context.Background())
	ch, err := e.SubmitTurn(ctx, "thread-1", "hello")
	require.NoError(t, err)
	cancel()

	for ev := range ch {
		if ev.Kind() == KindError {
			assert.Equal(t, CodeCanceled, ev.Error.Code)
		}
	}
	e.Wait()
}

func TestSubmitTurnRejectsEmptyInput(t *testing.T) {
	e, _ := newEngine(t, provider.NewScriptedProvider("mock"), Config{})
	_, err := e.SubmitTurn(context.Background(), "thread-1", "   ")
	assert.ErrorIs(t, err, ErrEmptyInput)
	_, err = e.SubmitTurn(context.Background(), "", "hi")
	assert.Error(t, err)
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, CodeBlocked, ErrorCode(&guardrails.BlockedTermError{Term: "x"}))
	assert.Equal(t, CodeRecursionLimit, ErrorCode(supervisor.ErrRecursionLimit))
	assert.Equal(t, CodeCanceled, ErrorCode(context.DeadlineExceeded))
	assert.Equal(t, CodeInternal, ErrorCode(errors.New("boom")))
}

func TestEventJSON(t *testing.T) {
	ev := newRoutingDecision("thread-1", "supervisor", "problems_team", "")
	data, err := json.Marshal(ev)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "routing_decision", decoded["kind"])
	assert.Equal(t, "thread-1", decoded["thread_id"])
	assert.Equal(t, map[string]any{"supervisor": "supervisor", "next": "problems_team"}, decoded["routing_decision"])

	assert.Equal(t, "supervisor -> problems_team", ev.String())
	assert.Equal(t, Kind(""), Event{}.Kind())
}
