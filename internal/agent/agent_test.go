package agent

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/mailbox"
	"AgentPair-Chain/internal/observability/alerting"
)

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestAgent(name string, opts ...Option) *Agent {
	opts = append([]Option{WithLogger(quietLogger()), WithPollInterval(5 * time.Millisecond)}, opts...)
	return New(name, opts...)
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("condition not met within %s", timeout)
}

func TestAgentDeliversInOrder(t *testing.T) {
	ag := newTestAgent("b")
	var mu sync.Mutex
	var seen []string
	if err := ag.RegisterHandler("default", HandlerFunc(func(_ context.Context, msg mailbox.Message, env *Env) error {
		mu.Lock()
		seen = append(seen, msg.Content)
		mu.Unlock()
		env.State().Incr("processed", 1)
		return nil
	})); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ag.Close()

	want := []string{"one", "two", "three", "four"}
	for _, c := range want {
		if err := ag.Inbox().Publish(ctx, mailbox.NewMessage("default", c, "a")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, 2*time.Second, func() bool { return ag.Stats().Handled == int64(len(want)) })

	mu.Lock()
	defer mu.Unlock()
	for i := range want {
		if seen[i] != want[i] {
			t.Fatalf("expected FIFO delivery %v, got %v", want, seen)
		}
	}
	if v, _ := ag.Value("processed"); v != int64(len(want)) {
		t.Fatalf("expected processed=%d in state, got %v", len(want), v)
	}
}

func TestAgentContinuesAfterFailures(t *testing.T) {
	ag := newTestAgent("b")
	var ok atomic.Int64
	_ = ag.RegisterHandler("bad", HandlerFunc(func(context.Context, mailbox.Message, *Env) error {
		return errors.New("broken")
	}))
	_ = ag.RegisterHandler("panic", HandlerFunc(func(context.Context, mailbox.Message, *Env) error {
		panic("boom")
	}))
	_ = ag.RegisterHandler("good", HandlerFunc(func(context.Context, mailbox.Message, *Env) error {
		ok.Add(1)
		return nil
	}))

	ctx := context.Background()
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ag.Close()

	for _, typ := range []string{"bad", "missing", "panic", "good"} {
		_ = ag.Inbox().Publish(ctx, mailbox.NewMessage(typ, "x", "a"))
	}
	waitFor(t, 2*time.Second, func() bool { return ok.Load() == 1 })

	stats := ag.Stats()
	if stats.Received != 4 || stats.Handled != 1 || stats.Dropped != 1 || stats.HandlerFailures != 2 {
		t.Fatalf("unexpected stats: %+v", stats)
	}
}

func TestAgentRunsBehaviorsAndSends(t *testing.T) {
	a := newTestAgent("a")
	b := newTestAgent("b")
	Connect(a, b)

	var failures atomic.Int64
	_ = a.RegisterBehavior("emit", BehaviorFunc(func(ctx context.Context, env *Env) error {
		_, err := env.Emit(ctx, "default", "ping")
		return err
	}), 10*time.Millisecond)
	_ = a.RegisterBehavior("fail", BehaviorFunc(func(context.Context, *Env) error {
		failures.Add(1)
		return errors.New("nope")
	}), 10*time.Millisecond)

	ctx := context.Background()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer a.Close()

	waitFor(t, 2*time.Second, func() bool { return a.Stats().Sent >= 2 && failures.Load() >= 2 })

	msg, err := b.Inbox().Receive(ctx)
	if err != nil {
		t.Fatalf("receive: %v", err)
	}
	if msg.From != "a" || msg.Content != "ping" || msg.Type != "default" {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if a.Stats().BehaviorFailures == 0 {
		t.Fatalf("expected behavior failures to be counted")
	}
}

func TestAgentHandlersAndBehaviorsNeverOverlap(t *testing.T) {
	ag := newTestAgent("b", WithPollInterval(time.Millisecond))
	var inFlight, overlaps, runs atomic.Int64
	enter := func() {
		if inFlight.Add(1) != 1 {
			overlaps.Add(1)
		}
		runs.Add(1)
	}
	leave := func() { inFlight.Add(-1) }

	_ = ag.RegisterHandler("default", HandlerFunc(func(_ context.Context, _ mailbox.Message, env *Env) error {
		enter()
		defer leave()
		env.State().Incr("handled", 1)
		time.Sleep(50 * time.Microsecond)
		return nil
	}))
	_ = ag.RegisterBehavior("tick", BehaviorFunc(func(_ context.Context, env *Env) error {
		enter()
		defer leave()
		env.State().Incr("ticks", 1)
		time.Sleep(50 * time.Microsecond)
		return nil
	}), time.Millisecond)

	ctx := context.Background()
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ag.Close()

	const messages = 500
	for i := 0; i < messages; i++ {
		if err := ag.Inbox().Publish(ctx, mailbox.NewMessage("default", "x", "a")); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, 5*time.Second, func() bool {
		ticks, _ := ag.Value("ticks")
		n, _ := ticks.(int64)
		return ag.Stats().Handled == messages && n > 0
	})

	if n := overlaps.Load(); n != 0 {
		t.Fatalf("handler and behavior overlapped %d times in %d runs", n, runs.Load())
	}
}

func TestAgentEnvUsesAgentLogger(t *testing.T) {
	custom := quietLogger()
	ag := newTestAgent("b", WithLogger(custom))
	got := make(chan *slog.Logger, 1)
	_ = ag.RegisterHandler("default", HandlerFunc(func(_ context.Context, _ mailbox.Message, env *Env) error {
		got <- env.Logger()
		return nil
	}))

	ctx := context.Background()
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ag.Close()
	_ = ag.Inbox().Publish(ctx, mailbox.NewMessage("default", "x", "a"))

	select {
	case l := <-got:
		if l != custom {
			t.Fatalf("expected the agent's configured logger in Env")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("handler not invoked")
	}
	if NewEnv("b", nil, nil).Logger() == nil {
		t.Fatalf("expected fallback logger")
	}
}

func TestAgentStartConflict(t *testing.T) {
	ag := newTestAgent("a")
	if err := ag.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ag.Stop()
	if err := ag.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected already running, got %v", err)
	}
}

func TestAgentStopIdempotentAndBounded(t *testing.T) {
	ag := newTestAgent("a")
	_ = ag.RegisterBehavior("noop", BehaviorFunc(func(context.Context, *Env) error { return nil }), time.Hour)
	if err := ag.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}

	done := make(chan struct{})
	go func() {
		_ = ag.Stop()
		_ = ag.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("stop did not return with an empty inbox")
	}
	if ag.Running() {
		t.Fatalf("agent still running after stop")
	}

	// 停止后允许再次启动。
	if err := ag.Start(context.Background()); err != nil {
		t.Fatalf("restart: %v", err)
	}
	if err := ag.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
}

func TestAgentStopsWhenContextCancelled(t *testing.T) {
	ag := newTestAgent("a")
	ctx, cancel := context.WithCancel(context.Background())
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	cancel()

	done := make(chan struct{})
	go func() {
		ag.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("loops did not exit after context cancellation")
	}
	_ = ag.Stop()
}

func TestAgentAlertsOnAlertingCodes(t *testing.T) {
	var events []alerting.Event
	var mu sync.Mutex
	dispatcher := alerting.NewFanout(alerting.FuncNotifier{
		Name: alerting.ChannelLog,
		Fn: func(_ context.Context, e alerting.Event) error {
			mu.Lock()
			events = append(events, e)
			mu.Unlock()
			return nil
		},
	})
	ag := newTestAgent("a", WithAlertDispatcher(dispatcher))
	_ = ag.RegisterHandler("quiet", HandlerFunc(func(context.Context, mailbox.Message, *Env) error {
		return errors.New("plain")
	}))
	_ = ag.RegisterHandler("loud", HandlerFunc(func(context.Context, mailbox.Message, *Env) error {
		return xerrors.New(xerrors.CodeExecutionFailure, "bridge down", xerrors.WithAlert(true))
	}))

	ctx := context.Background()
	if err := ag.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer ag.Close()
	_ = ag.Inbox().Publish(ctx, mailbox.NewMessage("quiet", "", "b"))
	_ = ag.Inbox().Publish(ctx, mailbox.NewMessage("loud", "", "b"))
	waitFor(t, 2*time.Second, func() bool { return ag.Stats().HandlerFailures == 2 })

	mu.Lock()
	defer mu.Unlock()
	if len(events) != 1 {
		t.Fatalf("expected exactly one alert, got %d", len(events))
	}
	if events[0].Agent != "a" || events[0].Unit != "loud" || events[0].Stage != "handler" {
		t.Fatalf("unexpected event: %+v", events[0])
	}
}

func TestNewPairValidation(t *testing.T) {
	if _, err := NewPair(nil, newTestAgent("a")); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument, got %v", err)
	}
	a := newTestAgent("same")
	if _, err := NewPair(a, newTestAgent("same")); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected invalid argument for duplicate names, got %v", err)
	}
}

func TestPairStartStop(t *testing.T) {
	a, b := newTestAgent("a"), newTestAgent("b")
	pair, err := NewPair(a, b)
	if err != nil {
		t.Fatalf("new pair: %v", err)
	}
	if a.Peer() != "b" || b.Peer() != "a" {
		t.Fatalf("expected bidirectional connection, got %q %q", a.Peer(), b.Peer())
	}
	if err := pair.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !a.Running() || !b.Running() {
		t.Fatalf("expected both agents running")
	}
	if err := pair.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if a.Running() || b.Running() {
		t.Fatalf("expected both agents stopped")
	}
	if err := a.Inbox().Publish(context.Background(), mailbox.NewMessage("x", "", "b")); !errors.Is(err, mailbox.ErrClosed) {
		t.Fatalf("expected closed inbox, got %v", err)
	}
}

func TestPairStartRollsBack(t *testing.T) {
	a, b := newTestAgent("a"), newTestAgent("b")
	pair, _ := NewPair(a, b)
	if err := b.Start(context.Background()); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.Stop()
	if err := pair.Start(context.Background()); !errors.Is(err, ErrAlreadyRunning) {
		t.Fatalf("expected conflict from second agent, got %v", err)
	}
	if a.Running() {
		t.Fatalf("expected first agent to be stopped after failed pair start")
	}
}
