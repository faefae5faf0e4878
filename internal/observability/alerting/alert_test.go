package alerting

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"

	xerrors "AgentPair-Chain/internal/errors"
)

func TestFanoutDeliversToEveryChannel(t *testing.T) {
	var got []Channel
	record := func(c Channel) Notifier {
		return FuncNotifier{Name: c, Fn: func(context.Context, Event) error {
			got = append(got, c)
			return nil
		}}
	}
	d := NewFanout(record("b"), record("a"), nil)
	if err := d.Notify(context.Background(), Event{Code: xerrors.CodeUnknown}); err != nil {
		t.Fatalf("notify: %v", err)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected delivery order %v", got)
	}
}

func TestFanoutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	called := false
	d := NewFanout(
		FuncNotifier{Name: "fail", Fn: func(context.Context, Event) error { return boom }},
		FuncNotifier{Name: "ok", Fn: func(context.Context, Event) error { called = true; return nil }},
	)
	err := d.Notify(context.Background(), Event{})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined error, got %v", err)
	}
	if !called {
		t.Fatal("a failing channel must not stop the others")
	}

	var nilDispatcher *FanoutDispatcher
	if err := nilDispatcher.Notify(context.Background(), Event{}); err != nil {
		t.Fatalf("nil dispatcher must be a no-op, got %v", err)
	}
}

func TestEventFromErrorAndAuditNotifier(t *testing.T) {
	err := xerrors.New(xerrors.CodeQueueFailure, "redis down", xerrors.WithMetadata("queue", "inbox"))
	event := EventFromError("Agent1", "wordgen", "behavior", err)
	if event.Code != xerrors.CodeQueueFailure || event.Severity != xerrors.SeverityCritical {
		t.Fatalf("unexpected event %+v", event)
	}
	if event.Metadata["queue"] != "inbox" {
		t.Fatalf("metadata not carried: %+v", event.Metadata)
	}

	var buf bytes.Buffer
	n := &AuditNotifier{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	if err := n.Notify(context.Background(), event); err != nil {
		t.Fatalf("notify: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "QUEUE_FAILURE") || !strings.Contains(out, "meta.queue") {
		t.Fatalf("unexpected audit line %s", out)
	}
}
