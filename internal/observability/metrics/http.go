package metrics

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Message outcomes recorded by ObserveMessage.
const (
	OutcomeHandled = "handled"
	OutcomeDropped = "dropped"
	OutcomeFailed  = "failed"
	OutcomeOK      = "ok"
)

type messageKey struct {
	agent   string
	msgType string
	outcome string
}

type sendKey struct {
	agent   string
	msgType string
}

type behaviorKey struct {
	agent    string
	behavior string
}

type behaviorRunKey struct {
	behaviorKey
	outcome string
}

type histogram struct {
	buckets []float64
	counts  []uint64
	sum     float64
	count   uint64
}

// Collector accumulates agent counters in memory and renders them in the
// Prometheus text exposition format.
type Collector struct {
	mu       sync.Mutex
	messages map[messageKey]uint64
	sent     map[sendKey]uint64
	runs     map[behaviorRunKey]uint64
	latency  map[behaviorKey]*histogram
}

// NewCollector returns an empty collector.
func NewCollector() *Collector {
	return &Collector{
		messages: make(map[messageKey]uint64),
		sent:     make(map[sendKey]uint64),
		runs:     make(map[behaviorRunKey]uint64),
		latency:  make(map[behaviorKey]*histogram),
	}
}

var defaultCollector = NewCollector()

// Default returns the process-wide collector used by the package functions.
func Default() *Collector { return defaultCollector }

// ObserveMessage records the outcome of one inbound message.
func ObserveMessage(agent, msgType, outcome string) {
	defaultCollector.ObserveMessage(agent, msgType, outcome)
}

// ObserveSend records one outbound message.
func ObserveSend(agent, msgType string) {
	defaultCollector.ObserveSend(agent, msgType)
}

// ObserveBehavior records one behavior execution.
func ObserveBehavior(agent, behavior, outcome string, duration time.Duration) {
	defaultCollector.ObserveBehavior(agent, behavior, outcome, duration)
}

// ObserveMessage records the outcome of one inbound message.
func (c *Collector) ObserveMessage(agent, msgType, outcome string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages[messageKey{agent: agent, msgType: msgType, outcome: outcome}]++
}

// ObserveSend records one outbound message.
func (c *Collector) ObserveSend(agent, msgType string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent[sendKey{agent: agent, msgType: msgType}]++
}

// ObserveBehavior records one behavior execution and its duration.
func (c *Collector) ObserveBehavior(agent, behavior, outcome string, duration time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := behaviorKey{agent: agent, behavior: behavior}
	c.runs[behaviorRunKey{behaviorKey: key, outcome: outcome}]++
	hist := c.latency[key]
	if hist == nil {
		hist = newHistogram()
		c.latency[key] = hist
	}
	hist.observe(duration.Seconds())
}

func newHistogram() *histogram {
	buckets := []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5}
	return &histogram{
		buckets: buckets,
		counts:  make([]uint64, len(buckets)),
	}
}

// observe keeps cumulative bucket counts; values above the last bound only
// show up in the +Inf bucket, which is rendered from count.
func (h *histogram) observe(value float64) {
	h.count++
	h.sum += value
	for idx, bound := range h.buckets {
		if value <= bound {
			for i := idx; i < len(h.counts); i++ {
				h.counts[i]++
			}
			return
		}
	}
}

// Handler exposes the default collector in Prometheus text exposition format.
func Handler() http.Handler {
	return defaultCollector.Handler()
}

// Handler exposes the collector in Prometheus text exposition format.
func (c *Collector) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		_, _ = fmt.Fprint(w, c.Render())
	})
}

// Render returns the current counters as exposition text.
func (c *Collector) Render() string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var b strings.Builder
	b.Grow(1024)

	b.WriteString("# HELP agentpair_messages_total Inbound messages by dispatch outcome.\n")
	b.WriteString("# TYPE agentpair_messages_total counter\n")
	msgKeys := make([]messageKey, 0, len(c.messages))
	for k := range c.messages {
		msgKeys = append(msgKeys, k)
	}
	sort.Slice(msgKeys, func(i, j int) bool {
		a, z := msgKeys[i], msgKeys[j]
		if a.agent != z.agent {
			return a.agent < z.agent
		}
		if a.msgType != z.msgType {
			return a.msgType < z.msgType
		}
		return a.outcome < z.outcome
	})
	for _, k := range msgKeys {
		fmt.Fprintf(&b, "agentpair_messages_total{agent=\"%s\",type=\"%s\",outcome=\"%s\"} %d\n",
			escape(k.agent), escape(k.msgType), escape(k.outcome), c.messages[k])
	}

	b.WriteString("# HELP agentpair_messages_sent_total Outbound messages sent to the connected peer.\n")
	b.WriteString("# TYPE agentpair_messages_sent_total counter\n")
	sendKeys := make([]sendKey, 0, len(c.sent))
	for k := range c.sent {
		sendKeys = append(sendKeys, k)
	}
	sort.Slice(sendKeys, func(i, j int) bool {
		if sendKeys[i].agent != sendKeys[j].agent {
			return sendKeys[i].agent < sendKeys[j].agent
		}
		return sendKeys[i].msgType < sendKeys[j].msgType
	})
	for _, k := range sendKeys {
		fmt.Fprintf(&b, "agentpair_messages_sent_total{agent=\"%s\",type=\"%s\"} %d\n",
			escape(k.agent), escape(k.msgType), c.sent[k])
	}

	b.WriteString("# HELP agentpair_behavior_runs_total Behavior executions by outcome.\n")
	b.WriteString("# TYPE agentpair_behavior_runs_total counter\n")
	runKeys := make([]behaviorRunKey, 0, len(c.runs))
	for k := range c.runs {
		runKeys = append(runKeys, k)
	}
	sort.Slice(runKeys, func(i, j int) bool {
		a, z := runKeys[i], runKeys[j]
		if a.behaviorKey != z.behaviorKey {
			return lessBehavior(a.behaviorKey, z.behaviorKey)
		}
		return a.outcome < z.outcome
	})
	for _, k := range runKeys {
		fmt.Fprintf(&b, "agentpair_behavior_runs_total{agent=\"%s\",behavior=\"%s\",outcome=\"%s\"} %d\n",
			escape(k.agent), escape(k.behavior), escape(k.outcome), c.runs[k])
	}

	b.WriteString("# HELP agentpair_behavior_duration_seconds Behavior execution time in seconds.\n")
	b.WriteString("# TYPE agentpair_behavior_duration_seconds histogram\n")
	latKeys := make([]behaviorKey, 0, len(c.latency))
	for k := range c.latency {
		latKeys = append(latKeys, k)
	}
	sort.Slice(latKeys, func(i, j int) bool { return lessBehavior(latKeys[i], latKeys[j]) })
	for _, k := range latKeys {
		hist := c.latency[k]
		labels := fmt.Sprintf("agent=\"%s\",behavior=\"%s\"", escape(k.agent), escape(k.behavior))
		for idx, bound := range hist.buckets {
			fmt.Fprintf(&b, "agentpair_behavior_duration_seconds_bucket{%s,le=\"%s\"} %d\n", labels, formatFloat(bound), hist.counts[idx])
		}
		fmt.Fprintf(&b, "agentpair_behavior_duration_seconds_bucket{%s,le=\"+Inf\"} %d\n", labels, hist.count)
		fmt.Fprintf(&b, "agentpair_behavior_duration_seconds_sum{%s} %s\n", labels, formatFloat(hist.sum))
		fmt.Fprintf(&b, "agentpair_behavior_duration_seconds_count{%s} %d\n", labels, hist.count)
	}

	return b.String()
}

func lessBehavior(a, z behaviorKey) bool {
	if a.agent != z.agent {
		return a.agent < z.agent
	}
	return a.behavior < z.behavior
}

func escape(value string) string {
	value = strings.ReplaceAll(value, "\\", "\\\\")
	value = strings.ReplaceAll(value, "\"", "\\\"")
	value = strings.ReplaceAll(value, "\n", "")
	return value
}

func formatFloat(value float64) string {
	return strconv.FormatFloat(value, 'f', -1, 64)
}

// StartServer launches a standalone HTTP server exposing the /metrics endpoint
// and blocks until ctx is cancelled or the server fails.
func StartServer(ctx context.Context, addr string) error {
	if addr == "" {
		return errors.New("metrics address is empty")
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		defer close(errCh)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err, ok := <-errCh:
		if !ok {
			return nil
		}
		return err
	}
}
