package agent

import (
	"context"
	stdErrors "errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/mailbox"
	"AgentPair-Chain/internal/observability/alerting"
	"AgentPair-Chain/internal/observability/metrics"
	"AgentPair-Chain/pkg/logger"
)

// DefaultPollInterval 是行为循环检查到期行为的周期。
const DefaultPollInterval = 50 * time.Millisecond

// Stats 汇总智能体运行期间的计数。
type Stats struct {
	Received         int64 `json:"received"`
	Handled          int64 `json:"handled"`
	Dropped          int64 `json:"dropped"`
	HandlerFailures  int64 `json:"handler_failures"`
	BehaviorRuns     int64 `json:"behavior_runs"`
	BehaviorFailures int64 `json:"behavior_failures"`
	Sent             int64 `json:"sent"`
}

type counters struct {
	received, handled, dropped, handlerFailures atomic.Int64
	behaviorRuns, behaviorFailures, sent        atomic.Int64
}

// Agent 拥有一个收件箱、一个处理器注册表、一个行为注册表和一份状态，
// 运行时并发执行消息循环与行为循环。两个循环对状态的访问由同一把锁串行化，
// 锁只在单次处理器或行为调用期间持有。
type Agent struct {
	name      string
	inbox     mailbox.Queue
	handlers  *HandlerRegistry
	behaviors *BehaviorRegistry
	logger    *slog.Logger
	alerter   alerting.Dispatcher
	poll      time.Duration
	now       func() time.Time

	stateMu sync.Mutex
	state   *State

	peerMu   sync.RWMutex
	peer     mailbox.Producer
	peerName string

	lifeMu  sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	stats counters
}

// Option 定义可选的 Agent 配置。
type Option func(*Agent)

// WithInbox 指定收件箱实现，默认使用内存队列。
func WithInbox(q mailbox.Queue) Option {
	return func(a *Agent) {
		if q != nil {
			a.inbox = q
		}
	}
}

// WithPollInterval 设置行为循环的检查周期。
func WithPollInterval(d time.Duration) Option {
	return func(a *Agent) {
		if d > 0 {
			a.poll = d
		}
	}
}

// WithLogger 指定日志输出。
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) {
		if l != nil {
			a.logger = l
		}
	}
}

// WithClock 替换行为调度使用的时钟，主要用于测试。
func WithClock(now func() time.Time) Option {
	return func(a *Agent) {
		if now != nil {
			a.now = now
		}
	}
}

// WithAlertDispatcher 配置告警派发器，只有错误码要求告警的失败才会派发。
func WithAlertDispatcher(d alerting.Dispatcher) Option {
	return func(a *Agent) {
		a.alerter = d
	}
}

// New 创建一个尚未启动的 Agent。
func New(name string, opts ...Option) *Agent {
	if name == "" {
		name = "agent-" + uuid.NewString()[:8]
	}
	a := &Agent{
		name:  name,
		poll:  DefaultPollInterval,
		now:   time.Now,
		state: NewState(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(a)
		}
	}
	if a.inbox == nil {
		a.inbox = mailbox.NewMemoryQueue(0)
	}
	if a.logger == nil {
		a.logger = logger.ForAgent(name)
	}
	a.handlers = NewHandlerRegistry()
	a.behaviors = NewBehaviorRegistry(a.now)
	return a
}

// Name 返回智能体名称。
func (a *Agent) Name() string {
	return a.name
}

// Inbox 返回智能体的收件箱，对端通过它投递消息。
func (a *Agent) Inbox() mailbox.Queue {
	return a.inbox
}

// Handlers 返回处理器注册表。
func (a *Agent) Handlers() *HandlerRegistry {
	return a.handlers
}

// Behaviors 返回行为注册表。
func (a *Agent) Behaviors() *BehaviorRegistry {
	return a.behaviors
}

// RegisterHandler 为消息类型注册处理器，覆盖已有注册。
func (a *Agent) RegisterHandler(msgType string, h Handler) error {
	if err := a.handlers.Register(msgType, h); err != nil {
		return err
	}
	a.logger.Info("注册消息处理器", slog.String("message_type", msgType))
	return nil
}

// RegisterBehavior 注册按 interval 执行的行为，覆盖同名行为。
func (a *Agent) RegisterBehavior(name string, b Behavior, interval time.Duration) error {
	if err := a.behaviors.Register(name, b, interval); err != nil {
		return err
	}
	a.logger.Info("注册行为", slog.String("behavior", name), slog.Duration("interval", interval))
	return nil
}

// UnregisterHandler 移除消息类型的处理器。
func (a *Agent) UnregisterHandler(msgType string) bool {
	return a.handlers.Unregister(msgType)
}

// RemoveBehavior 移除行为。
func (a *Agent) RemoveBehavior(name string) bool {
	return a.behaviors.Remove(name)
}

// Connect 将对端收件箱设为发送目标。
func (a *Agent) Connect(peerName string, peer mailbox.Producer) {
	a.peerMu.Lock()
	a.peer = peer
	a.peerName = peerName
	a.peerMu.Unlock()
	a.logger.Info("已连接对端", slog.String("peer", peerName))
}

// Peer 返回已连接对端的名称。
func (a *Agent) Peer() string {
	a.peerMu.RLock()
	defer a.peerMu.RUnlock()
	return a.peerName
}

// Send 向已连接的对端发送消息。
func (a *Agent) Send(ctx context.Context, msg mailbox.Message) error {
	a.peerMu.RLock()
	peer, peerName := a.peer, a.peerName
	a.peerMu.RUnlock()
	if peer == nil {
		return ErrNotConnected
	}
	if err := peer.Publish(ctx, msg); err != nil {
		return err
	}
	a.stats.sent.Add(1)
	metrics.ObserveSend(a.name, msg.RouteType())
	a.logger.Debug("发送消息",
		slog.String("peer", peerName),
		slog.String("message_id", msg.ID),
		slog.String("message_type", msg.RouteType()),
		slog.String("content", msg.Content),
	)
	return nil
}

// Start 启动消息循环与行为循环。ctx 被取消或调用 Stop 时两个循环都会退出。
func (a *Agent) Start(ctx context.Context) error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if a.running {
		return ErrAlreadyRunning
	}

	loopCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel
	a.running = true

	a.wg.Add(2)
	go a.messageLoop(loopCtx)
	go a.behaviorLoop(loopCtx)

	a.logger.Info("智能体已启动",
		slog.Any("handlers", a.handlers.Types()),
		slog.Any("behaviors", a.behaviors.Names()),
	)
	return nil
}

// Stop 通知两个循环退出并等待它们结束，可重复调用。
func (a *Agent) Stop() error {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	if !a.running {
		return nil
	}
	a.cancel()
	a.wg.Wait()
	a.cancel = nil
	a.running = false

	stats := a.Stats()
	a.logger.Info("智能体已停止",
		slog.Int64("received", stats.Received),
		slog.Int64("handled", stats.Handled),
		slog.Int64("behavior_runs", stats.BehaviorRuns),
	)
	return nil
}

// Close 停止智能体并关闭收件箱。
func (a *Agent) Close() error {
	return stdErrors.Join(a.Stop(), a.inbox.Close())
}

// Running 判断智能体是否处于运行状态。
func (a *Agent) Running() bool {
	a.lifeMu.Lock()
	defer a.lifeMu.Unlock()
	return a.running
}

// Stats 返回计数快照。
func (a *Agent) Stats() Stats {
	return Stats{
		Received:         a.stats.received.Load(),
		Handled:          a.stats.handled.Load(),
		Dropped:          a.stats.dropped.Load(),
		HandlerFailures:  a.stats.handlerFailures.Load(),
		BehaviorRuns:     a.stats.behaviorRuns.Load(),
		BehaviorFailures: a.stats.behaviorFailures.Load(),
		Sent:             a.stats.sent.Load(),
	}
}

// Snapshot 在状态锁内复制当前状态。
func (a *Agent) Snapshot() map[string]any {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state.Snapshot()
}

// Value 在状态锁内读取单个状态值。
func (a *Agent) Value(key string) (any, bool) {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	return a.state.Get(key)
}

func (a *Agent) withState(fn func(env *Env) error) error {
	a.stateMu.Lock()
	defer a.stateMu.Unlock()
	env := NewEnv(a.name, a.state, a.Send)
	env.logger = a.logger
	return fn(env)
}

func (a *Agent) messageLoop(ctx context.Context) {
	defer a.wg.Done()
	for {
		msg, err := a.inbox.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil || stdErrors.Is(err, mailbox.ErrClosed) {
				return
			}
			a.logger.Error("读取收件箱失败", xerrors.LogAttrs(err)...)
			if xerrors.CodeOf(err) == mailbox.CodeQueueCodec {
				continue
			}
			a.alert(ctx, "mailbox", "receive", err)
			// 传输层故障时等待一个周期再重试读取，避免空转。
			select {
			case <-ctx.Done():
				return
			case <-time.After(a.poll):
			}
			continue
		}
		a.dispatch(ctx, msg)
	}
}

func (a *Agent) dispatch(ctx context.Context, msg mailbox.Message) {
	a.stats.received.Add(1)
	msgType := msg.RouteType()

	err := a.withState(func(env *Env) error {
		return a.handlers.Dispatch(ctx, msg, env)
	})
	switch {
	case err == nil:
		a.stats.handled.Add(1)
		metrics.ObserveMessage(a.name, msgType, metrics.OutcomeHandled)
		a.logger.Debug("消息已处理",
			slog.String("message_id", msg.ID),
			slog.String("message_type", msgType),
			slog.String("from", msg.From),
		)
	case xerrors.CodeOf(err) == CodeDispatchMiss:
		a.stats.dropped.Add(1)
		metrics.ObserveMessage(a.name, msgType, metrics.OutcomeDropped)
		a.logger.Warn("没有匹配的处理器，丢弃消息",
			slog.String("message_id", msg.ID),
			slog.String("message_type", msgType),
			slog.String("from", msg.From),
		)
	default:
		a.stats.handlerFailures.Add(1)
		metrics.ObserveMessage(a.name, msgType, metrics.OutcomeFailed)
		attrs := append([]any{slog.String("handler", msgType), slog.String("message_id", msg.ID)}, xerrors.LogAttrs(err)...)
		a.logger.Error("处理消息失败", attrs...)
		a.alert(ctx, "handler", msgType, err)
	}
}

func (a *Agent) behaviorLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.poll)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.runDue(ctx)
		}
	}
}

// runDue 按注册顺序同步执行所有到期行为，每个行为之间检查一次停止信号。
func (a *Agent) runDue(ctx context.Context) {
	for _, sb := range a.behaviors.RunDue(a.now()) {
		if ctx.Err() != nil {
			return
		}
		started := time.Now()
		err := a.withState(func(env *Env) error {
			return invokeBehavior(ctx, sb, env)
		})
		elapsed := time.Since(started)
		a.stats.behaviorRuns.Add(1)
		if err == nil {
			metrics.ObserveBehavior(a.name, sb.Name, metrics.OutcomeOK, elapsed)
			continue
		}
		a.stats.behaviorFailures.Add(1)
		metrics.ObserveBehavior(a.name, sb.Name, metrics.OutcomeFailed, elapsed)
		attrs := append([]any{slog.String("behavior", sb.Name), slog.Duration("elapsed", elapsed)}, xerrors.LogAttrs(err)...)
		a.logger.Error("执行行为失败", attrs...)
		a.alert(ctx, "behavior", sb.Name, err)
	}
}

func (a *Agent) alert(ctx context.Context, stage, unit string, err error) {
	if a.alerter == nil || !xerrors.ShouldAlert(err) {
		return
	}
	event := alerting.EventFromError(a.name, unit, stage, err)
	if notifyErr := a.alerter.Notify(context.WithoutCancel(ctx), event); notifyErr != nil {
		a.logger.Error("告警通知失败",
			slog.Any("error", notifyErr),
			slog.String("stage", stage),
			slog.String(stage, unit),
		)
	}
}
