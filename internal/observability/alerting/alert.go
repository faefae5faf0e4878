package alerting

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/pkg/logger"
)

// Channel 表示通知渠道。
type Channel string

const (
	ChannelAudit Channel = "audit"
	ChannelLog   Channel = "log"
)

// Event 描述一次需要告警的失败。
type Event struct {
	Code       xerrors.Code
	Message    string
	Severity   xerrors.Severity
	Agent      string
	Unit       string
	Stage      string
	Metadata   map[string]string
	OccurredAt time.Time
}

// Notifier 负责将事件发送到指定渠道。
type Notifier interface {
	Channel() Channel
	Notify(ctx context.Context, event Event) error
}

// Dispatcher 将事件广播给多个通知器。
type Dispatcher interface {
	Notify(ctx context.Context, event Event) error
}

// FanoutDispatcher 将事件投递到每个渠道各一个通知器。
type FanoutDispatcher struct {
	notifiers map[Channel]Notifier
}

// NewFanout 创建 FanoutDispatcher，同一渠道后注册的通知器覆盖先注册的。
func NewFanout(notifiers ...Notifier) *FanoutDispatcher {
	set := make(map[Channel]Notifier, len(notifiers))
	for _, n := range notifiers {
		if n == nil {
			continue
		}
		set[n.Channel()] = n
	}
	return &FanoutDispatcher{notifiers: set}
}

// Channels 返回已注册的渠道。
func (d *FanoutDispatcher) Channels() []Channel {
	if d == nil {
		return nil
	}
	channels := make([]Channel, 0, len(d.notifiers))
	for c := range d.notifiers {
		channels = append(channels, c)
	}
	sort.Slice(channels, func(i, j int) bool { return channels[i] < channels[j] })
	return channels
}

// Notify 将事件广播至所有注册渠道，单个渠道失败不影响其他渠道。
func (d *FanoutDispatcher) Notify(ctx context.Context, event Event) error {
	if d == nil {
		return nil
	}
	var errs []error
	for _, channel := range d.Channels() {
		notifier := d.notifiers[channel]
		if err := notifier.Notify(ctx, event); err != nil {
			errs = append(errs, fmt.Errorf("channel %s: %w", channel, err))
		}
	}
	return errors.Join(errs...)
}

// EventFromError 根据错误码属性构造告警事件。
func EventFromError(agent, unit, stage string, err error) Event {
	code := xerrors.CodeOf(err)
	message := xerrors.AttributesOf(code).Message
	if err != nil {
		message = err.Error()
	}
	var metadata map[string]string
	if e, ok := xerrors.From(err); ok {
		metadata = e.Metadata()
	}
	return Event{
		Code:       code,
		Message:    message,
		Severity:   xerrors.SeverityOf(err),
		Agent:      agent,
		Unit:       unit,
		Stage:      stage,
		Metadata:   metadata,
		OccurredAt: time.Now(),
	}
}

// AuditNotifier 将告警写入审计日志。
type AuditNotifier struct {
	Logger *slog.Logger
}

// Channel 返回审计渠道。
func (n *AuditNotifier) Channel() Channel { return ChannelAudit }

// Notify 记录一条审计日志。
func (n *AuditNotifier) Notify(_ context.Context, event Event) error {
	l := logger.Audit()
	if n != nil && n.Logger != nil {
		l = n.Logger
	}
	attrs := []any{
		slog.String("code", string(event.Code)),
		slog.String("severity", string(event.Severity)),
		slog.String("agent", event.Agent),
		slog.String("unit", event.Unit),
		slog.String("stage", event.Stage),
		slog.Time("occurred_at", event.OccurredAt),
	}
	for k, v := range event.Metadata {
		attrs = append(attrs, slog.String("meta."+k, v))
	}
	l.Warn(event.Message, attrs...)
	return nil
}

// FuncNotifier 将任意函数适配为通知器，便于接入自定义渠道。
type FuncNotifier struct {
	Name Channel
	Fn   func(ctx context.Context, event Event) error
}

// Channel 返回通知器渠道。
func (n FuncNotifier) Channel() Channel { return n.Name }

// Notify 调用底层函数。
func (n FuncNotifier) Notify(ctx context.Context, event Event) error {
	if n.Fn == nil {
		logger.L().Warn("FuncNotifier 未配置回调，跳过发送", slog.String("channel", string(n.Name)))
		return nil
	}
	return n.Fn(ctx, event)
}
