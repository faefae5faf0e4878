package agent

import (
	"context"
	"log/slog"

	"AgentPair-Chain/internal/mailbox"
	"AgentPair-Chain/pkg/logger"
)

// SendFunc 将消息投递给已连接的对端。
type SendFunc func(ctx context.Context, msg mailbox.Message) error

// Env 是处理器和行为在一次调用期间可见的运行环境。
type Env struct {
	agent  string
	state  *State
	send   SendFunc
	logger *slog.Logger
}

// NewEnv 构造运行环境，send 为 nil 时发送返回 ErrNotConnected。
func NewEnv(agent string, state *State, send SendFunc) *Env {
	if state == nil {
		state = NewState()
	}
	return &Env{agent: agent, state: state, send: send}
}

// Agent 返回当前智能体名称。
func (e *Env) Agent() string {
	return e.agent
}

// Logger 返回智能体的日志记录器，未设置时退回 logger.ForAgent。
func (e *Env) Logger() *slog.Logger {
	if e.logger == nil {
		return logger.ForAgent(e.agent)
	}
	return e.logger
}

// State 返回当前智能体状态。调用结束后不得再持有该引用。
func (e *Env) State() *State {
	return e.state
}

// Send 将消息发送给对端。
func (e *Env) Send(ctx context.Context, msg mailbox.Message) error {
	if e.send == nil {
		return ErrNotConnected
	}
	return e.send(ctx, msg)
}

// Emit 以当前智能体为发送方构造并发送消息。
func (e *Env) Emit(ctx context.Context, msgType, content string) (mailbox.Message, error) {
	msg := mailbox.NewMessage(msgType, content, e.agent)
	if err := e.Send(ctx, msg); err != nil {
		return mailbox.Message{}, err
	}
	return msg, nil
}
