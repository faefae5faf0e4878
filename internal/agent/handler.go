package agent

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/mailbox"
)

// Handler 处理一条与其注册类型匹配的消息。
type Handler interface {
	Handle(ctx context.Context, msg mailbox.Message, env *Env) error
}

// HandlerFunc 将普通函数适配为 Handler。
type HandlerFunc func(ctx context.Context, msg mailbox.Message, env *Env) error

// Handle 调用 f。
func (f HandlerFunc) Handle(ctx context.Context, msg mailbox.Message, env *Env) error {
	return f(ctx, msg, env)
}

// HandlerRegistry 将消息类型映射到处理器，同一类型后注册者覆盖先注册者。
type HandlerRegistry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewHandlerRegistry 创建空的处理器注册表。
func NewHandlerRegistry() *HandlerRegistry {
	return &HandlerRegistry{handlers: make(map[string]Handler)}
}

// Register 为消息类型注册处理器，已有注册时直接覆盖。
func (r *HandlerRegistry) Register(msgType string, h Handler) error {
	msgType = strings.TrimSpace(msgType)
	if msgType == "" {
		return xerrors.New(CodeInvalidUnit, "消息类型不能为空")
	}
	if h == nil {
		return xerrors.Newf(CodeInvalidUnit, "消息类型 %s 的处理器不能为空", msgType)
	}
	r.mu.Lock()
	r.handlers[msgType] = h
	r.mu.Unlock()
	return nil
}

// Unregister 移除消息类型的处理器，返回是否存在。
func (r *HandlerRegistry) Unregister(msgType string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.handlers[msgType]
	delete(r.handlers, msgType)
	return ok
}

// Lookup 返回消息类型对应的处理器。
func (r *HandlerRegistry) Lookup(msgType string) (Handler, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[msgType]
	return h, ok
}

// Types 返回已注册的消息类型，按字典序排列。
func (r *HandlerRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	types := make([]string, 0, len(r.handlers))
	for t := range r.handlers {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}

// Dispatch 查找消息类型对应的处理器并同步调用。
// 未注册时返回 CodeDispatchMiss 错误（errors.Is 可与 ErrNoHandler 匹配）；处理器返回的错误或 panic 统一转换为带错误码的错误。
func (r *HandlerRegistry) Dispatch(ctx context.Context, msg mailbox.Message, env *Env) error {
	msgType := msg.RouteType()
	h, ok := r.Lookup(msgType)
	if !ok {
		return xerrors.New(CodeDispatchMiss, fmt.Sprintf("消息类型 %s 没有注册处理器", msgType),
			xerrors.WithMetadata("message_type", msgType))
	}
	if err := invokeHandler(ctx, h, msg, env); err != nil {
		if _, coded := xerrors.From(err); coded {
			return err
		}
		return xerrors.Wrap(CodeHandlerFailed, err, fmt.Sprintf("处理 %s 消息失败", msgType),
			xerrors.WithMetadata("message_type", msgType))
	}
	return nil
}

func invokeHandler(ctx context.Context, h Handler, msg mailbox.Message, env *Env) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = xerrors.New(CodeHandlerFailed, fmt.Sprintf("处理器 panic: %v", r),
				xerrors.WithMetadata("message_type", msg.RouteType()))
		}
	}()
	return h.Handle(ctx, msg, env)
}
