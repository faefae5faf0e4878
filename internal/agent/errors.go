package agent

import (
	xerrors "AgentPair-Chain/internal/errors"
)

const (
	CodeDispatchMiss   xerrors.Code = "DISPATCH_MISS"
	CodeHandlerFailed  xerrors.Code = "HANDLER_FAILED"
	CodeBehaviorFailed xerrors.Code = "BEHAVIOR_FAILED"
	CodeNotConnected   xerrors.Code = "NOT_CONNECTED"
	CodeAlreadyRunning xerrors.Code = "AGENT_ALREADY_RUNNING"
	CodeInvalidUnit    xerrors.Code = "INVALID_REGISTRATION"
)

var (
	// ErrNoHandler 表示消息类型没有注册处理器，消息被丢弃。
	ErrNoHandler = xerrors.New(CodeDispatchMiss, "no handler registered for message type")
	// ErrNotConnected 表示智能体尚未连接对端，无法发送消息。
	ErrNotConnected = xerrors.New(CodeNotConnected, "agent has no connected peer")
	// ErrAlreadyRunning 表示重复启动同一个智能体。
	ErrAlreadyRunning = xerrors.New(CodeAlreadyRunning, "agent already running")
)

func init() {
	xerrors.Register(CodeDispatchMiss, xerrors.Attributes{
		Message:  "no handler registered for message type",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeHandlerFailed, xerrors.Attributes{
		Message:  "handler execution failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeBehaviorFailed, xerrors.Attributes{
		Message:  "behavior execution failed",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeNotConnected, xerrors.Attributes{
		Message:  "agent has no connected peer",
		Severity: xerrors.SeverityWarning,
	})
	xerrors.Register(CodeAlreadyRunning, xerrors.Attributes{
		Message:  "agent already running",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeInvalidUnit, xerrors.Attributes{
		Message:  "invalid handler or behavior registration",
		Severity: xerrors.SeverityInfo,
	})
}
