package mailbox

import (
	"context"

	xerrors "AgentPair-Chain/internal/errors"
)

// Producer 负责向收件箱投递消息。
type Producer interface {
	Publish(ctx context.Context, msg Message) error
}

// Consumer 负责从收件箱取出消息。Receive 在队列为空时阻塞，
// 直到有新消息、ctx 被取消或队列关闭且已取空。
type Consumer interface {
	Receive(ctx context.Context) (Message, error)
}

// Queue 同时具备生产者与消费者能力，是单个智能体的收件箱。
type Queue interface {
	Producer
	Consumer
	Close() error
}

const (
	CodeQueueClosed xerrors.Code = "QUEUE_CLOSED"
	CodeQueueCodec  xerrors.Code = "QUEUE_CODEC_FAILED"
)

// ErrClosed 表示收件箱已关闭。
var ErrClosed = xerrors.New(CodeQueueClosed, "mailbox closed")

func init() {
	xerrors.Register(CodeQueueClosed, xerrors.Attributes{
		Message:  "mailbox closed",
		Severity: xerrors.SeverityInfo,
	})
	xerrors.Register(CodeQueueCodec, xerrors.Attributes{
		Message:  "mailbox payload could not be decoded",
		Severity: xerrors.SeverityWarning,
	})
}
