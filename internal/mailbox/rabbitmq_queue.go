package mailbox

import (
	"context"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	xerrors "AgentPair-Chain/internal/errors"
)

// RabbitMQConfig 描述 RabbitMQ 收件箱的连接参数。
type RabbitMQConfig struct {
	URL        string
	Prefix     string
	Owner      string
	Prefetch   int
	Durable    bool
	AutoDelete bool
}

// RabbitMQQueue 使用 RabbitMQ 队列实现收件箱，消息体为 JSON，解码后手动确认。
type RabbitMQQueue struct {
	conn  *amqp.Connection
	ch    *amqp.Channel
	queue string

	mu         sync.Mutex
	deliveries <-chan amqp.Delivery
	closed     bool
}

// NewRabbitMQQueue 创建 RabbitMQ 收件箱实例。
func NewRabbitMQQueue(cfg RabbitMQConfig) (*RabbitMQQueue, error) {
	if cfg.URL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ URL 不能为空")
	}
	if cfg.Owner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "RabbitMQ 收件箱需要指定所属智能体")
	}
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentpair.inbox"
	}
	queue := prefix + "." + cfg.Owner

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 RabbitMQ 失败")
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "创建 RabbitMQ channel 失败")
	}
	if cfg.Prefetch > 0 {
		if err := ch.Qos(cfg.Prefetch, 0, false); err != nil {
			ch.Close()
			conn.Close()
			return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "设置 RabbitMQ QOS 失败")
		}
	}
	if _, err := ch.QueueDeclare(queue, cfg.Durable, cfg.AutoDelete, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "声明 RabbitMQ 队列失败")
	}
	return &RabbitMQQueue{conn: conn, ch: ch, queue: queue}, nil
}

// Publish 将消息投递到 RabbitMQ。
func (q *RabbitMQQueue) Publish(ctx context.Context, msg Message) error {
	q.mu.Lock()
	closed := q.closed
	q.mu.Unlock()
	if closed {
		return ErrClosed
	}
	payload, err := encode(msg)
	if err != nil {
		return xerrors.Wrap(CodeQueueCodec, err, "")
	}
	err = q.ch.PublishWithContext(ctx, "", q.queue, false, false, amqp.Publishing{
		ContentType: "application/json",
		MessageId:   msg.ID,
		Body:        payload,
	})
	if err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "RabbitMQ 投递消息失败")
	}
	return nil
}

// Receive 从 RabbitMQ 读取一条消息，首次调用时注册消费者。
func (q *RabbitMQQueue) Receive(ctx context.Context) (Message, error) {
	deliveries, err := q.subscribe()
	if err != nil {
		return Message{}, err
	}
	select {
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case d, ok := <-deliveries:
		if !ok {
			return Message{}, ErrClosed
		}
		msg, err := decode(d.Body)
		if err != nil {
			// 无法解析的消息不会被重新投递。
			_ = d.Nack(false, false)
			return Message{}, xerrors.Wrap(CodeQueueCodec, err, fmt.Sprintf("丢弃无法解析的消息 (%s)", q.queue))
		}
		_ = d.Ack(false)
		return msg, nil
	}
}

func (q *RabbitMQQueue) subscribe() (<-chan amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	if q.deliveries != nil {
		return q.deliveries, nil
	}
	deliveries, err := q.ch.Consume(q.queue, "", false, false, false, false, nil)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "订阅 RabbitMQ 队列失败")
	}
	q.deliveries = deliveries
	return deliveries, nil
}

// Close 关闭 RabbitMQ 连接，可重复调用。
func (q *RabbitMQQueue) Close() error {
	if q == nil {
		return nil
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil
	}
	q.closed = true
	if q.ch != nil {
		_ = q.ch.Close()
	}
	if q.conn != nil {
		return q.conn.Close()
	}
	return nil
}
