package mailbox

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	xerrors "AgentPair-Chain/internal/errors"
)

// RedisQueueConfig 描述 Redis 收件箱的连接参数。
type RedisQueueConfig struct {
	Address   string
	Password  string
	DB        int
	Prefix    string
	Owner     string
	BlockWait time.Duration
}

// RedisQueue 使用 Redis list 实现收件箱：LPUSH 入队、BRPOP 出队，保持 FIFO。
type RedisQueue struct {
	client *redis.Client
	key    string
	wait   time.Duration
	closed atomic.Bool
}

// NewRedisQueue 创建 Redis 收件箱实例，每个智能体使用独立的 list。
func NewRedisQueue(ctx context.Context, cfg RedisQueueConfig) (*RedisQueue, error) {
	if cfg.Address == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis address 不能为空")
	}
	if cfg.Owner == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "Redis 收件箱需要指定所属智能体")
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, xerrors.Wrap(xerrors.CodeQueueFailure, err, "连接 Redis 失败")
	}
	return newRedisQueue(client, cfg), nil
}

func newRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	prefix := cfg.Prefix
	if prefix == "" {
		prefix = "agentpair:inbox"
	}
	wait := cfg.BlockWait
	if wait <= 0 {
		wait = time.Second
	}
	return &RedisQueue{client: client, key: prefix + ":" + cfg.Owner, wait: wait}
}

// Key 返回收件箱对应的 Redis key。
func (q *RedisQueue) Key() string {
	return q.key
}

// Publish 将消息投递到 Redis。
func (q *RedisQueue) Publish(ctx context.Context, msg Message) error {
	if q.closed.Load() {
		return ErrClosed
	}
	payload, err := encode(msg)
	if err != nil {
		return xerrors.Wrap(CodeQueueCodec, err, "")
	}
	if err := q.client.LPush(ctx, q.key, payload).Err(); err != nil {
		return xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 投递消息失败")
	}
	return nil
}

// Receive 通过 BRPOP 获取消息。每次阻塞不超过 BlockWait，之后重新检查 ctx。
func (q *RedisQueue) Receive(ctx context.Context) (Message, error) {
	for {
		if q.closed.Load() {
			return Message{}, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return Message{}, err
		}
		values, err := q.client.BRPop(ctx, q.wait, q.key).Result()
		if err != nil {
			switch {
			case errors.Is(err, redis.Nil):
				continue
			case ctx.Err() != nil:
				return Message{}, ctx.Err()
			case errors.Is(err, redis.ErrClosed):
				return Message{}, ErrClosed
			default:
				return Message{}, xerrors.Wrap(xerrors.CodeQueueFailure, err, "Redis 取消息失败")
			}
		}
		if len(values) != 2 {
			continue
		}
		msg, err := decode([]byte(values[1]))
		if err != nil {
			return Message{}, xerrors.Wrap(CodeQueueCodec, err, fmt.Sprintf("丢弃无法解析的消息 (%s)", q.key))
		}
		return msg, nil
	}
}

// Close 关闭 Redis 连接，可重复调用。
func (q *RedisQueue) Close() error {
	if q == nil || q.client == nil || !q.closed.CompareAndSwap(false, true) {
		return nil
	}
	return q.client.Close()
}
