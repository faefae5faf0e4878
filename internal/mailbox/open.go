package mailbox

import (
	"context"
	"strings"
	"time"

	xerrors "AgentPair-Chain/internal/errors"
)

// 支持的收件箱驱动。
const (
	DriverMemory   = "memory"
	DriverRedis    = "redis"
	DriverRabbitMQ = "rabbitmq"
)

// Options 汇总创建收件箱所需的全部参数。
type Options struct {
	Driver   string
	Owner    string
	Size     int
	Redis    RedisQueueConfig
	RabbitMQ RabbitMQConfig
}

// Open 根据驱动名称创建某个智能体的收件箱。
func Open(ctx context.Context, opts Options) (Queue, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return NewMemoryQueue(opts.Size), nil
	case DriverRedis:
		cfg := opts.Redis
		cfg.Owner = opts.Owner
		if cfg.BlockWait <= 0 {
			cfg.BlockWait = time.Second
		}
		return NewRedisQueue(ctx, cfg)
	case DriverRabbitMQ:
		cfg := opts.RabbitMQ
		cfg.Owner = opts.Owner
		return NewRabbitMQQueue(cfg)
	default:
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "未知的收件箱驱动: %s", opts.Driver)
	}
}
