package main

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"AgentPair-Chain/internal/agent"
	"AgentPair-Chain/internal/api"
	"AgentPair-Chain/internal/builtin"
	"AgentPair-Chain/internal/config"
	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/mailbox"
	"AgentPair-Chain/internal/observability/alerting"
	"AgentPair-Chain/internal/observability/metrics"
	"AgentPair-Chain/internal/web3"
	"AgentPair-Chain/internal/web3/provider"
	"AgentPair-Chain/pkg/logger"
)

// main 是 agentpaird 演示进程的入口。
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		logger.L().Error("agentpaird 运行失败", xerrors.LogAttrs(err)...)
		_ = logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(os.Getenv("AGENTPAIR_CONFIG"))
	if err != nil {
		return err
	}

	if err := logger.Init(logger.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		OutputPaths: cfg.Logging.Outputs,
		Audit: logger.AuditConfig{
			Enabled:    cfg.Logging.Audit.Enabled,
			Path:       cfg.Logging.Audit.Path,
			MaxSizeMB:  cfg.Logging.Audit.MaxSizeMB,
			MaxBackups: cfg.Logging.Audit.MaxBackups,
			MaxAgeDays: cfg.Logging.Audit.MaxAgeDays,
		},
	}); err != nil {
		return err
	}
	defer logger.Sync()
	log := logger.Named("agentpaird")

	dispatcher := alerting.NewFanout(&alerting.AuditNotifier{Logger: logger.Audit()})

	agents := make([]*agent.Agent, 0, len(cfg.Agents.Names))
	for _, name := range cfg.Agents.Names {
		inbox, err := mailbox.Open(ctx, mailbox.Options{
			Driver: cfg.Mailbox.Driver,
			Owner:  name,
			Redis: mailbox.RedisQueueConfig{
				Address:   cfg.Mailbox.Redis.Address,
				Password:  cfg.Mailbox.Redis.Password,
				DB:        cfg.Mailbox.Redis.DB,
				Prefix:    cfg.Mailbox.Redis.Prefix,
				BlockWait: cfg.Mailbox.Redis.Block.Std(),
			},
			RabbitMQ: mailbox.RabbitMQConfig{
				URL:      cfg.Mailbox.RabbitMQ.URL,
				Prefix:   cfg.Mailbox.RabbitMQ.Prefix,
				Prefetch: cfg.Mailbox.RabbitMQ.Prefetch,
				Durable:  cfg.Mailbox.RabbitMQ.Durable,
			},
		})
		if err != nil {
			closeAgents(agents)
			return err
		}
		ag := agent.New(name,
			agent.WithInbox(inbox),
			agent.WithPollInterval(cfg.Agents.PollInterval.Std()),
			agent.WithAlertDispatcher(dispatcher),
		)
		if err := builtin.RegisterDefaults(ag, cfg.Agents.MessageInterval.Std()); err != nil {
			closeAgents(append(agents, ag))
			return err
		}
		agents = append(agents, ag)
	}

	if cfg.Token.Enabled() {
		registry, err := wireToken(ctx, cfg, agents)
		if err != nil {
			closeAgents(agents)
			return err
		}
		defer registry.Close()
	} else {
		log.Info("未配置代币地址，跳过代币行为")
	}

	pair, err := agent.NewPair(agents[0], agents[1])
	if err != nil {
		closeAgents(agents)
		return err
	}
	if err := pair.Start(ctx); err != nil {
		closeAgents(agents)
		return err
	}
	log.Info("智能体已启动，按 Ctrl+C 停止",
		slog.String("mailbox", cfg.Mailbox.Driver),
		slog.Any("agents", cfg.Agents.Names),
		slog.Duration("message_interval", cfg.Agents.MessageInterval.Std()),
	)

	g, gctx := errgroup.WithContext(ctx)
	if addr := cfg.Metrics.Address; addr != "" {
		g.Go(func() error {
			log.Info("指标端点已启动", slog.String("address", addr))
			if err := metrics.StartServer(gctx, addr); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	if addr := cfg.API.Address; addr != "" {
		server := api.NewServer(addr, agents...)
		g.Go(func() error {
			log.Info("状态接口已启动", slog.String("address", addr))
			if err := server.Start(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		log.Info("收到停止信号，正在停止智能体")
		return pair.Close()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	for _, ag := range agents {
		stats := ag.Stats()
		log.Info("智能体统计",
			slog.String("agent", ag.Name()),
			slog.Int64("received", stats.Received),
			slog.Int64("handled", stats.Handled),
			slog.Int64("dropped", stats.Dropped),
			slog.Int64("sent", stats.Sent),
			slog.Int64("behavior_runs", stats.BehaviorRuns),
		)
	}
	return nil
}

// wireToken 为两个智能体装配代币行为，返回需要在退出时关闭的注册表。
func wireToken(ctx context.Context, cfg *config.Config, agents []*agent.Agent) (*provider.Registry, error) {
	registry, err := provider.NewRegistry(ctx, cfg.Web3, cfg.Token)
	if err != nil {
		return nil, err
	}
	bridge, err := registry.Default()
	if err != nil {
		registry.Close()
		return nil, err
	}

	var decimals uint8
	if reader, ok := bridge.(web3.DecimalsReader); ok {
		if decimals, err = reader.Decimals(ctx); err != nil {
			registry.Close()
			return nil, err
		}
	}
	threshold, err := web3.ParseUnits(cfg.Token.Threshold, decimals)
	if err != nil {
		registry.Close()
		return nil, err
	}
	amount, err := web3.ParseUnits(cfg.Token.TransferAmount, decimals)
	if err != nil {
		registry.Close()
		return nil, err
	}

	units := builtin.TokenUnits{
		Bridge:    bridge,
		Source:    cfg.Token.SourceAddress,
		Target:    cfg.Token.TargetAddress,
		Threshold: threshold,
		Amount:    amount,
		Keyword:   cfg.Token.Keyword,
	}
	for _, ag := range agents {
		if err := builtin.RegisterToken(ag, units, cfg.Token.CheckInterval.Std(), cfg.Token.ReportInterval.Std()); err != nil {
			registry.Close()
			return nil, err
		}
	}

	logger.Named("agentpaird").Info("代币行为已装配",
		slog.String("chain", registry.DefaultChain()),
		slog.String("threshold", web3.FormatUnits(threshold, decimals)),
		slog.String("amount", web3.FormatUnits(amount, decimals)),
		slog.String("keyword", cfg.Token.Keyword),
	)
	return registry, nil
}

func closeAgents(agents []*agent.Agent) {
	for _, ag := range agents {
		_ = ag.Close()
	}
}
