package agent

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	xerrors "AgentPair-Chain/internal/errors"
)

// Connect 将两个智能体的收件箱双向连接。
func Connect(a, b *Agent) {
	a.Connect(b.Name(), b.Inbox())
	b.Connect(a.Name(), a.Inbox())
}

// Pair 是双向连接的两个智能体。
type Pair struct {
	a, b *Agent
}

// NewPair 连接两个智能体并返回 Pair。
func NewPair(a, b *Agent) (*Pair, error) {
	if a == nil || b == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "智能体不能为空")
	}
	if a == b || a.Name() == b.Name() {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "智能体名称必须不同: %s", a.Name())
	}
	Connect(a, b)
	return &Pair{a: a, b: b}, nil
}

// Agents 返回组成 Pair 的两个智能体。
func (p *Pair) Agents() (*Agent, *Agent) {
	return p.a, p.b
}

// Start 依次启动两个智能体，第二个启动失败时停止第一个。
func (p *Pair) Start(ctx context.Context) error {
	if err := p.a.Start(ctx); err != nil {
		return fmt.Errorf("start %s: %w", p.a.Name(), err)
	}
	if err := p.b.Start(ctx); err != nil {
		_ = p.a.Stop()
		return fmt.Errorf("start %s: %w", p.b.Name(), err)
	}
	return nil
}

// Stop 并行停止两个智能体并等待全部循环退出。
func (p *Pair) Stop() error {
	var g errgroup.Group
	g.Go(p.a.Stop)
	g.Go(p.b.Stop)
	return g.Wait()
}

// Close 停止两个智能体后关闭各自的收件箱。
func (p *Pair) Close() error {
	if err := p.Stop(); err != nil {
		return err
	}
	var g errgroup.Group
	g.Go(p.a.Close)
	g.Go(p.b.Close)
	return g.Wait()
}
