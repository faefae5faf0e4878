package builtin

import (
	"context"
	"math/rand/v2"
	"slices"
	"strings"
	"sync"

	"AgentPair-Chain/internal/agent"
	"AgentPair-Chain/internal/mailbox"
)

// Vocabulary 是随机消息使用的固定词表。
var Vocabulary = []string{
	"hello", "sun", "world", "space", "moon",
	"crypto", "sky", "ocean", "universe", "human",
}

// 状态键。
const (
	KeyGenerated  = "messages_generated"
	KeyHelloCount = "hello_count"
	KeyLastHello  = "last_hello"
)

// WordGenerator 每次执行从词表中独立抽取两个词（允许重复），
// 以空格连接后作为 default 消息发送给对端。
type WordGenerator struct {
	words   []string
	msgType string

	mu  sync.Mutex
	rnd *rand.Rand
}

// WordOption 配置 WordGenerator。
type WordOption func(*WordGenerator)

// WithWords 替换词表，空词表会被忽略。
func WithWords(words []string) WordOption {
	return func(g *WordGenerator) {
		if len(words) > 0 {
			g.words = append([]string(nil), words...)
		}
	}
}

// WithRand 指定随机源，便于测试得到确定结果。
func WithRand(r *rand.Rand) WordOption {
	return func(g *WordGenerator) {
		g.rnd = r
	}
}

// NewWordGenerator 创建消息生成行为。
func NewWordGenerator(opts ...WordOption) *WordGenerator {
	g := &WordGenerator{
		words:   append([]string(nil), Vocabulary...),
		msgType: mailbox.DefaultType,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Next 生成一条双词内容。
func (g *WordGenerator) Next() string {
	return g.pick() + " " + g.pick()
}

func (g *WordGenerator) pick() string {
	if g.rnd == nil {
		return g.words[rand.IntN(len(g.words))]
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.words[g.rnd.IntN(len(g.words))]
}

// Run 生成并发送一条消息。
func (g *WordGenerator) Run(ctx context.Context, env *agent.Env) error {
	if _, err := env.Emit(ctx, g.msgType, g.Next()); err != nil {
		return err
	}
	env.State().Incr(KeyGenerated, 1)
	return nil
}

// HelloHandler 统计内容中包含 "hello"（区分大小写）的消息。
type HelloHandler struct{}

// Handle 实现 agent.Handler。
func (HelloHandler) Handle(_ context.Context, msg mailbox.Message, env *agent.Env) error {
	if !msg.ContainsKeyword("hello") {
		return nil
	}
	env.State().Incr(KeyHelloCount, 1)
	env.State().Set(KeyLastHello, msg.Content)
	return nil
}

// Chain 将多个处理器组合在同一消息类型下，按顺序全部执行。
// 某个处理器失败不会阻止后续处理器，所有错误合并返回。
func Chain(handlers ...agent.Handler) agent.Handler {
	list := make([]agent.Handler, 0, len(handlers))
	for _, h := range handlers {
		if h != nil {
			list = append(list, h)
		}
	}
	return agent.HandlerFunc(func(ctx context.Context, msg mailbox.Message, env *agent.Env) error {
		var errs []error
		for _, h := range list {
			if err := h.Handle(ctx, msg, env); err != nil {
				errs = append(errs, err)
			}
		}
		return joinErrors(errs)
	})
}

// IsVocabularyMessage 判断内容是否恰好是两个词表中的词。
func IsVocabularyMessage(content string) bool {
	parts := strings.Split(content, " ")
	if len(parts) != 2 {
		return false
	}
	return slices.Contains(Vocabulary, parts[0]) && slices.Contains(Vocabulary, parts[1])
}
