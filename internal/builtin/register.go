package builtin

import (
	"time"

	"AgentPair-Chain/internal/agent"
	"AgentPair-Chain/internal/mailbox"
)

// 行为名称。
const (
	BehaviorGenerate = "generate_message"
	BehaviorWatch    = "balance_watcher"
	BehaviorReport   = "balance_reporter"
)

// RegisterDefaults 为智能体装配默认的消息生成行为与 hello 处理器。
func RegisterDefaults(a *agent.Agent, interval time.Duration, opts ...WordOption) error {
	if err := a.RegisterHandler(mailbox.DefaultType, HelloHandler{}); err != nil {
		return err
	}
	return a.RegisterBehavior(BehaviorGenerate, NewWordGenerator(opts...), interval)
}

// RegisterToken 为智能体装配代币行为与处理器。default 类型的处理器替换为
// hello 计数与关键字转账的组合，二者对每条消息都会执行。
func RegisterToken(a *agent.Agent, units TokenUnits, checkInterval, reportInterval time.Duration) error {
	if err := units.validate(); err != nil {
		return err
	}
	keywordTransfer := &KeywordTransfer{
		Bridge:  units.Bridge,
		Keyword: units.Keyword,
		Source:  units.Source,
		Target:  units.Target,
		Amount:  units.Amount,
	}
	if err := a.RegisterHandler(mailbox.DefaultType, Chain(HelloHandler{}, keywordTransfer)); err != nil {
		return err
	}
	if err := a.RegisterHandler(TypeTokenBalance, BalanceHandler{}); err != nil {
		return err
	}
	watcher := &BalanceWatcher{
		Bridge:    units.Bridge,
		Source:    units.Source,
		Target:    units.Target,
		Threshold: units.Threshold,
		Amount:    units.Amount,
	}
	if err := a.RegisterBehavior(BehaviorWatch, watcher, checkInterval); err != nil {
		return err
	}
	return a.RegisterBehavior(BehaviorReport, &BalanceReporter{Bridge: units.Bridge, Address: units.Source}, reportInterval)
}
