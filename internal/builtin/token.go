package builtin

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"strings"

	"AgentPair-Chain/internal/agent"
	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/mailbox"
	"AgentPair-Chain/internal/web3"
)

// TypeTokenBalance 是余额上报消息的类型。
const TypeTokenBalance = "token_balance"

// 代币相关的状态键。
const (
	KeyTokenBalance   = "token_balance"
	KeyPeerBalance    = "peer_token_balance"
	KeyPeerBalanceBy  = "peer_token_balance_from"
	KeyTransfers      = "token_transfers"
	KeyLastTransferTx = "last_transfer_tx"
	KeySkipped        = "token_transfers_skipped"
)

// BalanceWatcher 读取源地址余额，达到阈值时从源地址向目标地址转出固定数量。
type BalanceWatcher struct {
	Bridge    web3.TokenBridge
	Source    string
	Target    string
	Threshold *big.Int
	Amount    *big.Int
}

// Run 实现 agent.Behavior。
func (w *BalanceWatcher) Run(ctx context.Context, env *agent.Env) error {
	balance, err := w.Bridge.BalanceOf(ctx, w.Source)
	if err != nil {
		return bridgeError(err, "读取余额失败", w.Source)
	}
	env.State().Set(KeyTokenBalance, balance.String())

	if w.Threshold != nil && balance.Cmp(w.Threshold) < 0 {
		env.State().Incr(KeySkipped, 1)
		return nil
	}
	return transfer(ctx, env, w.Bridge, w.Source, w.Target, w.Amount)
}

// BalanceReporter 读取地址余额并以 token_balance 消息告知对端。
type BalanceReporter struct {
	Bridge  web3.TokenBridge
	Address string
}

// Run 实现 agent.Behavior。
func (r *BalanceReporter) Run(ctx context.Context, env *agent.Env) error {
	balance, err := r.Bridge.BalanceOf(ctx, r.Address)
	if err != nil {
		return bridgeError(err, "读取余额失败", r.Address)
	}
	env.State().Set(KeyTokenBalance, balance.String())
	_, err = env.Emit(ctx, TypeTokenBalance, balance.String())
	return err
}

// BalanceHandler 记录对端上报的余额。
type BalanceHandler struct{}

// Handle 实现 agent.Handler。
func (BalanceHandler) Handle(_ context.Context, msg mailbox.Message, env *agent.Env) error {
	balance, ok := new(big.Int).SetString(strings.TrimSpace(msg.Content), 10)
	if !ok {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "无效的余额内容: %q", msg.Content)
	}
	env.State().Set(KeyPeerBalance, balance.String())
	env.State().Set(KeyPeerBalanceBy, msg.From)
	return nil
}

// KeywordTransfer 在消息包含关键字且源地址余额足够时发起转账。
type KeywordTransfer struct {
	Bridge  web3.TokenBridge
	Keyword string
	Source  string
	Target  string
	Amount  *big.Int
}

// Handle 实现 agent.Handler。
func (k *KeywordTransfer) Handle(ctx context.Context, msg mailbox.Message, env *agent.Env) error {
	keyword := k.Keyword
	if keyword == "" {
		keyword = "crypto"
	}
	if !msg.ContainsKeyword(keyword) {
		return nil
	}
	if k.Amount == nil || k.Amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于 0")
	}
	balance, err := k.Bridge.BalanceOf(ctx, k.Source)
	if err != nil {
		return bridgeError(err, "读取余额失败", k.Source)
	}
	if balance.Cmp(k.Amount) < 0 {
		env.State().Incr(KeySkipped, 1)
		env.Logger().Info("余额不足，跳过转账",
			slog.String("balance", balance.String()),
			slog.String("amount", k.Amount.String()),
			slog.String("message_id", msg.ID),
		)
		return nil
	}
	return transfer(ctx, env, k.Bridge, k.Source, k.Target, k.Amount)
}

func transfer(ctx context.Context, env *agent.Env, bridge web3.TokenBridge, from, to string, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于 0")
	}
	txID, err := bridge.Transfer(ctx, from, to, amount)
	if err != nil {
		return bridgeError(err, "转账失败", from)
	}
	env.State().Incr(KeyTransfers, 1)
	env.State().Set(KeyLastTransferTx, txID)
	env.Logger().Info("已提交代币转账",
		slog.String("from", from),
		slog.String("to", to),
		slog.String("amount", amount.String()),
		slog.String("tx", txID),
	)
	return nil
}

func bridgeError(err error, msg, address string) error {
	if _, coded := xerrors.From(err); coded {
		return err
	}
	return xerrors.Wrap(web3.CodeBridgeFailure, err, msg, xerrors.WithMetadata("address", address))
}

func joinErrors(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}

// TokenUnits 汇总装配代币行为所需的参数。
type TokenUnits struct {
	Bridge    web3.TokenBridge
	Source    string
	Target    string
	Threshold *big.Int
	Amount    *big.Int
	Keyword   string
}

func (u TokenUnits) validate() error {
	if u.Bridge == nil {
		return xerrors.New(xerrors.CodeInvalidArgument, "代币桥不能为空")
	}
	if u.Source == "" || u.Target == "" {
		return xerrors.New(xerrors.CodeInvalidArgument, "源地址与目标地址不能为空")
	}
	if u.Amount == nil || u.Amount.Sign() <= 0 {
		return xerrors.Newf(xerrors.CodeInvalidArgument, "无效的转账金额: %v", u.Amount)
	}
	return nil
}
