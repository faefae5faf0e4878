package ethereum

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	gethcore "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	coretypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	gethrpc "github.com/ethereum/go-ethereum/rpc"

	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/web3"
	"AgentPair-Chain/pkg/logger"
)

// DefaultGasLimit is the gas limit attached to ERC-20 transfers when none is configured.
const DefaultGasLimit uint64 = 100000

const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"}
]`

var erc20ABI = mustParseABI(erc20ABIJSON)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("parse erc20 abi: %v", err))
	}
	return parsed
}

// Backend is the subset of an Ethereum JSON-RPC client the token client needs.
// *ethclient.Client satisfies it.
type Backend interface {
	CallContract(ctx context.Context, call gethcore.CallMsg, blockNumber *big.Int) ([]byte, error)
	PendingNonceAt(ctx context.Context, account common.Address) (uint64, error)
	SuggestGasPrice(ctx context.Context) (*big.Int, error)
	ChainID(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *coretypes.Transaction) error
}

// Config describes how to construct an ERC-20 token client.
type Config struct {
	Name         string
	RPCURL       string
	TokenAddress string
	// PrivateKey is the hex encoded key used to sign transfers. Without it the
	// client is read-only.
	PrivateKey string
	ChainID    int64
	GasLimit   uint64
	Notes      string
}

// TokenClient implements web3.TokenBridge for an ERC-20 contract on an EVM chain.
type TokenClient struct {
	name     string
	notes    string
	token    common.Address
	backend  Backend
	rpc      *gethrpc.Client
	key      *ecdsa.PrivateKey
	signer   common.Address
	gasLimit uint64

	mu       sync.Mutex
	chainID  *big.Int
	decimals *uint8

	// sendMu serializes nonce lookup through broadcast.
	sendMu sync.Mutex
}

// NewClient dials the configured RPC endpoint and returns a token client.
func NewClient(ctx context.Context, cfg Config) (*TokenClient, error) {
	rpcURL := strings.TrimSpace(cfg.RPCURL)
	if rpcURL == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "未配置以太坊 RPC 地址")
	}

	rpcClient, err := gethrpc.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "连接以太坊节点失败",
			xerrors.WithMetadata("chain", cfg.Name))
	}

	client, err := NewTokenClient(ethclient.NewClient(rpcClient), cfg)
	if err != nil {
		rpcClient.Close()
		return nil, err
	}
	client.rpc = rpcClient
	return client, nil
}

// NewTokenClient wraps an existing backend, typically a fake in tests.
func NewTokenClient(backend Backend, cfg Config) (*TokenClient, error) {
	if backend == nil {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "以太坊后端不能为空")
	}
	tokenAddr := strings.TrimSpace(cfg.TokenAddress)
	if !common.IsHexAddress(tokenAddr) {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "无效的代币合约地址: %q", tokenAddr)
	}

	client := &TokenClient{
		name:     cfg.Name,
		notes:    cfg.Notes,
		token:    common.HexToAddress(tokenAddr),
		backend:  backend,
		gasLimit: cfg.GasLimit,
	}
	if client.gasLimit == 0 {
		client.gasLimit = DefaultGasLimit
	}
	if cfg.ChainID > 0 {
		client.chainID = big.NewInt(cfg.ChainID)
	}
	if raw := strings.TrimSpace(cfg.PrivateKey); raw != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(raw, "0x"))
		if err != nil {
			return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "解析签名私钥失败")
		}
		client.key = key
		client.signer = crypto.PubkeyToAddress(key.PublicKey)
	}
	return client, nil
}

// Name returns the chain name the client was configured with.
func (c *TokenClient) Name() string {
	return c.name
}

// Token returns the token contract address.
func (c *TokenClient) Token() common.Address {
	return c.token
}

// Signer returns the address derived from the configured key, if any.
func (c *TokenClient) Signer() (common.Address, bool) {
	return c.signer, c.key != nil
}

// Close releases the RPC connection held by the client.
func (c *TokenClient) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.rpc != nil {
		c.rpc.Close()
		c.rpc = nil
	}
}

// BalanceOf returns the token balance of address in the token's smallest unit.
func (c *TokenClient) BalanceOf(ctx context.Context, address string) (*big.Int, error) {
	owner, err := parseAddress(address)
	if err != nil {
		return nil, err
	}
	out, err := c.call(ctx, "balanceOf", owner)
	if err != nil {
		return nil, err
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, c.bridgeError(fmt.Errorf("unexpected balanceOf output %T", out[0]), "解析余额失败")
	}
	return balance, nil
}

// Decimals returns the token's decimals. The value is cached after the first
// successful call.
func (c *TokenClient) Decimals(ctx context.Context) (uint8, error) {
	c.mu.Lock()
	cached := c.decimals
	c.mu.Unlock()
	if cached != nil {
		return *cached, nil
	}

	out, err := c.call(ctx, "decimals")
	if err != nil {
		return 0, err
	}
	decimals, ok := out[0].(uint8)
	if !ok {
		return 0, c.bridgeError(fmt.Errorf("unexpected decimals output %T", out[0]), "解析精度失败")
	}
	c.mu.Lock()
	c.decimals = &decimals
	c.mu.Unlock()
	return decimals, nil
}

// Transfer signs and broadcasts an ERC-20 transfer from the configured key's
// address. It returns the transaction hash without waiting for a receipt.
func (c *TokenClient) Transfer(ctx context.Context, from, to string, amount *big.Int) (string, error) {
	if c.key == nil {
		return "", xerrors.New(xerrors.CodeInitializationFailure, "未配置签名私钥，无法发起转账")
	}
	sender, err := parseAddress(from)
	if err != nil {
		return "", err
	}
	if sender != c.signer {
		return "", xerrors.Newf(xerrors.CodeInvalidArgument, "转出地址 %s 与签名地址 %s 不一致", sender.Hex(), c.signer.Hex())
	}
	recipient, err := parseAddress(to)
	if err != nil {
		return "", err
	}
	if amount == nil || amount.Sign() <= 0 {
		return "", xerrors.New(xerrors.CodeInvalidArgument, "转账金额必须大于 0")
	}

	data, err := erc20ABI.Pack("transfer", recipient, amount)
	if err != nil {
		return "", xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码转账数据失败")
	}

	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	nonce, err := c.backend.PendingNonceAt(ctx, sender)
	if err != nil {
		return "", c.bridgeError(err, "查询交易计数失败")
	}
	gasPrice, err := c.backend.SuggestGasPrice(ctx)
	if err != nil {
		return "", c.bridgeError(err, "获取 gas 价格失败")
	}
	chainID, err := c.chain(ctx)
	if err != nil {
		return "", err
	}

	tx := coretypes.NewTx(&coretypes.LegacyTx{
		Nonce:    nonce,
		GasPrice: gasPrice,
		Gas:      c.gasLimit,
		To:       &c.token,
		Value:    big.NewInt(0),
		Data:     data,
	})
	signed, err := coretypes.SignTx(tx, coretypes.LatestSignerForChainID(chainID), c.key)
	if err != nil {
		return "", c.bridgeError(err, "签名交易失败")
	}
	if err := c.backend.SendTransaction(ctx, signed); err != nil {
		return "", c.bridgeError(err, "发送交易失败",
			xerrors.WithSeverity(xerrors.SeverityCritical), xerrors.WithMetadata("nonce", fmt.Sprint(nonce)))
	}

	hash := signed.Hash().Hex()
	logger.Audit().Info("token transfer submitted",
		slog.String("chain", c.name),
		slog.String("token", c.token.Hex()),
		slog.String("from", sender.Hex()),
		slog.String("to", recipient.Hex()),
		slog.String("amount", amount.String()),
		slog.Uint64("nonce", nonce),
		slog.String("tx_hash", hash),
	)
	return hash, nil
}

func (c *TokenClient) call(ctx context.Context, method string, args ...any) ([]any, error) {
	data, err := erc20ABI.Pack(method, args...)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "编码合约调用失败",
			xerrors.WithMetadata("method", method))
	}
	raw, err := c.backend.CallContract(ctx, gethcore.CallMsg{To: &c.token, Data: data}, nil)
	if err != nil {
		return nil, c.bridgeError(err, "调用合约失败", xerrors.WithMetadata("method", method))
	}
	out, err := erc20ABI.Unpack(method, raw)
	if err != nil {
		return nil, c.bridgeError(err, "解析合约返回值失败", xerrors.WithMetadata("method", method))
	}
	if len(out) == 0 {
		return nil, c.bridgeError(errors.New("empty output"), "合约返回值为空", xerrors.WithMetadata("method", method))
	}
	return out, nil
}

func (c *TokenClient) chain(ctx context.Context) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.chainID != nil {
		return c.chainID, nil
	}
	id, err := c.backend.ChainID(ctx)
	if err != nil {
		return nil, c.bridgeError(err, "获取链 ID 失败")
	}
	c.chainID = id
	return id, nil
}

func (c *TokenClient) bridgeError(err error, msg string, opts ...xerrors.Option) error {
	opts = append(opts, xerrors.WithMetadata("chain", c.name), xerrors.WithMetadata("token", c.token.Hex()))
	return xerrors.Wrap(web3.CodeBridgeFailure, err, msg, opts...)
}

func parseAddress(raw string) (common.Address, error) {
	raw = strings.TrimSpace(raw)
	if !common.IsHexAddress(raw) {
		return common.Address{}, xerrors.Newf(xerrors.CodeInvalidArgument, "无效的地址: %q", raw)
	}
	return common.HexToAddress(raw), nil
}

var (
	_ web3.TokenBridge    = (*TokenClient)(nil)
	_ web3.DecimalsReader = (*TokenClient)(nil)
)
