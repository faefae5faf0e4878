package provider

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"AgentPair-Chain/internal/config"
	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/web3"
	"AgentPair-Chain/internal/web3/ethereum"
)

// Closer is implemented by bridges that hold network connections.
type Closer interface {
	Close()
}

// Dialer builds a token client for one chain. ethereum.NewClient is the default.
type Dialer func(ctx context.Context, cfg ethereum.Config) (web3.TokenBridge, error)

func dialEthereum(ctx context.Context, cfg ethereum.Config) (web3.TokenBridge, error) {
	client, err := ethereum.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return client, nil
}

// Registry manages a set of token bridges keyed by chain name.
type Registry struct {
	defaultChain string
	bridges      map[string]web3.TokenBridge
}

// NewRegistry loads chain definitions and instantiates concrete token clients.
func NewRegistry(ctx context.Context, w3 config.Web3Config, token config.TokenConfig) (*Registry, error) {
	return NewRegistryWithDialer(ctx, w3, token, dialEthereum)
}

// NewRegistryWithDialer is NewRegistry with a custom client constructor.
func NewRegistryWithDialer(ctx context.Context, w3 config.Web3Config, token config.TokenConfig, dial Dialer) (*Registry, error) {
	defs, err := web3.LoadChainDefinitions(w3.ChainConfig)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInitializationFailure, err, "加载链配置失败")
	}
	if err := defs.Resolve(w3.RPCURL); err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "链配置缺少 RPC 端点",
			xerrors.WithMetadata("path", w3.ChainConfig))
	}

	reg := &Registry{bridges: make(map[string]web3.TokenBridge)}
	for name, chain := range defs.Chains {
		chainType := strings.ToLower(strings.TrimSpace(chain.Type))
		if chainType == "" {
			chainType = "evm"
		}
		if chainType != "evm" {
			reg.Close()
			return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "链 %s 使用了不支持的类型 %s", name, chain.Type)
		}
		tokenAddr := chain.TokenAddress
		if tokenAddr == "" {
			tokenAddr = token.ContractAddress
		}
		gasLimit := chain.GasLimit
		if gasLimit == 0 {
			gasLimit = w3.GasLimit
		}
		bridge, err := dial(ctx, ethereum.Config{
			Name:         name,
			RPCURL:       chain.RPCURL,
			TokenAddress: tokenAddr,
			PrivateKey:   token.PrivateKey,
			ChainID:      chain.ChainID,
			GasLimit:     gasLimit,
			Notes:        chain.Description,
		})
		if err != nil {
			reg.Close()
			return nil, fmt.Errorf("初始化链 %s 失败: %w", name, err)
		}
		reg.bridges[name] = bridge
	}

	defaultChain := w3.DefaultChain
	if defaultChain == "" {
		defaultChain = defs.Default
	}

	if len(reg.bridges) == 0 && strings.TrimSpace(w3.RPCURL) != "" {
		bridge, err := dial(ctx, ethereum.Config{
			Name:         "default",
			RPCURL:       w3.RPCURL,
			TokenAddress: token.ContractAddress,
			PrivateKey:   token.PrivateKey,
			ChainID:      w3.ChainID,
			GasLimit:     w3.GasLimit,
		})
		if err != nil {
			return nil, err
		}
		reg.bridges["default"] = bridge
		if defaultChain == "" {
			defaultChain = "default"
		}
	}

	if len(reg.bridges) == 0 {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未配置任何链的 RPC 端点")
	}

	if defaultChain == "" {
		defaultChain = reg.Chains()[0]
	}
	if _, ok := reg.bridges[defaultChain]; !ok {
		reg.Close()
		return nil, xerrors.Newf(xerrors.CodeNotFound, "默认链 %s 未在配置中找到", defaultChain)
	}
	reg.defaultChain = defaultChain
	return reg, nil
}

// Default returns the bridge configured as default chain.
func (r *Registry) Default() (web3.TokenBridge, error) {
	if r == nil {
		return nil, xerrors.New(xerrors.CodeInitializationFailure, "未初始化的链客户端注册表")
	}
	bridge, ok := r.bridges[r.defaultChain]
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeNotFound, "默认链 %s 未在注册表中", r.defaultChain)
	}
	return bridge, nil
}

// DefaultChain returns the name of the default chain.
func (r *Registry) DefaultChain() string {
	if r == nil {
		return ""
	}
	return r.defaultChain
}

// Bridge returns the bridge identified by chain name.
func (r *Registry) Bridge(name string) (web3.TokenBridge, bool) {
	if r == nil {
		return nil, false
	}
	bridge, ok := r.bridges[name]
	return bridge, ok
}

// Close releases all bridges managed by the registry.
func (r *Registry) Close() {
	if r == nil {
		return
	}
	for name, bridge := range r.bridges {
		if c, ok := bridge.(Closer); ok {
			c.Close()
		}
		delete(r.bridges, name)
	}
}

// Chains returns the list of registered chain names.
func (r *Registry) Chains() []string {
	if r == nil {
		return nil
	}
	names := make([]string, 0, len(r.bridges))
	for name := range r.bridges {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
