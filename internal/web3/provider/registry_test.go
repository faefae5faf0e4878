package provider

import (
	"context"
	"math/big"
	"os"
	"path/filepath"
	"testing"

	"AgentPair-Chain/internal/config"
	xerrors "AgentPair-Chain/internal/errors"
	"AgentPair-Chain/internal/web3"
	"AgentPair-Chain/internal/web3/ethereum"
)

type stubBridge struct {
	cfg    ethereum.Config
	closed bool
}

func (s *stubBridge) BalanceOf(context.Context, string) (*big.Int, error) { return big.NewInt(0), nil }

func (s *stubBridge) Transfer(context.Context, string, string, *big.Int) (string, error) {
	return "0x", nil
}

func (s *stubBridge) Close() { s.closed = true }

type recordingDialer struct {
	dialed []*stubBridge
}

func (d *recordingDialer) dial(_ context.Context, cfg ethereum.Config) (web3.TokenBridge, error) {
	b := &stubBridge{cfg: cfg}
	d.dialed = append(d.dialed, b)
	return b, nil
}

func writeChains(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "chain.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	return path
}

func TestRegistryFromChainDefinitions(t *testing.T) {
	path := writeChains(t, `chains:
  sepolia:
    rpc_url: http://sepolia
    chain_id: 11155111
  fork:
    rpc_url: http://fork
    token_address: "0x00000000000000000000000000000000000000dd"
    gas_limit: 90000
`)
	d := &recordingDialer{}
	reg, err := NewRegistryWithDialer(context.Background(),
		config.Web3Config{ChainConfig: path, GasLimit: 120000},
		config.TokenConfig{ContractAddress: "0x00000000000000000000000000000000000000aa", PrivateKey: "key"},
		d.dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}

	if chains := reg.Chains(); len(chains) != 2 || chains[0] != "fork" || chains[1] != "sepolia" {
		t.Fatalf("unexpected chains %v", chains)
	}
	if reg.DefaultChain() != "fork" {
		t.Fatalf("expected alphabetical default, got %s", reg.DefaultChain())
	}

	fork, _ := reg.Bridge("fork")
	forkCfg := fork.(*stubBridge).cfg
	if forkCfg.TokenAddress != "0x00000000000000000000000000000000000000dd" || forkCfg.GasLimit != 90000 {
		t.Fatalf("chain overrides not applied: %+v", forkCfg)
	}
	sepolia, _ := reg.Bridge("sepolia")
	sepCfg := sepolia.(*stubBridge).cfg
	if sepCfg.TokenAddress != "0x00000000000000000000000000000000000000aa" || sepCfg.GasLimit != 120000 || sepCfg.ChainID != 11155111 {
		t.Fatalf("fallbacks not applied: %+v", sepCfg)
	}
	if sepCfg.PrivateKey != "key" {
		t.Fatalf("expected private key to be forwarded")
	}

	reg.Close()
	for _, b := range d.dialed {
		if !b.closed {
			t.Fatalf("bridge %s not closed", b.cfg.Name)
		}
	}
}

func TestRegistryFallsBackToRPCURL(t *testing.T) {
	d := &recordingDialer{}
	reg, err := NewRegistryWithDialer(context.Background(),
		config.Web3Config{RPCURL: "http://node", ChainID: 1},
		config.TokenConfig{ContractAddress: "0x00000000000000000000000000000000000000aa"},
		d.dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	bridge, err := reg.Default()
	if err != nil {
		t.Fatalf("default: %v", err)
	}
	if bridge.(*stubBridge).cfg.RPCURL != "http://node" || reg.DefaultChain() != "default" {
		t.Fatalf("unexpected default bridge %+v", bridge)
	}
}

func TestRegistryFillsChainRPCURLFromWeb3Config(t *testing.T) {
	t.Setenv("AGENTPAIR_UNSET_RPC_URL", "")
	path := writeChains(t, "default: fork\nchains:\n  fork:\n    rpc_url: ${AGENTPAIR_UNSET_RPC_URL}\n")
	d := &recordingDialer{}
	reg, err := NewRegistryWithDialer(context.Background(),
		config.Web3Config{ChainConfig: path, RPCURL: "http://web3-rpc"},
		config.TokenConfig{ContractAddress: "0x00000000000000000000000000000000000000aa"},
		d.dial)
	if err != nil {
		t.Fatalf("new registry: %v", err)
	}
	fork, ok := reg.Bridge("fork")
	if !ok {
		t.Fatalf("fork bridge missing")
	}
	if got := fork.(*stubBridge).cfg.RPCURL; got != "http://web3-rpc" {
		t.Fatalf("expected chain to inherit WEB3_RPC_URL, got %q", got)
	}

	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: path}, config.TokenConfig{}, d.dial); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected missing rpc_url error, got %v", err)
	}
}

func TestRegistryErrors(t *testing.T) {
	d := &recordingDialer{}
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{}, config.TokenConfig{}, d.dial); xerrors.CodeOf(err) != xerrors.CodeInitializationFailure {
		t.Fatalf("expected no endpoints error, got %v", err)
	}

	path := writeChains(t, "chains:\n  a:\n    rpc_url: http://a\n")
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: path, DefaultChain: "b"}, config.TokenConfig{}, d.dial); xerrors.CodeOf(err) != xerrors.CodeNotFound {
		t.Fatalf("expected missing default error, got %v", err)
	}

	path = writeChains(t, "chains:\n  sol:\n    type: solana\n    rpc_url: http://sol\n")
	if _, err := NewRegistryWithDialer(context.Background(), config.Web3Config{ChainConfig: path}, config.TokenConfig{}, d.dial); xerrors.CodeOf(err) != xerrors.CodeInvalidArgument {
		t.Fatalf("expected unsupported type error, got %v", err)
	}
}
