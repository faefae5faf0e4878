package web3

import (
	"math/big"
	"os"
	"path/filepath"
	"testing"
)

func TestParseUnits(t *testing.T) {
	cases := []struct {
		in       string
		decimals uint8
		want     string
	}{
		{"1", 18, "1000000000000000000"},
		{"1.5", 6, "1500000"},
		{"0.000001", 6, "1"},
		{" 100 ", 0, "100"},
	}
	for _, tc := range cases {
		got, err := ParseUnits(tc.in, tc.decimals)
		if err != nil {
			t.Fatalf("ParseUnits(%q): %v", tc.in, err)
		}
		if got.String() != tc.want {
			t.Fatalf("ParseUnits(%q, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}

	for _, bad := range []string{"", "abc", "-1", "0.0000001"} {
		if _, err := ParseUnits(bad, 6); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}

func TestFormatUnits(t *testing.T) {
	cases := []struct {
		in       *big.Int
		decimals uint8
		want     string
	}{
		{big.NewInt(1500000), 6, "1.5"},
		{big.NewInt(1), 6, "0.000001"},
		{big.NewInt(2000000), 6, "2"},
		{big.NewInt(-1500000), 6, "-1.5"},
		{big.NewInt(42), 0, "42"},
		{nil, 18, "0"},
	}
	for _, tc := range cases {
		if got := FormatUnits(tc.in, tc.decimals); got != tc.want {
			t.Fatalf("FormatUnits(%v, %d) = %s, want %s", tc.in, tc.decimals, got, tc.want)
		}
	}
}

func TestLoadChainDefinitions(t *testing.T) {
	t.Setenv("TEST_FORK_RPC", "http://127.0.0.1:8545")
	dir := t.TempDir()
	path := filepath.Join(dir, "chain.yaml")
	content := `default: fork
chains:
  fork:
    rpc_url: ${TEST_FORK_RPC}
    token_address: "0x00000000000000000000000000000000000000aa"
    chain_id: 1337
    description: local fork
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	defs, err := LoadChainDefinitions(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	fork, ok := defs.Chains["fork"]
	if !ok || defs.Default != "fork" {
		t.Fatalf("unexpected definitions: %+v", defs)
	}
	if fork.RPCURL != "http://127.0.0.1:8545" || fork.ChainID != 1337 || fork.Description != "local fork" {
		t.Fatalf("unexpected chain: %+v", fork)
	}

	empty, err := LoadChainDefinitions("")
	if err != nil || len(empty.Chains) != 0 {
		t.Fatalf("expected empty definitions, got %+v %v", empty, err)
	}

	broken, err := ParseChainDefinitions([]byte("chains:\n  broken: {}\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if err := broken.Resolve(""); err == nil {
		t.Fatalf("expected missing rpc_url error")
	}
	if err := broken.Resolve("http://127.0.0.1:8545"); err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got := broken.Chains["broken"].RPCURL; got != "http://127.0.0.1:8545" {
		t.Fatalf("expected fallback rpc_url, got %q", got)
	}
	if err := defs.Resolve("http://other:8545"); err != nil || defs.Chains["fork"].RPCURL != "http://127.0.0.1:8545" {
		t.Fatalf("explicit rpc_url must win over the fallback: %+v %v", defs.Chains["fork"], err)
	}
}
