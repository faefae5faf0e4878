package web3

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// ChainDefinitions models the structure of configs/chain.yaml.
type ChainDefinitions struct {
	Default string                     `yaml:"default"`
	Chains  map[string]ChainDefinition `yaml:"chains"`
}

// ChainDefinition describes one chain endpoint and the token contract used on it.
type ChainDefinition struct {
	Type         string `yaml:"type"`
	RPCURL       string `yaml:"rpc_url"`
	TokenAddress string `yaml:"token_address"`
	ChainID      int64  `yaml:"chain_id"`
	GasLimit     uint64 `yaml:"gas_limit"`
	Description  string `yaml:"description"`
}

// LoadChainDefinitions parses the YAML file containing chain metadata.
// An empty path yields an empty definition set.
func LoadChainDefinitions(path string) (ChainDefinitions, error) {
	if strings.TrimSpace(path) == "" {
		return ChainDefinitions{Chains: map[string]ChainDefinition{}}, nil
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return ChainDefinitions{}, fmt.Errorf("读取链配置失败: %w", err)
	}
	return ParseChainDefinitions(content)
}

// ParseChainDefinitions decodes chain definitions from YAML bytes and expands
// ${VAR} references against the environment. Endpoints are checked by Resolve.
func ParseChainDefinitions(content []byte) (ChainDefinitions, error) {
	var defs ChainDefinitions
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(content))), &defs); err != nil {
		return ChainDefinitions{}, fmt.Errorf("解析链配置失败: %w", err)
	}
	if defs.Chains == nil {
		defs.Chains = map[string]ChainDefinition{}
	}
	return defs, nil
}

// Resolve fills chains without an rpc_url from fallbackRPC and reports any
// chain that still has no endpoint.
func (d ChainDefinitions) Resolve(fallbackRPC string) error {
	fallbackRPC = strings.TrimSpace(fallbackRPC)
	for name, chain := range d.Chains {
		if strings.TrimSpace(chain.RPCURL) != "" {
			continue
		}
		if fallbackRPC == "" {
			return fmt.Errorf("链 %s 缺少 rpc_url", name)
		}
		chain.RPCURL = fallbackRPC
		d.Chains[name] = chain
	}
	return nil
}
