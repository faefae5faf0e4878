// Package web3 defines the token bridge boundary used by agent behaviors,
// unit conversion helpers and the YAML chain definitions that describe which
// RPC endpoint and token contract each named chain uses.
package web3
