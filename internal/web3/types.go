package web3

import (
	"context"
	"math/big"
	"strings"

	xerrors "AgentPair-Chain/internal/errors"
)

// CodeBridgeFailure marks a failed balance read or transfer against the token contract.
const CodeBridgeFailure xerrors.Code = "BRIDGE_FAILURE"

func init() {
	xerrors.Register(CodeBridgeFailure, xerrors.Attributes{
		Message:  "token bridge call failed",
		Severity: xerrors.SeverityWarning,
		Alert:    true,
	})
}

// TokenBridge is the narrow contract agents use to talk to a token ledger.
// Amounts are expressed in the token's smallest unit.
type TokenBridge interface {
	BalanceOf(ctx context.Context, address string) (*big.Int, error)
	Transfer(ctx context.Context, from, to string, amount *big.Int) (string, error)
}

// DecimalsReader is implemented by bridges that can report the token's decimals.
type DecimalsReader interface {
	Decimals(ctx context.Context) (uint8, error)
}

// ParseUnits converts a human readable token amount such as "1.5" into the
// smallest unit for the given number of decimals.
func ParseUnits(amount string, decimals uint8) (*big.Int, error) {
	amount = strings.TrimSpace(amount)
	if amount == "" {
		return nil, xerrors.New(xerrors.CodeInvalidArgument, "amount is empty")
	}
	rat, ok := new(big.Rat).SetString(amount)
	if !ok {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "invalid amount %q", amount)
	}
	if rat.Sign() < 0 {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "negative amount %q", amount)
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	rat.Mul(rat, new(big.Rat).SetInt(scale))
	if !rat.IsInt() {
		return nil, xerrors.Newf(xerrors.CodeInvalidArgument, "amount %q has more than %d decimals", amount, decimals)
	}
	return new(big.Int).Set(rat.Num()), nil
}

// FormatUnits renders a smallest-unit amount as a decimal string, trimming
// trailing zeros.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	if decimals == 0 {
		return amount.String()
	}
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil)
	abs := new(big.Int).Abs(amount)
	whole, frac := new(big.Int).QuoRem(abs, scale, new(big.Int))

	sign := ""
	if amount.Sign() < 0 {
		sign = "-"
	}
	if frac.Sign() == 0 {
		return sign + whole.String()
	}
	fracStr := frac.String()
	if pad := int(decimals) - len(fracStr); pad > 0 {
		fracStr = strings.Repeat("0", pad) + fracStr
	}
	fracStr = strings.TrimRight(fracStr, "0")
	return sign + whole.String() + "." + fracStr
}
