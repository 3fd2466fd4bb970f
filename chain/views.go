package chain

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"
)

// View method signatures on the token contract.
const (
	sigBalanceOf       = "balanceOf(address)"
	sigSplitMultiplier = "splitMultiplier()"
	sigTotalSupply     = "totalSupply()"
	sigName            = "name()"
	sigSymbol          = "symbol()"
	sigDecimals        = "decimals()"
	sigIsApproved      = "isApproved(address)"
	sigOwner           = "owner()"
)

var stringType, _ = abi.NewType("string", "", nil)

// selector returns the 4-byte method selector of a canonical signature.
func selector(signature string) []byte {
	d := sha3.NewLegacyKeccak256()
	d.Write([]byte(signature))
	return d.Sum(nil)[:4]
}

// CallView performs eth_call against the contract at the latest block. Each
// arg is left-padded to a 32-byte ABI word.
func (c *Client) CallView(ctx context.Context, signature string, args ...[]byte) ([]byte, error) {
	data := selector(signature)
	for _, arg := range args {
		data = append(data, common.LeftPadBytes(arg, 32)...)
	}
	if err := c.wait(ctx, "call"); err != nil {
		return nil, err
	}
	result, err := c.eth.CallContract(ctx, ethereum.CallMsg{To: &c.contract, Data: data}, nil)
	if err != nil {
		return nil, c.fail("call", fmt.Errorf("chain: call %s: %w", signature, err))
	}
	return result, nil
}

// BalanceOf returns the holder's display balance. The contract applies the
// split multiplier before returning.
func (c *Client) BalanceOf(ctx context.Context, holder common.Address) (*big.Int, error) {
	result, err := c.CallView(ctx, sigBalanceOf, holder.Bytes())
	if err != nil {
		return nil, err
	}
	return unpackUint(sigBalanceOf, result)
}

// SplitMultiplier returns the cumulative split multiplier in basis points.
func (c *Client) SplitMultiplier(ctx context.Context) (*big.Int, error) {
	result, err := c.CallView(ctx, sigSplitMultiplier)
	if err != nil {
		return nil, err
	}
	return unpackUint(sigSplitMultiplier, result)
}

// TotalSupply returns the display total supply.
func (c *Client) TotalSupply(ctx context.Context) (*big.Int, error) {
	result, err := c.CallView(ctx, sigTotalSupply)
	if err != nil {
		return nil, err
	}
	return unpackUint(sigTotalSupply, result)
}

// TokenName returns the token's name.
func (c *Client) TokenName(ctx context.Context) (string, error) {
	result, err := c.CallView(ctx, sigName)
	if err != nil {
		return "", err
	}
	return unpackString(sigName, result)
}

// TokenSymbol returns the token's ticker symbol.
func (c *Client) TokenSymbol(ctx context.Context) (string, error) {
	result, err := c.CallView(ctx, sigSymbol)
	if err != nil {
		return "", err
	}
	return unpackString(sigSymbol, result)
}

// TokenDecimals returns the token's decimal places.
func (c *Client) TokenDecimals(ctx context.Context) (uint8, error) {
	result, err := c.CallView(ctx, sigDecimals)
	if err != nil {
		return 0, err
	}
	n, err := unpackUint(sigDecimals, result)
	if err != nil {
		return 0, err
	}
	if !n.IsUint64() || n.Uint64() > 255 {
		return 0, fmt.Errorf("chain: decimals out of range: %s", n)
	}
	return uint8(n.Uint64()), nil
}

// IsApproved reports whether wallet passed the contract's allowlist.
func (c *Client) IsApproved(ctx context.Context, wallet common.Address) (bool, error) {
	result, err := c.CallView(ctx, sigIsApproved, wallet.Bytes())
	if err != nil {
		return false, err
	}
	n, err := unpackUint(sigIsApproved, result)
	if err != nil {
		return false, err
	}
	return n.Sign() != 0, nil
}

// Owner returns the contract owner address.
func (c *Client) Owner(ctx context.Context) (common.Address, error) {
	result, err := c.CallView(ctx, sigOwner)
	if err != nil {
		return common.Address{}, err
	}
	if len(result) < 32 {
		return common.Address{}, fmt.Errorf("%w: %s returned %d bytes", ErrEmptyResult, sigOwner, len(result))
	}
	return common.BytesToAddress(result[12:32]), nil
}

func unpackUint(signature string, result []byte) (*big.Int, error) {
	if len(result) < 32 {
		return nil, fmt.Errorf("%w: %s returned %d bytes", ErrEmptyResult, signature, len(result))
	}
	return new(uint256.Int).SetBytes(result[:32]).ToBig(), nil
}

func unpackString(signature string, result []byte) (string, error) {
	values, err := abi.Arguments{{Type: stringType}}.Unpack(result)
	if err != nil {
		return "", fmt.Errorf("chain: unpack %s: %w", signature, err)
	}
	if len(values) != 1 {
		return "", fmt.Errorf("chain: unpack %s: %d values", signature, len(values))
	}
	s, ok := values[0].(string)
	if !ok {
		return "", fmt.Errorf("chain: unpack %s: unexpected type %T", signature, values[0])
	}
	return s, nil
}
