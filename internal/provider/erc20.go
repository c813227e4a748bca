package provider

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const erc20BalanceOfABI = `[{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"stateMutability":"view","type":"function"}]`

var erc20ABI = mustParseABI(erc20BalanceOfABI)

func mustParseABI(raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(err)
	}
	return parsed
}

func encodeBalanceOf(owner string) (string, error) {
	if !common.IsHexAddress(owner) {
		return "", fmt.Errorf("invalid owner address %q", owner)
	}
	data, err := erc20ABI.Pack("balanceOf", common.HexToAddress(owner))
	if err != nil {
		return "", err
	}
	return hexutil.Encode(data), nil
}

func decodeBalanceOf(result string) (*big.Int, error) {
	raw, err := hexutil.Decode(result)
	if err != nil {
		return nil, wrap(ErrDecode, err)
	}
	out, err := erc20ABI.Unpack("balanceOf", raw)
	if err != nil {
		return nil, wrap(ErrDecode, err)
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: balanceOf returned %d values", ErrDecode, len(out))
	}
	balance, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: balanceOf returned %T", ErrDecode, out[0])
	}
	return balance, nil
}
