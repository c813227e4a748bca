// Package signer signs queue transactions with a local secp256k1 key.
package signer

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"txqueue/internal/domain"
	"txqueue/internal/txqueue"
)

var ErrIncompleteTx = errors.New("transaction is missing fields required for signing")

// KeySigner signs legacy transactions for one account.
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID uint64
}

// NewKeySigner parses a hex private key, with or without 0x. chainID is
// used for requests that do not carry their own.
func NewKeySigner(hexKey string, chainID uint64) (*KeySigner, error) {
	hexKey = strings.TrimPrefix(strings.TrimSpace(hexKey), "0x")
	if hexKey == "" {
		return nil, errors.New("private key is required")
	}
	key, err := crypto.HexToECDSA(hexKey)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return FromKey(key, chainID), nil
}

func FromKey(key *ecdsa.PrivateKey, chainID uint64) *KeySigner {
	return &KeySigner{key: key, address: crypto.PubkeyToAddress(key.PublicKey), chainID: chainID}
}

// Address is the lowercase hex address of the key.
func (s *KeySigner) Address() string {
	return strings.ToLower(s.address.Hex())
}

func (s *KeySigner) Sign(_ context.Context, req domain.TxRequest) (txqueue.Signed, error) {
	tx, chainID, err := s.build(req)
	if err != nil {
		return txqueue.Signed{}, err
	}
	signed, err := types.SignTx(tx, types.LatestSignerForChainID(new(big.Int).SetUint64(chainID)), s.key)
	if err != nil {
		return txqueue.Signed{}, fmt.Errorf("sign transaction: %w", err)
	}
	raw, err := signed.MarshalBinary()
	if err != nil {
		return txqueue.Signed{}, fmt.Errorf("encode transaction: %w", err)
	}
	return txqueue.SignedPayload(hexutil.Encode(raw)), nil
}

func (s *KeySigner) build(req domain.TxRequest) (*types.Transaction, uint64, error) {
	if req.From != "" && !strings.EqualFold(req.From, s.address.Hex()) {
		return nil, 0, fmt.Errorf("request from %s does not match signer %s", req.From, s.Address())
	}
	if req.Nonce == nil {
		return nil, 0, fmt.Errorf("%w: nonce", ErrIncompleteTx)
	}
	gas, err := strconv.ParseUint(req.Gas, 10, 64)
	if err != nil || gas == 0 {
		return nil, 0, fmt.Errorf("%w: gas %q", ErrIncompleteTx, req.Gas)
	}
	gasPrice, ok := new(big.Int).SetString(req.GasPrice, 10)
	if !ok {
		return nil, 0, fmt.Errorf("%w: gas price %q", ErrIncompleteTx, req.GasPrice)
	}
	value := new(big.Int)
	if req.Value != "" {
		if _, ok := value.SetString(req.Value, 10); !ok {
			return nil, 0, fmt.Errorf("invalid value %q", req.Value)
		}
	}
	var data []byte
	if req.Data != "" && req.Data != "0x" {
		if data, err = hexutil.Decode(req.Data); err != nil {
			return nil, 0, fmt.Errorf("invalid data: %w", err)
		}
	}
	var to *common.Address
	if req.To != "" {
		if !common.IsHexAddress(req.To) {
			return nil, 0, fmt.Errorf("invalid recipient %q", req.To)
		}
		addr := common.HexToAddress(req.To)
		to = &addr
	}
	chainID := req.ChainID
	if chainID == 0 {
		chainID = s.chainID
	}
	if chainID == 0 {
		return nil, 0, fmt.Errorf("%w: chain id", ErrIncompleteTx)
	}

	return types.NewTx(&types.LegacyTx{
		Nonce:    *req.Nonce,
		GasPrice: gasPrice,
		Gas:      gas,
		To:       to,
		Value:    value,
		Data:     data,
	}), chainID, nil
}
