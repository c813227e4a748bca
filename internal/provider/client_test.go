package provider

import (
	"context"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txqueue/internal/domain"
)

func newTestClient(t *testing.T, fakes []*fakeBackend, opts ...Option) *Client {
	t.Helper()
	network, dial := pool(fakes...)
	client, err := NewClient(network, append([]Option{WithDialer(dial), WithPollInterval(5 * time.Millisecond)}, opts...)...)
	require.NoError(t, err)
	return client
}

func TestNewClientRejectsEmptyPool(t *testing.T) {
	_, err := NewClient(domain.Network{ChainID: 1})
	assert.ErrorIs(t, err, domain.ErrEmptyPool)
}

func TestGetBalanceAggregatesByMajority(t *testing.T) {
	wei := new(big.Int).Mul(big.NewInt(15), big.NewInt(1e17))
	fakes := []*fakeBackend{
		{name: "a", balance: wei},
		{name: "b", balance: wei},
		{name: "c", balance: big.NewInt(1)},
	}
	client := newTestClient(t, fakes)

	got, err := client.GetBalance(context.Background(), "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, "1.5", got)
}

func TestAggregatedWithoutQuorumIsProviderUnavailable(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", err: errTransport},
		{name: "b", err: errTransport},
		{name: "c", nonce: 7},
	}
	network, dial := pool(fakes...)
	network.Quorum = 2
	client, err := NewClient(network, WithDialer(dial))
	require.NoError(t, err)

	_, err = client.GetTransactionCount(context.Background(), "0x1111111111111111111111111111111111111111")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.ErrorIs(t, err, errTransport)
}

func TestAggregatedToleratesMinorityFailure(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", err: errTransport},
		{name: "b", nonce: 7},
		{name: "c", nonce: 7},
	}
	client := newTestClient(t, fakes)

	nonce, err := client.GetTransactionCount(context.Background(), "0x1111111111111111111111111111111111111111")
	require.NoError(t, err)
	assert.Equal(t, uint64(7), nonce)
}

func TestSingleEndpointQueriesOnlySelectedNode(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", block: 10},
		{name: "b", block: 12},
		{name: "c", block: 11},
	}
	network, dial := pool(fakes...)
	network.SelectedNode = "b"
	client, err := NewClient(network, WithDialer(dial), WithSingleEndpoint())
	require.NoError(t, err)

	got, err := client.GetCurrentBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "12", got)

	_, err = client.GetTransactionByHash(context.Background(), "0xabc", true)
	assert.ErrorIs(t, err, ErrTransactionNotFound)

	assert.Equal(t, int32(0), fakes[0].calls.Load())
	assert.Equal(t, int32(2), fakes[1].calls.Load())
	assert.Equal(t, int32(0), fakes[2].calls.Load())
}

func TestSingleEndpointDownIsUnreachable(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", err: errTransport}, {name: "b", balance: big.NewInt(1)}}
	client := newTestClient(t, fakes, WithSingleEndpoint())

	_, err := client.GetRawBalance(context.Background(), "0x1111111111111111111111111111111111111111")
	assert.ErrorIs(t, err, ErrEndpointUnreachable)
	assert.Equal(t, int32(0), fakes[1].calls.Load())
}

func TestSingleEndpointNodeErrorIsNotUnreachable(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", err: nodeRejection("header not found")}}
	client := newTestClient(t, fakes, WithSingleEndpoint())

	_, err := client.GetRawBalance(context.Background(), "0x1111111111111111111111111111111111111111")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrEndpointUnreachable)
	rpcErr, ok := nodeError(err)
	require.True(t, ok)
	assert.Equal(t, "header not found", rpcErr.Message)
}

func TestCurrentBlockUsesWeightedMedian(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", block: 100},
		{name: "b", block: 101},
		{name: "c", block: 99},
	}
	network, dial := pool(fakes...)
	network.Quorum = 3
	client, err := NewClient(network, WithDialer(dial))
	require.NoError(t, err)

	got, err := client.GetCurrentBlock(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "100", got)
}

func TestRaceLookupReturnsTheOnlyKnownTransaction(t *testing.T) {
	want := &domain.TxResponse{Hash: "0xabc", Nonce: 3}
	delays := []time.Duration{time.Millisecond, 2 * time.Millisecond, 30 * time.Millisecond}
	for winner, name := range []string{"a", "b", "c"} {
		t.Run("known by "+name, func(t *testing.T) {
			fakes := []*fakeBackend{
				{name: "a", delay: delays[0]},
				{name: "b", delay: delays[1]},
				{name: "c", delay: delays[2]},
			}
			fakes[winner].tx = want
			client := newTestClient(t, fakes)

			got, err := client.GetTransactionByHash(context.Background(), "0xABC", true)
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestRaceLookupWaitsOnlyForFastestSuccess(t *testing.T) {
	want := &domain.TxResponse{Hash: "0xabc"}
	fakes := []*fakeBackend{
		{name: "a", delay: time.Millisecond},
		{name: "b", delay: 5 * time.Millisecond, tx: want},
		{name: "c", delay: 2 * time.Second, tx: want},
	}
	client := newTestClient(t, fakes)

	start := time.Now()
	got, err := client.GetTransactionByHash(context.Background(), "0xabc", true)
	require.NoError(t, err)
	assert.Equal(t, want, got)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRaceLookupAllAbsentIsNotFound(t *testing.T) {
	fakes := []*fakeBackend{{name: "a"}, {name: "b"}, {name: "c", err: errTransport}}
	client := newTestClient(t, fakes)

	_, err := client.GetTransactionByHash(context.Background(), "0xabc", true)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
	assert.Equal(t, int32(3), totalCalls(fakes...))
}

func TestAggregatedLookupAgreedAbsenceIsNotFound(t *testing.T) {
	fakes := []*fakeBackend{{name: "a"}, {name: "b"}}
	client := newTestClient(t, fakes)

	_, err := client.GetTransactionByHash(context.Background(), "0xabc", false)
	assert.ErrorIs(t, err, ErrTransactionNotFound)
}

func TestReceiptAbsentIsNotAnError(t *testing.T) {
	fakes := []*fakeBackend{{name: "a"}, {name: "b"}}
	client := newTestClient(t, fakes)

	receipt, err := client.GetTransactionReceipt(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Nil(t, receipt)
}

func TestEstimateGasRevertedByQuorum(t *testing.T) {
	revert := nodeRejection("execution reverted: not owner")
	fakes := []*fakeBackend{
		{name: "a", err: revert},
		{name: "b", err: revert},
		{name: "c", gas: 21000},
	}
	network, dial := pool(fakes...)
	network.Quorum = 2
	client, err := NewClient(network, WithDialer(dial))
	require.NoError(t, err)

	_, err = client.EstimateGas(context.Background(), domain.TxRequest{To: "0x1111111111111111111111111111111111111111"})
	assert.ErrorIs(t, err, ErrEstimationReverted)
}

func TestEstimateGasReturnsDecimalString(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", gas: 21000}, {name: "b", gas: 21000}}
	client := newTestClient(t, fakes)

	gas, err := client.EstimateGas(context.Background(), domain.TxRequest{})
	require.NoError(t, err)
	assert.Equal(t, "21000", gas)
}

func TestGetGasPrice(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", price: big.NewInt(30_000_000_000)},
		{name: "b", price: big.NewInt(31_000_000_000)},
		{name: "c", price: big.NewInt(29_000_000_000)},
	}
	network, dial := pool(fakes...)
	network.Quorum = 3
	client, err := NewClient(network, WithDialer(dial))
	require.NoError(t, err)

	price, err := client.GetGasPrice(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "30000000000", price.String())
}

func TestTokenBalance(t *testing.T) {
	encoded := common.LeftPadBytes(big.NewInt(2_500_000).Bytes(), 32)
	fakes := []*fakeBackend{{name: "a", result: hexutil.Encode(encoded)}}
	client := newTestClient(t, fakes)
	token := domain.Asset{Symbol: "USDC", Contract: "0x2222222222222222222222222222222222222222", Decimals: 6}

	raw, err := client.GetRawTokenBalance(context.Background(), "0x1111111111111111111111111111111111111111", token)
	require.NoError(t, err)
	assert.Equal(t, int64(2_500_000), raw.Int64())

	display, err := client.GetTokenBalance(context.Background(), "0x1111111111111111111111111111111111111111", token)
	require.NoError(t, err)
	assert.Equal(t, "2.5", display)
}

func TestTokenBalanceDecodeError(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", result: "0x1234"}}
	client := newTestClient(t, fakes)

	_, err := client.GetRawTokenBalance(context.Background(), "0x1111111111111111111111111111111111111111",
		domain.Asset{Contract: "0x2222222222222222222222222222222222222222"})
	assert.ErrorIs(t, err, ErrDecode)
}

func TestTokenBalanceRejectsBadOwner(t *testing.T) {
	client := newTestClient(t, []*fakeBackend{{name: "a"}})

	_, err := client.GetRawTokenBalance(context.Background(), "not-an-address", domain.Asset{})
	assert.Error(t, err)
}

func signedTransfer(t *testing.T) (string, *types.Transaction, common.Address) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	to := common.HexToAddress("0x3333333333333333333333333333333333333333")
	tx, err := types.SignNewTx(key, types.LatestSignerForChainID(big.NewInt(1)), &types.LegacyTx{
		Nonce:    5,
		To:       &to,
		Value:    big.NewInt(1000),
		Gas:      21000,
		GasPrice: big.NewInt(2_000_000_000),
	})
	require.NoError(t, err)
	raw, err := tx.MarshalBinary()
	require.NoError(t, err)
	return hexutil.Encode(raw), tx, crypto.PubkeyToAddress(key.PublicKey)
}

func TestSendRawTxFirstAcceptanceWins(t *testing.T) {
	payload, tx, from := signedTransfer(t)
	hash := tx.Hash().Hex()
	fakes := []*fakeBackend{
		{name: "a", err: errTransport},
		{name: "b", result: hash},
		{name: "c", delay: 10 * time.Millisecond, result: hash},
	}
	client := newTestClient(t, fakes)

	resp, err := client.SendRawTx(context.Background(), payload)
	require.NoError(t, err)
	assert.Equal(t, strings.ToLower(hash), resp.Hash)
	assert.Equal(t, strings.ToLower(from.Hex()), resp.From)
	assert.Equal(t, "0x3333333333333333333333333333333333333333", resp.To)
	assert.Equal(t, uint64(5), resp.Nonce)
	assert.Equal(t, uint64(21000), resp.Gas)
	assert.Equal(t, "1000", resp.Value)
	assert.Equal(t, uint64(1), resp.ChainID)
	assert.Equal(t, payload, fakes[1].sent)
}

func TestSendRawTxRejectedByEveryNode(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", sendErr: nodeRejection("nonce too low")},
		{name: "b", sendErr: nodeRejection("nonce too low")},
		{name: "c", sendErr: nodeRejection("insufficient funds")},
	}
	client := newTestClient(t, fakes)

	_, err := client.SendRawTx(context.Background(), "0x01")
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrProviderUnavailable)
}

func TestSendRawTxPartialRejectionIsUnavailable(t *testing.T) {
	fakes := []*fakeBackend{
		{name: "a", sendErr: nodeRejection("nonce too low")},
		{name: "b", err: errTransport},
		{name: "c", err: errTransport},
	}
	client := newTestClient(t, fakes)

	_, err := client.SendRawTx(context.Background(), "0x01")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestSendRawTxSingleEndpointRejection(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", sendErr: nodeRejection("nonce too low")}, {name: "b", err: errTransport}}
	client := newTestClient(t, fakes, WithSingleEndpoint())

	_, err := client.SendRawTx(context.Background(), "0x01")
	assert.ErrorIs(t, err, ErrRejected)
	assert.NotErrorIs(t, err, ErrEndpointUnreachable)
}

func TestSendRawTxNoEndpointReachable(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", err: errTransport}, {name: "b", err: errTransport}}
	client := newTestClient(t, fakes)

	_, err := client.SendRawTx(context.Background(), "0x01")
	assert.ErrorIs(t, err, ErrProviderUnavailable)
	assert.NotErrorIs(t, err, ErrRejected)
}

func TestSendRawTxUndecodablePayloadKeepsHash(t *testing.T) {
	fakes := []*fakeBackend{{name: "a", result: "0xABCD"}}
	client := newTestClient(t, fakes)

	resp, err := client.SendRawTx(context.Background(), "0xdeadbeef")
	require.NoError(t, err)
	assert.Equal(t, "0xabcd", resp.Hash)
	assert.Equal(t, uint64(1), resp.ChainID)
}

type recordingObserver struct {
	calls []string
}

func (r *recordingObserver) ObserveRPCCall(method, mode, status string, _ time.Duration) {
	r.calls = append(r.calls, method+"/"+mode+"/"+status)
}

func TestObserverSeesEveryCall(t *testing.T) {
	observer := &recordingObserver{}
	fakes := []*fakeBackend{{name: "a", block: 1}}
	client := newTestClient(t, fakes, WithObserver(observer))

	_, err := client.GetCurrentBlock(context.Background())
	require.NoError(t, err)
	_, err = client.GetTransactionByHash(context.Background(), "0xabc", true)
	require.Error(t, err)

	assert.Equal(t, []string{"blockNumber/aggregated/success", "getTransaction/race/error"}, observer.calls)
}
