package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txqueue/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(EnvMap{"CHAIN_ID": "1", "RPC_URL": "http://localhost:8545"})
	require.NoError(t, err)

	assert.Equal(t, uint64(1), cfg.ChainID)
	assert.Equal(t, "chain-1", cfg.NetworkName)
	assert.Equal(t, []domain.Endpoint{{Name: "default", URL: "http://localhost:8545", Weight: 1}}, cfg.Endpoints)
	assert.Equal(t, uint64(1), cfg.Confirmations)
	assert.Equal(t, 5*time.Minute, cfg.ConfirmationTimeout)
	assert.Equal(t, 4*time.Second, cfg.PollInterval)
	assert.Equal(t, "sqlite://txqueue.db", cfg.DBDSN)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.Empty(t, cfg.RedisAddr)
	assert.Equal(t, uint(18), cfg.BaseDecimals)
	assert.False(t, cfg.SingleEndpoint)
}

func TestLoadEndpointPool(t *testing.T) {
	cfg, err := Load(EnvMap{
		"CHAIN_ID":        "137",
		"RPC_ENDPOINTS":   "alchemy=https://a.example|3|0, infura=https://b.example, local=http://127.0.0.1:8545||5",
		"RPC_QUORUM":      "4",
		"SELECTED_NODE":   "infura",
		"SINGLE_ENDPOINT": "true",
		"KAFKA_BROKERS":   "k1:9092, k2:9092",
	})
	require.NoError(t, err)

	require.Len(t, cfg.Endpoints, 3)
	assert.Equal(t, domain.Endpoint{Name: "alchemy", URL: "https://a.example", Weight: 3, Priority: 0}, cfg.Endpoints[0])
	assert.Equal(t, domain.Endpoint{Name: "infura", URL: "https://b.example", Weight: 1, Priority: 1}, cfg.Endpoints[1])
	assert.Equal(t, domain.Endpoint{Name: "local", URL: "http://127.0.0.1:8545", Weight: 1, Priority: 5}, cfg.Endpoints[2])
	assert.True(t, cfg.SingleEndpoint)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)

	network := cfg.Network()
	assert.Equal(t, 4, network.QuorumWeight())
	selected, err := network.Selected()
	require.NoError(t, err)
	assert.Equal(t, "infura", selected.Name)
}

func TestLoadErrors(t *testing.T) {
	cases := map[string]EnvMap{
		"missing chain":      {"RPC_URL": "http://x"},
		"missing endpoints":  {"CHAIN_ID": "1"},
		"bad weight":         {"CHAIN_ID": "1", "RPC_ENDPOINTS": "a=http://x|zero"},
		"duplicate names":    {"CHAIN_ID": "1", "RPC_ENDPOINTS": "a=http://x,a=http://y"},
		"quorum too high":    {"CHAIN_ID": "1", "RPC_URL": "http://x", "RPC_QUORUM": "2"},
		"unknown selected":   {"CHAIN_ID": "1", "RPC_URL": "http://x", "SELECTED_NODE": "nope"},
		"bad duration":       {"CHAIN_ID": "1", "RPC_URL": "http://x", "POLL_INTERVAL": "soon"},
		"bad bool":           {"CHAIN_ID": "1", "RPC_URL": "http://x", "SINGLE_ENDPOINT": "maybe"},
		"too many fields":    {"CHAIN_ID": "1", "RPC_ENDPOINTS": "a=http://x|1|2|3"},
		"bad sample ratio":   {"CHAIN_ID": "1", "RPC_URL": "http://x", "OTEL_SAMPLE_RATIO": "half"},
		"bad confirmations":  {"CHAIN_ID": "1", "RPC_URL": "http://x", "CONFIRMATIONS": "-1"},
		"blank endpoint url": {"CHAIN_ID": "1", "RPC_ENDPOINTS": "a="},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(env)
			assert.Error(t, err)
		})
	}

	_, err := Load(nil)
	assert.Error(t, err)
}

func TestEndpointWithoutName(t *testing.T) {
	cfg, err := Load(EnvMap{"CHAIN_ID": "1", "RPC_ENDPOINTS": "http://x, http://y"})
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 2)
	assert.Equal(t, "node-0", cfg.Endpoints[0].Name)
	assert.Equal(t, "http://x", cfg.Endpoints[0].URL)
	assert.Equal(t, "node-1", cfg.Endpoints[1].Name)
}

func TestEndpointURLWithQuery(t *testing.T) {
	cfg, err := Load(EnvMap{"CHAIN_ID": "1", "RPC_ENDPOINTS": "https://rpc.example/v1?key=abc"})
	require.NoError(t, err)
	require.Len(t, cfg.Endpoints, 1)
	assert.Equal(t, "https://rpc.example/v1?key=abc", cfg.Endpoints[0].URL)
}
