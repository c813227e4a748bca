package main

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"txqueue/internal/infrastructure/signer"
)

const devKey = "0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80"

func TestCommandsRegistered(t *testing.T) {
	app := newApp()
	names := make([]string, 0, len(app.Commands))
	for _, cmd := range app.Commands {
		names = append(names, cmd.Name)
	}
	assert.ElementsMatch(t, []string{"run", "serve", "consume", "balance", "token-balance", "tx", "receipt", "block", "nonce"}, names)
}

func TestReadIntents(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "intents.json")
	require.NoError(t, os.WriteFile(path, []byte(`[
		{"kind": "approve", "tx": {"to": "0x00000000000000000000000000000000000000aa", "data": "0x095ea7b3"}},
		{"tx": {"to": "0x00000000000000000000000000000000000000bb", "value": "1000"}}
	]`), 0o644))

	intents, err := readIntents(path)
	require.NoError(t, err)
	require.Len(t, intents, 2)
	assert.Equal(t, "approve", intents[0].Kind)
	assert.Equal(t, "transfer", intents[1].Kind)
	assert.Equal(t, "1000", intents[1].Tx.Value)

	empty := filepath.Join(dir, "empty.json")
	require.NoError(t, os.WriteFile(empty, []byte(`[]`), 0o644))
	_, err = readIntents(empty)
	assert.Error(t, err)

	_, err = readIntents(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)
}

func TestResolveAccount(t *testing.T) {
	ks, err := signer.NewKeySigner(devKey, 1)
	require.NoError(t, err)

	account, err := resolveAccount("", "ops", 1, ks)
	require.NoError(t, err)
	assert.Equal(t, ks.Address(), account.Address)
	assert.Equal(t, "ops", account.Label)
	assert.Equal(t, uint64(1), account.ChainID)

	account, err = resolveAccount("0xF39FD6E51AAD88F6F4CE6AB8827279CFFFB92266", "", 1, ks)
	require.NoError(t, err)
	assert.Equal(t, ks.Address(), account.Address)

	_, err = resolveAccount("0x0000000000000000000000000000000000000001", "", 1, ks)
	assert.Error(t, err)
}

func TestBalanceCommandPrintsJSON(t *testing.T) {
	node := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     any    `json:"id"`
			Method string `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		if req.Method == "eth_getBalance" {
			resp["result"] = "0x14d1120d7b160000"
		} else {
			resp["error"] = map[string]any{"code": -32601, "message": "method not found"}
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	defer node.Close()

	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("RPC_ENDPOINTS", "a="+node.URL+",b="+node.URL)
	t.Setenv("LOG_LEVEL", "error")

	var out bytes.Buffer
	run := func(args ...string) error {
		app := newApp()
		app.Writer = &out
		return app.Run(append([]string{"txqueue"}, args...))
	}
	require.NoError(t, run("balance", "0xabc"))

	var printed map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, "1.5", printed["balance"])
	assert.Equal(t, "ETH", printed["symbol"])

	out.Reset()
	require.NoError(t, run("--single", "--node", "b", "balance", "--raw", "0xabc"))
	require.NoError(t, json.Unmarshal(out.Bytes(), &printed))
	assert.Equal(t, "1500000000000000000", printed["balance"])

	assert.Error(t, run("balance"))
}

func TestRunRequiresSigner(t *testing.T) {
	previous := slog.Default()
	t.Cleanup(func() { slog.SetDefault(previous) })
	t.Setenv("CHAIN_ID", "31337")
	t.Setenv("RPC_URL", "http://127.0.0.1:1")
	t.Setenv("SIGNER_KEY", "")
	t.Setenv("LOG_LEVEL", "error")

	path := filepath.Join(t.TempDir(), "intents.json")
	require.NoError(t, os.WriteFile(path, []byte(`[{"kind":"transfer","tx":{"to":"0x00000000000000000000000000000000000000aa"}}]`), 0o644))

	err := newApp().Run([]string{"txqueue", "run", "--file", path})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SIGNER_KEY")
}
