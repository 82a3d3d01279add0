package simulation

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

func rpcServer(t *testing.T, status int, reply string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req rpcRequest
		if assert.NoError(t, json.NewDecoder(r.Body).Decode(&req)) {
			assert.Equal(t, "simulateTransaction", req.Method)
			assert.Equal(t, "AQID", req.Params[0])
			opts, _ := req.Params[1].(map[string]any)
			assert.Equal(t, "base64", opts["encoding"])
			assert.Equal(t, false, opts["sigVerify"])
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestSimulateSuccess(t *testing.T) {
	srv := rpcServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"value":{"err":null,"logs":["Program log: ok"],"unitsConsumed":4200}}}`)

	res, err := NewRPC(srv.URL, 0).Simulate(context.Background(), "AQID")
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, uint64(4200), res.UnitsConsumed)
	assert.Equal(t, []string{"Program log: ok"}, res.Logs)
}

func TestSimulateRevert(t *testing.T) {
	srv := rpcServer(t, http.StatusOK, `{"jsonrpc":"2.0","id":1,"result":{"value":{"err":{"InstructionError":[0,"Custom"]},"logs":[]}}}`)

	res, err := NewRPC(srv.URL, 0).Simulate(context.Background(), "AQID")
	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, `Transaction would fail: {"InstructionError":[0,"Custom"]}`, res.Reason)
}

func TestSimulateUpstreamFailures(t *testing.T) {
	cases := map[string]struct {
		status int
		reply  string
		text   string
	}{
		"http status": {http.StatusBadGateway, "node down", "node down"},
		"rpc error":   {http.StatusOK, `{"jsonrpc":"2.0","id":1,"error":{"code":-32602,"message":"invalid transaction"}}`, "invalid transaction"},
		"malformed":   {http.StatusOK, `not json`, "decode response"},
		"no result":   {http.StatusOK, `{"jsonrpc":"2.0","id":1}`, "no result"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			srv := rpcServer(t, tc.status, tc.reply)
			_, err := NewRPC(srv.URL, 0).Simulate(context.Background(), "AQID")
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrUpstream)
			assert.Contains(t, err.Error(), tc.text)
		})
	}
}
