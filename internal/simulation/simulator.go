// Package simulation dry-runs serialized transactions against a Solana RPC
// node.
package simulation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/alanyoungcy/dexarb/internal/domain"
)

// Result is the outcome of a simulation that reached the node. OK is false
// when the transaction would revert; Reason then explains why.
type Result struct {
	OK            bool     `json:"ok"`
	Logs          []string `json:"logs,omitempty"`
	UnitsConsumed uint64   `json:"units_consumed,omitempty"`
	Reason        string   `json:"reason,omitempty"`
}

// Simulator runs a serialized transaction without broadcasting it.
type Simulator interface {
	Simulate(ctx context.Context, payload string) (Result, error)
}

// RPC is a Simulator backed by the simulateTransaction JSON-RPC method.
type RPC struct {
	url    string
	client *http.Client
}

// NewRPC creates an RPC simulator for the given endpoint.
func NewRPC(url string, timeout time.Duration) *RPC {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &RPC{url: url, client: &http.Client{Timeout: timeout}}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int    `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result *struct {
		Value struct {
			Err           json.RawMessage `json:"err"`
			Logs          []string        `json:"logs"`
			UnitsConsumed uint64          `json:"unitsConsumed"`
		} `json:"value"`
	} `json:"result"`
	Error *rpcError `json:"error"`
}

// Simulate submits payload (base64) for simulation. Transport failures, RPC
// errors and malformed replies wrap domain.ErrUpstream; a simulated revert
// is reported through Result.
func (r *RPC) Simulate(ctx context.Context, payload string) (Result, error) {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "simulateTransaction",
		Params: []any{
			payload,
			map[string]any{
				"encoding":   "base64",
				"commitment": "confirmed",
				"sigVerify":  false,
			},
		},
	})
	if err != nil {
		return Result{}, fmt.Errorf("simulation: marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(body))
	if err != nil {
		return Result{}, fmt.Errorf("simulation: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return Result{}, fmt.Errorf("simulation: %w: %w", domain.ErrUpstream, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, fmt.Errorf("simulation: read response: %w: %w", domain.ErrUpstream, err)
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, fmt.Errorf("simulation: %w: status %d: %s", domain.ErrUpstream, resp.StatusCode, strings.TrimSpace(string(raw)))
	}

	var decoded rpcResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return Result{}, fmt.Errorf("simulation: %w: decode response: %w", domain.ErrUpstream, err)
	}
	if decoded.Error != nil {
		return Result{}, fmt.Errorf("simulation: %w: rpc error %d: %s", domain.ErrUpstream, decoded.Error.Code, decoded.Error.Message)
	}
	if decoded.Result == nil {
		return Result{}, fmt.Errorf("simulation: %w: response has no result", domain.ErrUpstream)
	}

	v := decoded.Result.Value
	res := Result{OK: true, Logs: v.Logs, UnitsConsumed: v.UnitsConsumed}
	if len(v.Err) > 0 && string(v.Err) != "null" {
		res.OK = false
		res.Reason = "Transaction would fail: " + string(v.Err)
	}
	return res, nil
}
