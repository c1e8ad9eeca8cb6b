// Package sui is a minimal fullnode JSON-RPC client: wallet balances and
// transaction finality.
package sui

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// DefaultURLs are the public fullnodes per network.
var DefaultURLs = map[domain.Network]string{
	domain.NetworkMainnet: "https://fullnode.mainnet.sui.io:443",
	domain.NetworkTestnet: "https://fullnode.testnet.sui.io:443",
}

// Client talks JSON-RPC 2.0 to a fullnode.
type Client struct {
	url          string
	httpClient   *http.Client
	pollInterval time.Duration
	nextID       atomic.Int64
}

var (
	_ domain.BalanceSource = (*Client)(nil)
	_ domain.TxWaiter      = (*Client)(nil)
)

// NewClient creates a fullnode client. pollInterval paces
// WaitForTransaction; zero selects one second.
func NewClient(url string, timeout, pollInterval time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Client{
		url:          url,
		httpClient:   &http.Client{Timeout: timeout},
		pollInterval: pollInterval,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *rpcError) Error() string { return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message) }

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

type balanceResult struct {
	CoinType     string `json:"coinType"`
	TotalBalance string `json:"totalBalance"`
}

// WalletBalance returns owner's total balance of coinType in whole units.
func (c *Client) WalletBalance(ctx context.Context, owner, coinType string, decimals int) (float64, error) {
	var res balanceResult
	if err := c.call(ctx, "suix_getBalance", []any{owner, coinType}, &res); err != nil {
		return 0, fmt.Errorf("sui: get balance %s: %w", coinType, err)
	}
	raw, err := decimal.NewFromString(res.TotalBalance)
	if err != nil {
		return 0, fmt.Errorf("sui: get balance %s: %w: %q", coinType, domain.ErrDataUnavailable, res.TotalBalance)
	}
	v, _ := raw.Shift(int32(-decimals)).Float64()
	return v, nil
}

type txBlockResult struct {
	Digest  string `json:"digest"`
	Effects *struct {
		Status struct {
			Status string `json:"status"`
			Error  string `json:"error"`
		} `json:"status"`
	} `json:"effects"`
}

// WaitForTransaction polls until the digest is known to the fullnode. A
// transaction that executed with a failure status yields
// domain.ErrActionFailed carrying the abort message.
func (c *Client) WaitForTransaction(ctx context.Context, digest string) error {
	params := []any{digest, map[string]bool{"showEffects": true}}
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		var res txBlockResult
		err := c.call(ctx, "sui_getTransactionBlock", params, &res)
		switch {
		case err == nil && res.Effects != nil:
			if res.Effects.Status.Status != "success" {
				return fmt.Errorf("sui: transaction %s: %w: %s", digest, domain.ErrActionFailed, res.Effects.Status.Error)
			}
			return nil
		case err != nil && !isNotYetKnown(err):
			return fmt.Errorf("sui: wait for %s: %w", digest, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("sui: wait for %s: %w", digest, ctx.Err())
		case <-ticker.C:
		}
	}
}

// isNotYetKnown matches the fullnode's answer for a digest it has not
// indexed yet.
func isNotYetKnown(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "could not find the referenced transaction") ||
		strings.Contains(msg, "not found")
}

func (c *Client) call(ctx context.Context, method string, params []any, out any) error {
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: http request: %v", domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrDataUnavailable, err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", domain.ErrDataUnavailable, domain.ErrRateLimited)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrDataUnavailable, resp.StatusCode, string(data))
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrDataUnavailable, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%w: decode result: %v", domain.ErrDataUnavailable, err)
	}
	return nil
}
