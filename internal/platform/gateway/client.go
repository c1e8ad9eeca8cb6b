// Package gateway is the execution-layer client. The gateway builds the
// venue transaction for each action, has it executed by the operator's
// account and answers with the transaction digest.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// RequestSigner authenticates gateway requests.
type RequestSigner interface {
	Address() string
	RequestHeaders(method, path string, body []byte) map[string]string
}

// Client is the REST client for the execution gateway.
type Client struct {
	baseURL    string
	network    domain.Network
	httpClient *http.Client
	signer     RequestSigner
}

var _ domain.ExecutionLayer = (*Client)(nil)

// NewClient creates a gateway client. A zero timeout selects 60 seconds,
// gateway calls block until the transaction is executed.
func NewClient(baseURL string, network domain.Network, signer RequestSigner, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		network:    network,
		httpClient: &http.Client{Timeout: timeout},
		signer:     signer,
	}
}

type orderBody struct {
	Side          string `json:"side"`
	Quantity      string `json:"quantity"`
	Price         string `json:"price,omitempty"`
	PayWithDeep   bool   `json:"pay_with_deep"`
	ClientOrderID string `json:"client_order_id"`
}

type actionBody struct {
	Sender          string     `json:"sender"`
	Network         string     `json:"network"`
	PoolKey         string     `json:"pool_key"`
	MarginManagerID string     `json:"margin_manager_id,omitempty"`
	Asset           string     `json:"asset,omitempty"`
	Amount          string     `json:"amount,omitempty"`
	OrderID         string     `json:"order_id,omitempty"`
	Order           *orderBody `json:"order,omitempty"`
}

type liquidateBody struct {
	Sender          string `json:"sender"`
	Network         string `json:"network"`
	PoolKey         string `json:"pool_key"`
	MarginManagerID string `json:"margin_manager_id"`
	DebtIsBase      bool   `json:"debt_is_base"`
	RepayAmount     string `json:"repay_amount"`
	RepayRaw        string `json:"repay_raw"`
	CoinType        string `json:"coin_type"`
}

type txResponse struct {
	Digest          string `json:"digest"`
	MarginManagerID string `json:"margin_manager_id"`
}

// Submit dispatches one user action.
func (c *Client) Submit(ctx context.Context, req domain.ActionRequest) (domain.TxResult, error) {
	if req.Kind == domain.ActionLiquidate {
		return domain.TxResult{}, errors.New("gateway: liquidations go through Liquidate")
	}
	if req.Kind != domain.ActionCreateManager && req.ManagerID == "" {
		return domain.TxResult{}, fmt.Errorf("gateway: %s: %w", req.Kind, domain.ErrNoManager)
	}

	body := actionBody{
		Sender:          c.signer.Address(),
		Network:         string(c.network),
		PoolKey:         req.PoolKey,
		MarginManagerID: req.ManagerID,
		OrderID:         req.OrderID,
	}
	if req.Asset != "" {
		body.Asset = string(req.Asset)
	}
	if req.Amount != 0 {
		body.Amount = formatAmount(req.Amount)
	}
	if req.Order != nil {
		o := req.Order
		id := o.ClientOrderID
		if id == "" {
			id = uuid.NewString()
		}
		body.Order = &orderBody{
			Side:          string(o.Side),
			Quantity:      formatAmount(o.Quantity),
			PayWithDeep:   o.PayWithDeep,
			ClientOrderID: id,
		}
		if req.Kind == domain.ActionLimitOrder {
			body.Order.Price = formatAmount(o.Price)
		}
	}

	res, err := c.post(ctx, "/v1/margin/"+string(req.Kind), body)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("gateway: %s: %w", req.Kind, err)
	}
	return res, nil
}

// Liquidate dispatches a prepared liquidation.
func (c *Client) Liquidate(ctx context.Context, req domain.LiquidationRequest) (domain.TxResult, error) {
	body := liquidateBody{
		Sender:          c.signer.Address(),
		Network:         string(c.network),
		PoolKey:         req.PoolKey,
		MarginManagerID: req.ManagerID,
		DebtIsBase:      req.DebtIsBase,
		RepayAmount:     formatAmount(req.RepayAmount),
		RepayRaw:        strconv.FormatUint(req.RepayRaw, 10),
		CoinType:        req.CoinType,
	}
	res, err := c.post(ctx, "/v1/margin/liquidate", body)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("gateway: liquidate %s: %w", req.ManagerID, err)
	}
	return res, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

func (c *Client) post(ctx context.Context, path string, body any) (domain.TxResult, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.signer.RequestHeaders(http.MethodPost, path, payload) {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return domain.TxResult{}, ctxErr
		}
		return domain.TxResult{}, fmt.Errorf("%w: http request: %v", domain.ErrActionFailed, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.TxResult{}, fmt.Errorf("%w: read response: %v", domain.ErrActionFailed, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, respBody); err != nil {
		return domain.TxResult{}, err
	}

	var tx txResponse
	if err := json.Unmarshal(respBody, &tx); err != nil {
		return domain.TxResult{}, fmt.Errorf("%w: decode response: %v", domain.ErrActionFailed, err)
	}
	if tx.Digest == "" {
		return domain.TxResult{}, fmt.Errorf("%w: response carries no digest", domain.ErrActionFailed)
	}
	return domain.TxResult{Digest: tx.Digest, ManagerID: tx.MarginManagerID}, nil
}

// checkHTTPStatus maps non-2xx answers to ErrActionFailed, joined with the
// more specific sentinel where one applies.
func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}
	failed := fmt.Errorf("%w: HTTP %d: %s", domain.ErrActionFailed, statusCode, msg)
	switch statusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return errors.Join(failed, domain.ErrUnauthorized)
	case http.StatusTooManyRequests:
		return errors.Join(failed, domain.ErrRateLimited)
	default:
		return failed
	}
}

func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
