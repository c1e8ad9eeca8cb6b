// Package indexer is the read-only client for the venue's margin indexer.
package indexer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/alanyoungcy/marginbot/internal/domain"
)

// DefaultURLs are the public indexer endpoints per network.
var DefaultURLs = map[domain.Network]string{
	domain.NetworkMainnet: "https://deepbook-indexer.mainnet.mystenlabs.com",
	domain.NetworkTestnet: "https://deepbook-indexer.testnet.mystenlabs.com",
}

// Client is the REST client for the margin indexer.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an indexer client. A zero timeout selects 30 seconds.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// StateFilter narrows /margin_manager_states.
type StateFilter struct {
	MaxRiskRatio *float64
	PoolID       string
}

// MarginManagerStates returns the raw state rows matching f.
func (c *Client) MarginManagerStates(ctx context.Context, f StateFilter) ([]APIMarginManagerState, error) {
	params := url.Values{}
	if f.MaxRiskRatio != nil {
		params.Set("max_risk_ratio", strconv.FormatFloat(*f.MaxRiskRatio, 'f', -1, 64))
	}
	if f.PoolID != "" {
		params.Set("deepbook_pool_id", f.PoolID)
	}

	var states []APIMarginManagerState
	if err := c.getJSON(ctx, "/margin_manager_states", params, &states); err != nil {
		return nil, fmt.Errorf("indexer: get margin manager states: %w", err)
	}
	return states, nil
}

// MarginPosition returns the state of one manager. A manager the indexer
// has not seen yet yields domain.ErrNotFound.
func (c *Client) MarginPosition(ctx context.Context, managerID string) (domain.MarginPosition, error) {
	want, err := domain.NormalizeObjectID(managerID)
	if err != nil {
		return domain.MarginPosition{}, err
	}
	states, err := c.MarginManagerStates(ctx, StateFilter{})
	if err != nil {
		return domain.MarginPosition{}, err
	}
	for _, s := range states {
		id, err := domain.NormalizeObjectID(s.MarginManagerID)
		if err != nil || id != want {
			continue
		}
		p, err := s.ToDomainPosition()
		if err != nil {
			return domain.MarginPosition{}, fmt.Errorf("indexer: decode state %s: %w", managerID, err)
		}
		return p, nil
	}
	return domain.MarginPosition{}, fmt.Errorf("indexer: margin manager %s: %w", managerID, domain.ErrNotFound)
}

// LiquidatablePositions returns managers at or below maxRiskRatio,
// optionally restricted to one pool. Rows that fail to parse are returned
// as an error rather than dropped.
func (c *Client) LiquidatablePositions(ctx context.Context, maxRiskRatio float64, poolID string) ([]domain.LiquidatablePosition, error) {
	states, err := c.MarginManagerStates(ctx, StateFilter{MaxRiskRatio: &maxRiskRatio, PoolID: poolID})
	if err != nil {
		return nil, err
	}
	out := make([]domain.LiquidatablePosition, 0, len(states))
	for _, s := range states {
		lp, err := s.ToLiquidatable()
		if err != nil {
			return nil, fmt.Errorf("indexer: decode state %s: %w", s.MarginManagerID, err)
		}
		out = append(out, lp)
	}
	return out, nil
}

// MarginManagersInfo lists every known manager with its pool wiring.
func (c *Client) MarginManagersInfo(ctx context.Context) ([]APIMarginManagerInfo, error) {
	var infos []APIMarginManagerInfo
	if err := c.getJSON(ctx, "/margin_managers_info", nil, &infos); err != nil {
		return nil, fmt.Errorf("indexer: get margin managers info: %w", err)
	}
	return infos, nil
}

// Pools returns the order-book pools.
func (c *Client) Pools(ctx context.Context) ([]domain.Pool, error) {
	var apiPools []APIPool
	if err := c.getJSON(ctx, "/get_pools", nil, &apiPools); err != nil {
		return nil, fmt.Errorf("indexer: get pools: %w", err)
	}
	pools := make([]domain.Pool, 0, len(apiPools))
	for i := range apiPools {
		pools = append(pools, apiPools[i].ToDomainPool())
	}
	return pools, nil
}

var eventPaths = map[domain.ManagerEventKind]string{
	domain.EventManagerCreated: "/margin_manager_created",
	domain.EventCollateral:     "/collateral_events",
	domain.EventLoanBorrowed:   "/loan_borrowed",
	domain.EventLoanRepaid:     "/loan_repaid",
	domain.EventLiquidation:    "/liquidation",
}

// ManagerEvents returns the history of one kind for a manager.
func (c *Client) ManagerEvents(ctx context.Context, kind domain.ManagerEventKind, managerID string, q domain.EventQuery) ([]domain.ManagerEvent, error) {
	path, ok := eventPaths[kind]
	if !ok {
		return nil, fmt.Errorf("indexer: unknown event kind %q", kind)
	}
	params := url.Values{}
	params.Set("margin_manager_id", managerID)
	if q.MarginPoolID != "" {
		params.Set("margin_pool_id", q.MarginPoolID)
	}
	if q.Start != nil {
		params.Set("start_time", strconv.FormatInt(q.Start.UnixMilli(), 10))
	}
	if q.End != nil {
		params.Set("end_time", strconv.FormatInt(q.End.UnixMilli(), 10))
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	var raw []apiEvent
	if err := c.getJSON(ctx, path, params, &raw); err != nil {
		return nil, fmt.Errorf("indexer: get %s events: %w", kind, err)
	}
	events := make([]domain.ManagerEvent, 0, len(raw))
	for _, e := range raw {
		events = append(events, e.toDomain(kind))
	}
	return events, nil
}

// --------------------------------------------------------------------------
// Internal helpers
// --------------------------------------------------------------------------

// getJSON issues a GET and decodes the body into out. Transport failures,
// non-2xx answers and undecodable bodies all wrap domain.ErrDataUnavailable
// so callers can keep their last good data.
func (c *Client) getJSON(ctx context.Context, path string, params url.Values, out any) error {
	u := c.baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: http request: %v", domain.ErrDataUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", domain.ErrDataUnavailable, err)
	}
	if err := checkHTTPStatus(resp.StatusCode, body); err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", domain.ErrDataUnavailable, err)
	}
	return nil
}

func checkHTTPStatus(statusCode int, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	msg := string(body)
	var apiErr struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
		msg = apiErr.Message
	}
	switch statusCode {
	case http.StatusTooManyRequests:
		return errors.Join(domain.ErrDataUnavailable, fmt.Errorf("%w: %s", domain.ErrRateLimited, msg))
	default:
		return fmt.Errorf("%w: HTTP %d: %s", domain.ErrDataUnavailable, statusCode, msg)
	}
}
