package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/qcnet/warden/internal/metrics"
)

// RPC error code the ledger node uses for an over-drawn burn.
const codeInsufficientFunds = -32001

// Client is a JSON-RPC client for a remote ledger node. Transient transport
// failures are retried with exponential backoff; RPC-level errors are not.
type Client struct {
	url        string
	httpClient *http.Client
	reqID      atomic.Int64
}

// NewClient creates a ledger client for the given endpoint.
func NewClient(url string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

// Mint credits amount to account.
func (c *Client) Mint(ctx context.Context, account string, amount uint64) error {
	_, err := c.call(ctx, "ledger_mint", []any{account, amount})
	return err
}

// Burn debits amount from account.
func (c *Client) Burn(ctx context.Context, account string, amount uint64) error {
	_, err := c.call(ctx, "ledger_burn", []any{account, amount})
	return err
}

// Balance retrieves the current balance of account.
func (c *Client) Balance(ctx context.Context, account string) (uint64, error) {
	result, err := c.call(ctx, "ledger_balance", []any{account})
	if err != nil {
		return 0, err
	}

	dec := json.NewDecoder(bytes.NewReader(result))
	dec.UseNumber()
	var n json.Number
	if err := dec.Decode(&n); err != nil {
		return 0, fmt.Errorf("invalid balance response: %w", err)
	}
	balance, err := strconv.ParseUint(n.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid balance response: %w", err)
	}
	return balance, nil
}

// Health checks connectivity.
func (c *Client) Health(ctx context.Context) error {
	_, err := c.call(ctx, "ledger_health", nil)
	return err
}

func (c *Client) call(ctx context.Context, method string, params []any) (json.RawMessage, error) {
	start := time.Now()
	defer func() {
		metrics.RPCLatency.WithLabelValues("ledger", method).Observe(time.Since(start).Seconds())
	}()

	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.reqID.Add(1),
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var result json.RawMessage
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("ledger call: %w", err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}

		var rpcResp struct {
			Result json.RawMessage `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &rpcResp); err != nil {
			if resp.StatusCode >= 500 {
				return retry.RetryableError(fmt.Errorf("ledger http %d: %s", resp.StatusCode, body))
			}
			return fmt.Errorf("ledger http %d: unmarshal response: %w", resp.StatusCode, err)
		}
		if rpcResp.Error != nil {
			if rpcResp.Error.Code == codeInsufficientFunds {
				return fmt.Errorf("%w: %s", ErrInsufficientFunds, rpcResp.Error.Message)
			}
			return fmt.Errorf("ledger rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}
		result = rpcResp.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}
