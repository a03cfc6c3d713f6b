package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/qcnet/warden/internal/metrics"
)

// Bitcoin Core error code for an unknown transaction.
const codeTxNotFound = -5

// Config holds the relay node connection settings.
type Config struct {
	URL              string
	User             string
	Password         string
	MinConfirmations uint64
	Timeout          time.Duration
}

// Client verifies settlement facts against a Bitcoin-style node over
// JSON-RPC 1.0 (validateaddress, verifymessage, getrawtransaction).
type Client struct {
	cfg        Config
	httpClient *http.Client
	reqID      atomic.Int64
}

// NewClient creates a relay client.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &Client{
		cfg: cfg,
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

// ValidateAddress checks the address against the node.
func (c *Client) ValidateAddress(ctx context.Context, address string) error {
	result, err := c.call(ctx, "validateaddress", []any{address})
	if err != nil {
		return fmt.Errorf("failed to validate address: %w", err)
	}
	data, ok := result.(map[string]any)
	if !ok {
		return fmt.Errorf("invalid validateaddress response")
	}
	if valid, _ := data["isvalid"].(bool); !valid {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, address)
	}
	return nil
}

// VerifyAddressControl checks the challenge signature through verifymessage.
func (c *Client) VerifyAddressControl(ctx context.Context, address, challenge, signature string) error {
	result, err := c.call(ctx, "verifymessage", []any{address, signature, challenge})
	if err != nil {
		return fmt.Errorf("failed to verify message: %w", err)
	}
	verified, ok := result.(bool)
	if !ok {
		return fmt.Errorf("invalid verifymessage response")
	}
	if !verified {
		return ErrBadSignature
	}
	return nil
}

// VerifyPayment retrieves the transaction with verbose decoding and checks
// its confirmation depth.
func (c *Client) VerifyPayment(ctx context.Context, txID string) (*Payment, error) {
	result, err := c.call(ctx, "getrawtransaction", []any{txID, true})
	if err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrProofNotFound, txID)
		}
		return nil, fmt.Errorf("failed to get transaction: %w", err)
	}

	data, ok := result.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("invalid transaction response")
	}
	payment := &Payment{TxID: txID}
	if conf, ok := data["confirmations"].(float64); ok {
		payment.Confirmations = uint64(conf)
	}
	if payment.Confirmations < c.cfg.MinConfirmations {
		return nil, fmt.Errorf("%w: %d of %d", ErrUnconfirmed, payment.Confirmations, c.cfg.MinConfirmations)
	}

	vout, ok := data["vout"].([]any)
	if !ok {
		return nil, fmt.Errorf("invalid transaction outputs")
	}
	for _, outRaw := range vout {
		outData, ok := outRaw.(map[string]any)
		if !ok {
			continue
		}
		address := extractOutputAddress(outData)
		if address == "" {
			continue
		}
		var amount uint64
		if value, ok := outData["value"].(float64); ok {
			// Node reports BTC; custody accounting runs in satoshis.
			amount = uint64(math.Round(value * 100_000_000))
		}
		payment.Outputs = append(payment.Outputs, Output{Address: address, Amount: amount})
	}
	return payment, nil
}

// Health checks connectivity through getblockcount.
func (c *Client) Health(ctx context.Context) error {
	if _, err := c.call(ctx, "getblockcount", nil); err != nil {
		return fmt.Errorf("relay unhealthy: %w", err)
	}
	return nil
}

func (c *Client) call(ctx context.Context, method string, params []any) (any, error) {
	start := time.Now()
	defer func() {
		metrics.RPCLatency.WithLabelValues("relay", method).Observe(time.Since(start).Seconds())
	}()

	if params == nil {
		params = []any{}
	}
	reqBody := map[string]any{
		"jsonrpc": "1.0",
		"method":  method,
		"params":  params,
		"id":      c.reqID.Add(1),
	}
	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	var result any
	backoff := retry.WithMaxRetries(3, retry.NewExponential(200*time.Millisecond))
	err = retry.Do(ctx, backoff, func(ctx context.Context) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL, bytes.NewReader(jsonData))
		if err != nil {
			return fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.User != "" {
			req.SetBasicAuth(c.cfg.User, c.cfg.Password)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("relay call: %w", err))
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return retry.RetryableError(fmt.Errorf("read response: %w", err))
		}

		// The node reports RPC errors with a 500 status and a JSON body;
		// only an unparseable body marks the node itself as unhealthy.
		var rpcResp struct {
			Result any `json:"result"`
			Error  *struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if err := json.Unmarshal(body, &rpcResp); err != nil {
			if resp.StatusCode >= 500 {
				return retry.RetryableError(fmt.Errorf("relay http %d: %s", resp.StatusCode, body))
			}
			return fmt.Errorf("relay http %d: unmarshal response: %w", resp.StatusCode, err)
		}
		if rpcResp.Error != nil {
			return fmt.Errorf("relay rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message)
		}
		result = rpcResp.Result
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// extractOutputAddress reads the address from a vout scriptPubKey, handling
// both the modern single-address field and the legacy addresses array.
func extractOutputAddress(outData map[string]any) string {
	scriptPubKey, ok := outData["scriptPubKey"].(map[string]any)
	if !ok {
		return ""
	}
	if addr, ok := scriptPubKey["address"].(string); ok {
		return addr
	}
	if addresses, ok := scriptPubKey["addresses"].([]any); ok && len(addresses) > 0 {
		if addr, ok := addresses[0].(string); ok {
			return addr
		}
	}
	return ""
}

func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, fmt.Sprintf("error %d", codeTxNotFound)) ||
		strings.Contains(msg, "no such mempool or blockchain transaction")
}
