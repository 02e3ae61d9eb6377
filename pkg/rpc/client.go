// Package rpc implements the JSON-RPC client for the ledger node: the
// indexer queries the engine reads state through, and the submitter that
// carries signed instructions to the settlement queue.
//
// The engine never caches what this client returns. Compressed state
// changes with every operation, so each flow re-fetches the account set it
// is about to spend.
//
// Submission failures are classified structurally from the RPC error code
// before they leave this package; callers never inspect message text.
package rpc

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloaklabs/cloakpay/pkg/account"
	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
)

// Signature identifies a submitted instruction on the ledger.
type Signature string

// CommitmentLevel is the confirmation depth to wait for.
type CommitmentLevel string

const (
	CommitmentProcessed CommitmentLevel = "processed"
	CommitmentConfirmed CommitmentLevel = "confirmed"
	CommitmentFinalized CommitmentLevel = "finalized"
)

// Error codes that identify settlement-queue congestion. The node reports
// -32005 when its submission queue is saturated; the compression program
// reports custom code 6023 when the state-update queue is full. Both are
// transient.
const (
	nodeCongestedCode = -32005
	queueFullCode     = 6023
)

// jsonRPCRequest is a JSON-RPC 2.0 request envelope.
type jsonRPCRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
	ID      int64         `json:"id"`
}

// jsonRPCResponse is a JSON-RPC 2.0 response envelope.
type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

// RPCError is a structured JSON-RPC error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// programError is the structured program failure the node attaches to a
// rejected submission.
type programError struct {
	ProgramErrorCode *int `json:"programErrorCode,omitempty"`
}

// Client talks JSON-RPC 2.0 to a ledger node.
type Client struct {
	url        string
	wsURL      string
	httpClient *http.Client
	log        *slog.Logger

	pollInterval time.Duration
	nextID       int64
}

// Option configures a Client.
type Option func(*Client)

// WithWebsocket enables websocket signature subscriptions for Confirm.
func WithWebsocket(wsURL string) Option {
	return func(c *Client) { c.wsURL = wsURL }
}

// WithLogger sets the structured logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New creates a client for the given RPC endpoint.
func New(url string, opts ...Option) *Client {
	c := &Client{
		url:          url,
		httpClient:   &http.Client{Timeout: 30 * time.Second},
		log:          slog.Default(),
		pollInterval: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// compressedAccount is the indexer's wire representation of a value account.
type compressedAccount struct {
	Hash   string `json:"hash"`
	Owner  string `json:"owner"`
	Amount uint64 `json:"amount"`
}

// GetCompressedAccountsByOwner returns the owner's live value accounts.
func (c *Client) GetCompressedAccountsByOwner(ctx context.Context, owner keys.Identity) ([]account.ValueAccount, error) {
	raw, err := c.call(ctx, "getCompressedAccountsByOwner", []interface{}{string(owner)})
	if err != nil {
		return nil, fmt.Errorf("getCompressedAccountsByOwner failed: %w", err)
	}

	var result struct {
		Items []compressedAccount `json:"items"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return nil, fmt.Errorf("unexpected getCompressedAccountsByOwner response: %w", err)
	}

	accounts := make([]account.ValueAccount, 0, len(result.Items))
	for _, item := range result.Items {
		accounts = append(accounts, account.ValueAccount{
			Handle: item.Hash,
			Amount: item.Amount,
			Owner:  keys.Identity(item.Owner),
		})
	}
	return accounts, nil
}

// GetPublicBalance returns the owner's uncompressed balance in base units.
func (c *Client) GetPublicBalance(ctx context.Context, owner keys.Identity) (uint64, error) {
	raw, err := c.call(ctx, "getBalance", []interface{}{string(owner)})
	if err != nil {
		return 0, fmt.Errorf("getBalance failed: %w", err)
	}

	var result struct {
		Value uint64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &result); err != nil {
		return 0, fmt.Errorf("unexpected getBalance response: %w", err)
	}
	return result.Value, nil
}

// Submit sends a signed instruction to the settlement queue.
//
// Congestion rejections come back as *protocol.CongestionError so callers
// can retry; any other rejection is a *protocol.SettlementError.
func (c *Client) Submit(ctx context.Context, wire []byte) (Signature, error) {
	encoded := base64.StdEncoding.EncodeToString(wire)
	raw, err := c.call(ctx, "sendInstruction", []interface{}{encoded})
	if err != nil {
		return "", classifySubmitError(err)
	}

	var sig string
	if err := json.Unmarshal(raw, &sig); err != nil {
		return "", &protocol.SettlementError{Cause: fmt.Errorf("unexpected sendInstruction response: %w", err)}
	}
	return Signature(sig), nil
}

// classifySubmitError turns a submission failure into its typed form.
func classifySubmitError(err error) error {
	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		return &protocol.SettlementError{Cause: err}
	}
	if rpcErr.Code == nodeCongestedCode {
		return &protocol.CongestionError{Code: rpcErr.Code, Cause: rpcErr}
	}
	if len(rpcErr.Data) > 0 {
		var pe programError
		if json.Unmarshal(rpcErr.Data, &pe) == nil && pe.ProgramErrorCode != nil && *pe.ProgramErrorCode == queueFullCode {
			return &protocol.CongestionError{Code: *pe.ProgramErrorCode, Cause: rpcErr}
		}
	}
	return &protocol.SettlementError{Cause: rpcErr}
}

// call performs one JSON-RPC request.
func (c *Client) call(ctx context.Context, method string, params []interface{}) (json.RawMessage, error) {
	c.nextID++
	request := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID,
	}

	body, err := json.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create HTTP request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer httpResp.Body.Close()

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("HTTP error %d: %s", httpResp.StatusCode, string(responseBody))
	}

	var response jsonRPCResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse JSON-RPC response: %w", err)
	}
	if response.Error != nil {
		return nil, response.Error
	}

	c.log.Debug("rpc call completed", "method", method, "duration", time.Since(start))
	return response.Result, nil
}
