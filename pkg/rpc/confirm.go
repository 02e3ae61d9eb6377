package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gorilla/websocket"

	"github.com/cloaklabs/cloakpay/pkg/protocol"
)

// Confirm waits until a submitted signature reaches the given commitment
// level.
//
// When the client has a websocket endpoint it subscribes to signature
// notifications; otherwise it polls getSignatureStatuses. Both paths are
// bounded by ctx. A signature that fails on-chain surfaces as a
// *protocol.SettlementError carrying the signature, since the instruction
// did reach the queue.
func (c *Client) Confirm(ctx context.Context, sig Signature, level CommitmentLevel) error {
	if c.wsURL != "" {
		err := c.confirmWebsocket(ctx, sig, level)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return &protocol.SettlementError{Signature: string(sig), Cause: ctx.Err()}
		}
		var settlement *protocol.SettlementError
		if errors.As(err, &settlement) {
			// A ledger verdict, not a transport failure.
			return err
		}
		// Subscription transport failure. Fall back to polling.
		c.log.Warn("websocket confirmation unavailable, falling back to polling", "error", err)
	}
	return c.confirmPolling(ctx, sig, level)
}

// signatureStatus is the node's view of one submitted signature.
type signatureStatus struct {
	ConfirmationStatus string          `json:"confirmationStatus"`
	Err                json.RawMessage `json:"err,omitempty"`
}

// reached reports whether a status satisfies the requested level.
func (s *signatureStatus) reached(level CommitmentLevel) bool {
	switch level {
	case CommitmentProcessed:
		return s.ConfirmationStatus != ""
	case CommitmentConfirmed:
		return s.ConfirmationStatus == string(CommitmentConfirmed) || s.ConfirmationStatus == string(CommitmentFinalized)
	default:
		return s.ConfirmationStatus == string(CommitmentFinalized)
	}
}

// failed reports whether the ledger rejected the instruction.
func (s *signatureStatus) failed() bool {
	return len(s.Err) > 0 && string(s.Err) != "null"
}

func (c *Client) confirmPolling(ctx context.Context, sig Signature, level CommitmentLevel) error {
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return &protocol.SettlementError{Signature: string(sig), Cause: ctx.Err()}
		case <-ticker.C:
		}

		raw, err := c.call(ctx, "getSignatureStatuses", []interface{}{[]string{string(sig)}})
		if err != nil {
			// The signature is already queued; a flaky status read is not a
			// verdict, keep polling until ctx expires.
			c.log.Debug("signature status read failed", "signature", sig, "error", err)
			continue
		}

		var result struct {
			Value []*signatureStatus `json:"value"`
		}
		if err := json.Unmarshal(raw, &result); err != nil {
			return &protocol.SettlementError{Signature: string(sig), Cause: fmt.Errorf("unexpected getSignatureStatuses response: %w", err)}
		}
		if len(result.Value) == 0 || result.Value[0] == nil {
			continue
		}

		status := result.Value[0]
		if status.failed() {
			return &protocol.SettlementError{Signature: string(sig), Cause: fmt.Errorf("instruction failed on ledger: %s", status.Err)}
		}
		if status.reached(level) {
			return nil
		}
	}
}

func (c *Client) confirmWebsocket(ctx context.Context, sig Signature, level CommitmentLevel) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		return fmt.Errorf("websocket dial failed: %w", err)
	}
	defer conn.Close()

	subscribe := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  "signatureSubscribe",
		Params:  []interface{}{string(sig), map[string]string{"commitment": string(level)}},
		ID:      1,
	}
	if err := conn.WriteJSON(subscribe); err != nil {
		return fmt.Errorf("signatureSubscribe failed: %w", err)
	}

	// Unblock reads when the caller gives up.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.SetReadDeadline(time.Now())
		case <-done:
		}
	}()

	for {
		var message struct {
			Result json.RawMessage `json:"result,omitempty"`
			Error  *RPCError       `json:"error,omitempty"`
			Method string          `json:"method,omitempty"`
			Params struct {
				Result struct {
					Value signatureStatus `json:"value"`
				} `json:"result"`
			} `json:"params"`
		}
		if err := conn.ReadJSON(&message); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("websocket read failed: %w", err)
		}
		if message.Error != nil {
			return message.Error
		}
		if message.Method != "signatureNotification" {
			continue
		}

		status := message.Params.Result.Value
		if status.failed() {
			return &protocol.SettlementError{Signature: string(sig), Cause: fmt.Errorf("instruction failed on ledger: %s", status.Err)}
		}
		// The node notifies once, at the subscribed commitment level.
		return nil
	}
}
