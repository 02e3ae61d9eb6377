// Package prover is the client for the external validity-proof service.
//
// Proving that a set of value-account handles is spendable is delegated
// entirely to the protocol's prover: this client posts the handles and gets
// back an opaque proof bundle. The proof is a pure function of the handles;
// the service holds no state for us and the call has no side effects.
package prover

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Bundle is the opaque validity proof attached to an instruction.
type Bundle struct {
	Proof       []byte   // Compressed proof bytes
	Roots       []string // State-tree roots the proof commits to
	RootIndices []uint64 // Position of each root in its tree history
}

// Client posts proof requests to the prover endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// New creates a prover client.
func New(url string) *Client {
	return &Client{
		url: url,
		// Proof generation is slow; allow well over the RPC timeout.
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
}

// proofRequest is the service's wire request.
type proofRequest struct {
	Handles []string `json:"hashes"`
}

// proofResponse is the service's wire response.
type proofResponse struct {
	Proof       string   `json:"compressedProof"`
	Roots       []string `json:"roots"`
	RootIndices []uint64 `json:"rootIndices"`
}

// ValidityProof requests a proof that the given account handles are live
// and spendable.
func (c *Client) ValidityProof(ctx context.Context, handles []string) (*Bundle, error) {
	if len(handles) == 0 {
		return nil, fmt.Errorf("no handles to prove")
	}

	body, err := json.Marshal(proofRequest{Handles: handles})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal proof request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create proof request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("proof request failed: %w", err)
	}
	defer httpResp.Body.Close()

	responseBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read proof response: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("prover returned HTTP %d: %s", httpResp.StatusCode, string(responseBody))
	}

	var response proofResponse
	if err := json.Unmarshal(responseBody, &response); err != nil {
		return nil, fmt.Errorf("failed to parse proof response: %w", err)
	}

	return &Bundle{
		Proof:       []byte(response.Proof),
		Roots:       response.Roots,
		RootIndices: response.RootIndices,
	}, nil
}
