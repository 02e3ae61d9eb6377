package rpc

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloaklabs/cloakpay/pkg/keys"
	"github.com/cloaklabs/cloakpay/pkg/protocol"
)

// rpcServer scripts JSON-RPC responses per method.
func rpcServer(t *testing.T, handlers map[string]func(params []json.RawMessage) (interface{}, *RPCError)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Method string            `json:"method"`
			Params []json.RawMessage `json:"params"`
			ID     int64             `json:"id"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		handler, ok := handlers[req.Method]
		require.True(t, ok, "unexpected method %s", req.Method)

		result, rpcErr := handler(req.Params)
		resp := map[string]interface{}{"jsonrpc": "2.0", "id": req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
}

func TestGetCompressedAccountsByOwner(t *testing.T) {
	owner := keys.Identity("owner-1")
	server := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"getCompressedAccountsByOwner": func(params []json.RawMessage) (interface{}, *RPCError) {
			var got string
			require.NoError(t, json.Unmarshal(params[0], &got))
			assert.Equal(t, string(owner), got)
			return map[string]interface{}{
				"items": []map[string]interface{}{
					{"hash": "h1", "owner": string(owner), "amount": 70},
					{"hash": "h2", "owner": string(owner), "amount": 30},
				},
			}, nil
		},
	})
	defer server.Close()

	client := New(server.URL)
	accounts, err := client.GetCompressedAccountsByOwner(context.Background(), owner)
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "h1", accounts[0].Handle)
	assert.Equal(t, uint64(70), accounts[0].Amount)
	assert.Equal(t, owner, accounts[0].Owner)
}

func TestGetPublicBalance(t *testing.T) {
	server := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"getBalance": func([]json.RawMessage) (interface{}, *RPCError) {
			return map[string]interface{}{"value": 12345}, nil
		},
	})
	defer server.Close()

	balance, err := New(server.URL).GetPublicBalance(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Equal(t, uint64(12345), balance)
}

func TestSubmitReturnsSignature(t *testing.T) {
	server := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"sendInstruction": func([]json.RawMessage) (interface{}, *RPCError) {
			return "sig-xyz", nil
		},
	})
	defer server.Close()

	sig, err := New(server.URL).Submit(context.Background(), []byte("wire"))
	require.NoError(t, err)
	assert.Equal(t, Signature("sig-xyz"), sig)
}

func TestSubmitClassifiesNodeCongestion(t *testing.T) {
	server := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"sendInstruction": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{Code: -32005, Message: "node is congested"}
		},
	})
	defer server.Close()

	_, err := New(server.URL).Submit(context.Background(), []byte("wire"))
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))

	var congestion *protocol.CongestionError
	require.ErrorAs(t, err, &congestion)
	assert.Equal(t, -32005, congestion.Code)
}

func TestSubmitClassifiesProgramQueueFull(t *testing.T) {
	server := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"sendInstruction": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{
				Code:    -32002,
				Message: "instruction failed",
				Data:    json.RawMessage(`{"programErrorCode":6023}`),
			}
		},
	})
	defer server.Close()

	_, err := New(server.URL).Submit(context.Background(), []byte("wire"))
	require.Error(t, err)
	assert.True(t, protocol.IsRetryable(err))

	var congestion *protocol.CongestionError
	require.ErrorAs(t, err, &congestion)
	assert.Equal(t, 6023, congestion.Code)
}

func TestSubmitOtherRejectionsAreTerminal(t *testing.T) {
	server := rpcServer(t, map[string]func([]json.RawMessage) (interface{}, *RPCError){
		"sendInstruction": func([]json.RawMessage) (interface{}, *RPCError) {
			return nil, &RPCError{
				Code:    -32002,
				Message: "instruction failed",
				Data:    json.RawMessage(`{"programErrorCode":6001}`),
			}
		},
	})
	defer server.Close()

	_, err := New(server.URL).Submit(context.Background(), []byte("wire"))
	require.Error(t, err)
	assert.False(t, protocol.IsRetryable(err))
	assert.Equal(t, protocol.ClassSettlementFailed, protocol.Classification(err))
}
