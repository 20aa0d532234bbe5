package httpclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/agentforge/core/tool/childagent"
	"github.com/stretchr/testify/require"
)

func TestSendTask_DecodesSuccessfulResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer secret", r.Header.Get("Authorization"))

		var body rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Equal(t, "agent/invoke", body.Method)

		resp := rpcResponse{
			JSONRPC: "2.0",
			ID:      body.ID,
			Result:  json.RawMessage(`{"content":"hello","finishReason":"stop"}`),
		}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := New(srv.URL, WithBearerToken("secret"))
	resp, err := c.SendTask(context.Background(), childagent.SendTaskRequest{AgentID: "billing", Arguments: json.RawMessage(`{}`)})
	require.NoError(t, err)
	require.Equal(t, "hello", resp.Content)
	require.Equal(t, "stop", resp.FinishReason)
}

func TestSendTask_ReturnsRPCError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := rpcResponse{JSONRPC: "2.0", Error: &rpcError{Code: -32000, Message: "agent unavailable"}}
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode(resp))
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SendTask(context.Background(), childagent.SendTaskRequest{AgentID: "billing"})
	require.Error(t, err)
	require.Contains(t, err.Error(), "agent unavailable")
}

func TestSendTask_NonOKStatusIsError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL)
	_, err := c.SendTask(context.Background(), childagent.SendTaskRequest{AgentID: "billing"})
	require.Error(t, err)
}
