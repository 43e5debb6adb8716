package elclient

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

type rpcRequest struct {
	ID     json.RawMessage `json:"id"`
	Method string          `json:"method"`
}

// jsonRPCServer replies to eth_chainId with a fixed value, or returns a
// non-2xx status when down is true, simulating a dead execution client.
func jsonRPCServer(t *testing.T, down *bool) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if *down {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		var req rpcRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

		w.Header().Set("Content-Type", "application/json")
		switch req.Method {
		case "eth_chainId":
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":"0x1"}`))
		default:
			_, _ = w.Write([]byte(`{"jsonrpc":"2.0","id":` + string(req.ID) + `,"result":null}`))
		}
	}))
}

func TestDialRequiresAtLeastOneReachableEndpoint(t *testing.T) {
	_, err := Dial(context.Background(), nil, time.Second, logrus.New())
	require.Error(t, err)
}

func TestChainIDFallsOverToNextEndpointOnFailure(t *testing.T) {
	down := true
	dead := jsonRPCServer(t, &down)
	defer dead.Close()

	up := false
	alive := jsonRPCServer(t, &up)
	defer alive.Close()

	client, err := Dial(context.Background(), []string{dead.URL, alive.URL}, time.Second, logrus.New())
	require.NoError(t, err)
	defer client.Close()

	id, err := client.ChainID(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(1), id.Uint64())
}
