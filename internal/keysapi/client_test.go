package keysapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGetKeysDecodesResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/keys", r.URL.Path)
		json.NewEncoder(w).Encode(KeysResponse{
			Data: []RegistryKeyDTO{{Key: "0xaa", OperatorIndex: 1, Index: 0}},
		})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	resp, err := c.GetKeys(context.Background())
	require.NoError(t, err)
	require.Len(t, resp.Data, 1)
	require.Equal(t, "0xaa", resp.Data[0].Key)
}

func TestFindKeysPostsPubkeys(t *testing.T) {
	var gotBody struct {
		Pubkeys []string `json:"pubkeys"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(KeysResponse{})
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.FindKeys(context.Background(), []string{"0xaa", "0xbb"})
	require.NoError(t, err)
	require.Equal(t, []string{"0xaa", "0xbb"}, gotBody.Pubkeys)
}

func TestDoReturnsErrorOnNon200(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := New(srv.URL, time.Second)
	_, err := c.GetStatus(context.Background())
	require.Error(t, err)
}

func TestCheckMinVersionAcceptsAtOrAboveMinimum(t *testing.T) {
	require.NoError(t, CheckMinVersion("1.0.0"))
	require.NoError(t, CheckMinVersion("v1.2.3"))
}

func TestCheckMinVersionRejectsBelowMinimum(t *testing.T) {
	require.Error(t, CheckMinVersion("0.9.9"))
}

func TestCheckMinVersionRejectsMalformedVersion(t *testing.T) {
	require.Error(t, CheckMinVersion("not-a-version"))
}
