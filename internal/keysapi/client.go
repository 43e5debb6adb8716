// Package keysapi is the HTTP client for the staking-keys index service
// (spec.md §6). It follows the teacher's own context-timeout idiom
// (loadFilteredLogs/loadTransactionByHash wrap every RPC with
// context.WithTimeout) applied to plain JSON HTTP calls instead of
// JSON-RPC.
package keysapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/mod/semver"
)

// MinKapiVersion is MIN_KAPI_VERSION from spec.md §6.
const MinKapiVersion = "v1.0.0"

// ElBlockSnapshot mirrors meta.elBlockSnapshot.
type ElBlockSnapshot struct {
	BlockNumber          uint64    `json:"blockNumber"`
	BlockHash            string    `json:"blockHash"`
	LastChangedBlockHash string    `json:"lastChangedBlockHash"`
	Timestamp            time.Time `json:"timestamp"`
}

// RegistryKeyDTO is the wire shape of a single key from /v1/keys or
// /v1/keys/find.
type RegistryKeyDTO struct {
	Key              string `json:"key"`
	DepositSignature string `json:"depositSignature"`
	OperatorIndex    uint32 `json:"operatorIndex"`
	Used             bool   `json:"used"`
	Index            uint32 `json:"index"`
	ModuleAddress    string `json:"moduleAddress"`
}

// KeysResponse is the response of GET /v1/keys and POST /v1/keys/find.
type KeysResponse struct {
	Data []RegistryKeyDTO `json:"data"`
	Meta struct {
		ElBlockSnapshot ElBlockSnapshot `json:"elBlockSnapshot"`
	} `json:"meta"`
}

// OperatorDTO is a node operator as reported by GET /v1/operators.
type OperatorDTO struct {
	Index                    uint32 `json:"index"`
	StakingLimit             uint64 `json:"stakingLimit"`
	TotalDepositedValidators uint64 `json:"totalDepositedValidators"`
	TotalAddedValidators     uint64 `json:"totalAddedValidators"`
	RewardAddress            string `json:"rewardAddress"`
}

// ModuleOperatorsDTO groups a module's operators, as returned within
// /v1/operators' data array.
type ModuleOperatorsDTO struct {
	Operators []OperatorDTO `json:"operators"`
	Module    struct {
		ID      uint32 `json:"id"`
		Address string `json:"address"`
		Nonce   uint64 `json:"nonce"`
		Type    string `json:"type"`
	} `json:"module"`
}

// OperatorsResponse is the response of GET /v1/operators.
type OperatorsResponse struct {
	Data []ModuleOperatorsDTO `json:"data"`
	Meta struct {
		ElBlockSnapshot ElBlockSnapshot `json:"elBlockSnapshot"`
	} `json:"meta"`
}

// StatusResponse is the response of GET /v1/status.
type StatusResponse struct {
	ChainID         uint64          `json:"chainId"`
	AppVersion      string          `json:"appVersion"`
	ElBlockSnapshot ElBlockSnapshot `json:"elBlockSnapshot"`
	ClBlockSnapshot ElBlockSnapshot `json:"clBlockSnapshot"`
}

// Client talks to the keys-index over HTTP with a bounded timeout on every
// call, matching FETCH_REQUEST_TIMEOUT from spec.md §6.
type Client struct {
	baseURL string
	http    *http.Client
	timeout time.Duration
}

// New builds a Client. timeout is FETCH_REQUEST_TIMEOUT.
func New(baseURL string, timeout time.Duration) *Client {
	return &Client{baseURL: baseURL, http: &http.Client{}, timeout: timeout}
}

func (c *Client) do(ctx context.Context, method, path string, body interface{}, out interface{}) error {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("could not encode request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("could not build request %s %s: %v", method, path, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("keys-index request %s %s failed: %v", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("keys-index request %s %s returned status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("could not decode response for %s %s: %v", method, path, err)
		}
	}

	return nil
}

// GetKeys calls GET /v1/keys.
func (c *Client) GetKeys(ctx context.Context) (*KeysResponse, error) {
	var out KeysResponse
	if err := c.do(ctx, http.MethodGet, "/v1/keys", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetOperators calls GET /v1/operators.
func (c *Client) GetOperators(ctx context.Context) (*OperatorsResponse, error) {
	var out OperatorsResponse
	if err := c.do(ctx, http.MethodGet, "/v1/operators", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// FindKeys calls POST /v1/keys/find with the given pubkeys (hex-encoded).
func (c *Client) FindKeys(ctx context.Context, pubkeys []string) (*KeysResponse, error) {
	var out KeysResponse
	body := struct {
		Pubkeys []string `json:"pubkeys"`
	}{Pubkeys: pubkeys}
	if err := c.do(ctx, http.MethodPost, "/v1/keys/find", body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetStatus calls GET /v1/status.
func (c *Client) GetStatus(ctx context.Context) (*StatusResponse, error) {
	var out StatusResponse
	if err := c.do(ctx, http.MethodGet, "/v1/status", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CheckReadiness calls GET /v1/modules and treats any non-200 as not ready.
func (c *Client) CheckReadiness(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/v1/modules", nil, nil)
}

// CheckMinVersion validates a keys-index appVersion against MIN_KAPI_VERSION
// using semantic version comparison, per spec.md §7 ("keys-index below
// MIN_KAPI_VERSION" is a config/startup error).
func CheckMinVersion(appVersion string) error {
	v := appVersion
	if v == "" || v[0] != 'v' {
		v = "v" + v
	}
	if !semver.IsValid(v) {
		return fmt.Errorf("keys-index reported invalid appVersion %q", appVersion)
	}
	if semver.Compare(v, MinKapiVersion) < 0 {
		return fmt.Errorf("keys-index appVersion %s is below required minimum %s", appVersion, MinKapiVersion)
	}
	return nil
}
