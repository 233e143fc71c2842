package rpc_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"

	"accumreg/core/chain/chaintest"
	"accumreg/native/params"
	"accumreg/rpc"
)

const testToken = "secret-token"

func newServer(t *testing.T, cfg rpc.Config) (*httptest.Server, chaintest.Actor, *params.Registry) {
	t.Helper()
	c := chaintest.NewChain(t)
	alice := chaintest.NewActor(t, c, 0xa1)
	srv := httptest.NewServer(rpc.NewServer(c, cfg, nil).Handler())
	t.Cleanup(srv.Close)
	return srv, alice, params.NewRegistry(params.ModuleOffchainSignatures, c)
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *rpc.Error      `json:"error"`
}

func post(t *testing.T, url, token, body string) (*http.Response, response) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	var decoded response
	require.NoError(t, json.Unmarshal(raw, &decoded), "body: %s", raw)
	return resp, decoded
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{})

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	// Generate at least one sample so the rpc series are exported.
	post(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"ledger_head","params":[]}`)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), "accumreg_rpc_requests_total")
}

func rpcRequests(t *testing.T, method, outcome string) float64 {
	t.Helper()
	families, err := prometheus.DefaultGatherer.Gather()
	require.NoError(t, err)
	for _, family := range families {
		if family.GetName() != "accumreg_rpc_requests_total" {
			continue
		}
		for _, m := range family.GetMetric() {
			if labelsMatch(m, map[string]string{"method": method, "outcome": outcome}) {
				return m.GetCounter().GetValue()
			}
		}
	}
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	matched := 0
	for _, pair := range m.GetLabel() {
		if v, ok := want[pair.GetName()]; ok {
			if v != pair.GetValue() {
				return false
			}
			matched++
		}
	}
	return matched == len(want)
}

func TestRequestsAreCountedByOutcome(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{})
	success := rpcRequests(t, "ledger_head", "success")
	failure := rpcRequests(t, "ledger_readMap", "error")

	post(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"ledger_head","params":[]}`)
	post(t, srv.URL, "", `{"jsonrpc":"2.0","id":2,"method":"ledger_readMap","params":[{}]}`)

	require.Equal(t, success+1, rpcRequests(t, "ledger_head", "success"))
	require.Equal(t, failure+1, rpcRequests(t, "ledger_readMap", "error"))
}

func TestHead(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{})
	resp, decoded := post(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"ledger_head","params":[]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)

	var head rpc.HeadResult
	require.NoError(t, json.Unmarshal(decoded.Result, &head))
	require.Zero(t, head.Height)
	require.Len(t, head.Hash, 32)
}

func TestSubmitRequiresBearerToken(t *testing.T) {
	srv, alice, registry := newServer(t, rpc.Config{AuthToken: testToken})
	call, err := registry.BuildAddParamsCall(context.Background(), &params.Params{Bytes: []byte{1}}, alice.DID, alice.Auth())
	require.NoError(t, err)
	encoded, err := json.Marshal(call)
	require.NoError(t, err)
	body := `{"jsonrpc":"2.0","id":7,"method":"ledger_submit","params":[` + string(encoded) + `]}`

	resp, decoded := post(t, srv.URL, "", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, rpc.CodeUnauthorized, decoded.Error.Code)

	resp, decoded = post(t, srv.URL, "wrong", body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, "invalid RPC credentials", decoded.Error.Message)

	resp, decoded = post(t, srv.URL, testToken, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)
	var result rpc.SubmitResult
	require.NoError(t, json.Unmarshal(decoded.Result, &result))
	require.Equal(t, uint64(1), result.BlockHeight)
}

func TestSubmitWithoutConfiguredTokenIsRefused(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{})
	resp, decoded := post(t, srv.URL, "anything", `{"jsonrpc":"2.0","id":1,"method":"ledger_submit","params":[{}]}`)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Contains(t, decoded.Error.Message, "not configured")
}

func TestRejectionCarriesReason(t *testing.T) {
	srv, alice, registry := newServer(t, rpc.Config{AuthToken: testToken})
	call, err := registry.BuildRemoveParamsCall(context.Background(), alice.DID, 5, alice.Auth())
	require.NoError(t, err)
	encoded, err := json.Marshal(call)
	require.NoError(t, err)

	resp, decoded := post(t, srv.URL, testToken, `{"jsonrpc":"2.0","id":1,"method":"ledger_submit","params":[`+string(encoded)+`]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, rpc.CodeRejected, decoded.Error.Code)
	data, ok := decoded.Error.Data.(map[string]interface{})
	require.True(t, ok)
	require.Equal(t, params.ModuleOffchainSignatures, data["module"])
	require.Equal(t, params.MethodRemoveParams, data["method"])
}

func TestMalformedRequests(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{})
	cases := []struct {
		name   string
		body   string
		status int
		code   int
	}{
		{"empty body", " ", http.StatusBadRequest, rpc.CodeInvalidRequest},
		{"bad json", "{", http.StatusBadRequest, rpc.CodeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"ledger_head"}`, http.StatusBadRequest, rpc.CodeInvalidRequest},
		{"no method", `{"jsonrpc":"2.0","id":1}`, http.StatusBadRequest, rpc.CodeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"ledger_nope","params":[]}`, http.StatusBadRequest, rpc.CodeMethodNotFound},
		{"missing params", `{"jsonrpc":"2.0","id":1,"method":"ledger_readMap","params":[]}`, http.StatusBadRequest, rpc.CodeInvalidParams},
		{"missing module", `{"jsonrpc":"2.0","id":1,"method":"ledger_readMap","params":[{"name":"x","key":"0x01"}]}`, http.StatusBadRequest, rpc.CodeInvalidParams},
		{"unknown block", `{"jsonrpc":"2.0","id":1,"method":"ledger_blockCalls","params":[{"height":99}]}`, http.StatusOK, rpc.CodeNotFound},
		{"hash locator without hash", `{"jsonrpc":"2.0","id":1,"method":"ledger_blockEvents","params":[{"byHash":true}]}`, http.StatusBadRequest, rpc.CodeInvalidParams},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp, decoded := post(t, srv.URL, "", tc.body)
			require.Equal(t, tc.status, resp.StatusCode)
			require.NotNil(t, decoded.Error)
			require.Equal(t, tc.code, decoded.Error.Code)
		})
	}
}

func TestRequestBodyLimit(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{MaxRequestBytes: 64})
	body := `{"jsonrpc":"2.0","id":1,"method":"ledger_head","params":["` + strings.Repeat("a", 128) + `"]}`
	resp, err := http.Post(srv.URL, "application/json", bytes.NewBufferString(body))
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

func TestReadMapAbsentEntry(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{})
	resp, decoded := post(t, srv.URL, "", `{"jsonrpc":"2.0","id":1,"method":"ledger_readMap","params":[{"module":"offchainSignatures","name":"counters","key":"0x01"}]}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)
	var result rpc.ReadMapResult
	require.NoError(t, json.Unmarshal(decoded.Result, &result))
	require.False(t, result.Found)
	require.Nil(t, result.Value)
}

func TestRateLimitPerClient(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{RateLimit: rpc.RateLimit{RequestsPerMinute: 1, Burst: 2}})
	body := `{"jsonrpc":"2.0","id":1,"method":"ledger_head","params":[]}`
	for i := 0; i < 2; i++ {
		resp, decoded := post(t, srv.URL, "", body)
		require.Equal(t, http.StatusOK, resp.StatusCode)
		require.Nil(t, decoded.Error)
	}
	resp, decoded := post(t, srv.URL, "", body)
	require.Equal(t, http.StatusTooManyRequests, resp.StatusCode)
	require.Equal(t, rpc.CodeRateLimited, decoded.Error.Code)
}

func TestRateLimiterTracksSourcesIndependently(t *testing.T) {
	limiter := rpc.NewRateLimiter(rpc.RateLimit{RequestsPerMinute: 1, Burst: 1}, nil)
	require.True(t, limiter.Allow("10.0.0.1"))
	require.False(t, limiter.Allow("10.0.0.1"))
	require.True(t, limiter.Allow("10.0.0.2"))

	open := rpc.NewRateLimiter(rpc.RateLimit{}, nil)
	for i := 0; i < 10; i++ {
		require.True(t, open.Allow("10.0.0.1"))
	}
}

func signedToken(t *testing.T, secret string, claims jwt.MapClaims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return token
}

func TestSubmitWithJWT(t *testing.T) {
	const secret = "jwt-secret"
	srv, alice, registry := newServer(t, rpc.Config{JWT: rpc.JWTConfig{HMACSecret: secret, Issuer: "accumreg-test"}})
	call, err := registry.BuildAddParamsCall(context.Background(), &params.Params{Bytes: []byte{1}}, alice.DID, alice.Auth())
	require.NoError(t, err)
	encoded, err := json.Marshal(call)
	require.NoError(t, err)
	body := `{"jsonrpc":"2.0","id":1,"method":"ledger_submit","params":[` + string(encoded) + `]}`
	exp := time.Now().Add(time.Hour).Unix()

	noScope := signedToken(t, secret, jwt.MapClaims{"iss": "accumreg-test", "exp": exp})
	resp, decoded := post(t, srv.URL, noScope, body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	require.Equal(t, rpc.CodeUnauthorized, decoded.Error.Code)

	wrongIssuer := signedToken(t, secret, jwt.MapClaims{"iss": "other", "exp": exp, "scope": rpc.ScopeSubmit})
	resp, _ = post(t, srv.URL, wrongIssuer, body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged := signedToken(t, "not-the-secret", jwt.MapClaims{"iss": "accumreg-test", "exp": exp, "scope": rpc.ScopeSubmit})
	resp, _ = post(t, srv.URL, forged, body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	expired := signedToken(t, secret, jwt.MapClaims{"iss": "accumreg-test", "exp": time.Now().Add(-time.Hour).Unix(), "scope": rpc.ScopeSubmit})
	resp, _ = post(t, srv.URL, expired, body)
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	valid := signedToken(t, secret, jwt.MapClaims{"iss": "accumreg-test", "exp": exp, "scope": "ledger:read " + rpc.ScopeSubmit})
	resp, decoded = post(t, srv.URL, valid, body)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Nil(t, decoded.Error)
}

func TestCORSPreflight(t *testing.T) {
	srv, _, _ := newServer(t, rpc.Config{AllowedOrigins: []string{"*.example.com"}})

	preflight := func(origin string) *http.Response {
		req, err := http.NewRequest(http.MethodOptions, srv.URL, nil)
		require.NoError(t, err)
		req.Header.Set("Origin", origin)
		req.Header.Set("Access-Control-Request-Method", http.MethodPost)
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		return resp
	}

	resp := preflight("https://app.example.com")
	require.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.Equal(t, "https://app.example.com", resp.Header.Get("Access-Control-Allow-Origin"))
	require.Contains(t, resp.Header.Get("Access-Control-Allow-Headers"), "Authorization")

	resp = preflight("https://evil.test")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	require.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}
