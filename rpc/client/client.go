// Package client implements ledger.Adapter on top of the JSON-RPC endpoint
// served by package rpc.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"accumreg/core/types"
	"accumreg/ledger"
	"accumreg/observability"
	"accumreg/rpc"
)

const jsonRPCVersion = "2.0"

// CallError is a JSON-RPC error returned by the server that does not map onto
// a ledger error.
type CallError struct {
	Code    int
	Message string
	Data    json.RawMessage
}

func (e *CallError) Error() string {
	return fmt.Sprintf("client: rpc error %d: %s", e.Code, e.Message)
}

// NonRetryable reports whether resending the request cannot succeed.
func (e *CallError) NonRetryable() bool {
	switch e.Code {
	case rpc.CodeRateLimited, rpc.CodeServerError:
		return false
	default:
		return true
	}
}

// Client is a ledger.Adapter backed by a remote node. It does not retry.
type Client struct {
	endpoint   string
	httpClient *http.Client
	authToken  string
	limiter    *rate.Limiter
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *observability.ClientMetrics
	nextID     atomic.Uint64
}

var _ ledger.Adapter = (*Client)(nil)

// Option configures the client.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for RPC calls.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithAuthToken sets the bearer token attached to submissions.
func WithAuthToken(token string) Option {
	return func(c *Client) {
		c.authToken = strings.TrimSpace(token)
	}
}

// WithRateLimit paces outgoing requests to perSecond with the given burst.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.limiter = nil
			return
		}
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithLogger overrides the client logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// New initialises a client bound to the provided JSON-RPC endpoint.
func New(endpoint string, opts ...Option) (*Client, error) {
	trimmed := strings.TrimSpace(endpoint)
	if trimmed == "" {
		return nil, fmt.Errorf("client: endpoint required")
	}
	c := &Client{
		endpoint:   trimmed,
		httpClient: &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
		logger:     slog.Default(),
		tracer:     otel.Tracer("accumreg/client"),
		metrics:    observability.Client(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	if c.httpClient == nil {
		c.httpClient = http.DefaultClient
	}
	return c, nil
}

// Submit sends a signed call to the node.
func (c *Client) Submit(ctx context.Context, call *types.Call) (*ledger.Confirmation, error) {
	if call == nil {
		return nil, ledger.Invalid(types.ErrCallIncomplete)
	}
	var result rpc.SubmitResult
	if err := c.call(ctx, rpc.MethodSubmit, call, true, &result); err != nil {
		return nil, err
	}
	return &ledger.Confirmation{
		BlockHeight: result.BlockHeight,
		BlockHash:   result.BlockHash,
		CallHash:    result.CallHash,
		Events:      result.Events,
	}, nil
}

// ReadMap reads one entry of a single-key storage map.
func (c *Client) ReadMap(ctx context.Context, module, name string, key []byte) ([]byte, bool, error) {
	return c.readMap(ctx, rpc.MethodReadMap, rpc.ReadMapParams{Module: module, Name: name, Key: key})
}

// ReadMap2 reads one entry of a double-key storage map.
func (c *Client) ReadMap2(ctx context.Context, module, name string, key1, key2 []byte) ([]byte, bool, error) {
	return c.readMap(ctx, rpc.MethodReadMap2, rpc.ReadMapParams{Module: module, Name: name, Key: key1, Key2: key2})
}

func (c *Client) readMap(ctx context.Context, method string, params rpc.ReadMapParams) ([]byte, bool, error) {
	var result rpc.ReadMapResult
	if err := c.call(ctx, method, params, false, &result); err != nil {
		return nil, false, err
	}
	if !result.Found {
		return nil, false, nil
	}
	if result.Value == nil {
		return []byte{}, true, nil
	}
	return result.Value, true, nil
}

// ReadBlockCalls returns the calls recorded in the located block.
func (c *Client) ReadBlockCalls(ctx context.Context, at types.BlockLocator) ([]*types.Call, error) {
	if err := at.Validate(); err != nil {
		return nil, ledger.Invalid(err)
	}
	calls := []*types.Call{}
	if err := c.call(ctx, rpc.MethodBlockCalls, at, false, &calls); err != nil {
		return nil, err
	}
	return calls, nil
}

// ReadBlockEvents returns the events recorded in the located block.
func (c *Client) ReadBlockEvents(ctx context.Context, at types.BlockLocator) ([]*types.Event, error) {
	if err := at.Validate(); err != nil {
		return nil, ledger.Invalid(err)
	}
	events := []*types.Event{}
	if err := c.call(ctx, rpc.MethodBlockEvents, at, false, &events); err != nil {
		return nil, err
	}
	return events, nil
}

// Head returns the node's latest block height and hash.
func (c *Client) Head(ctx context.Context) (uint64, []byte, error) {
	var result rpc.HeadResult
	if err := c.call(ctx, rpc.MethodHead, nil, false, &result); err != nil {
		return 0, nil, err
	}
	return result.Height, result.Hash, nil
}

type rpcRequest struct {
	JSONRPC string        `json:"jsonrpc"`
	ID      uint64        `json:"id"`
	Method  string        `json:"method"`
	Params  []interface{} `json:"params"`
}

type rpcError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func (c *Client) call(ctx context.Context, method string, param interface{}, requireAuth bool, out interface{}) (err error) {
	start := time.Now()
	ctx, span := c.tracer.Start(ctx, method, trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("rpc.system", "jsonrpc"), attribute.String("rpc.method", method)))
	defer func() {
		if err != nil {
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
		c.metrics.Observe(method, err, time.Since(start))
	}()

	if requireAuth && c.authToken == "" {
		return ledger.Invalid(fmt.Errorf("client: auth token required for %s", method))
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("client: rate limit wait: %w", err)
		}
	}
	params := []interface{}{}
	if param != nil {
		params = append(params, param)
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      c.nextID.Add(1),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("client: encode rpc payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("client: build request: %w", err)
	}
	requestID := uuid.NewString()
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Request-ID", requestID)
	if requireAuth {
		req.Header.Set("Authorization", "Bearer "+c.authToken)
	}
	span.SetAttributes(attribute.String("http.request_id", requestID))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("client: rpc call failed: %w", err)
	}
	defer resp.Body.Close()
	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("client: read rpc response: %w", err)
	}
	var decoded rpcResponse
	if err := json.Unmarshal(payload, &decoded); err != nil {
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("client: rpc error status %d: %s", resp.StatusCode, strings.TrimSpace(string(truncate(payload, 1024))))
		}
		return fmt.Errorf("client: decode rpc response: %w", err)
	}
	if decoded.Error != nil {
		mapped := fromRPCError(decoded.Error)
		c.logger.Debug("rpc call failed",
			slog.String("method", method),
			slog.String("requestId", requestID),
			slog.Int("code", decoded.Error.Code),
			slog.String("message", decoded.Error.Message))
		return mapped
	}
	if out == nil || len(decoded.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(decoded.Result, out); err != nil {
		return fmt.Errorf("client: decode rpc result: %w", err)
	}
	return nil
}

func fromRPCError(e *rpcError) error {
	switch e.Code {
	case rpc.CodeRejected:
		var data rpc.RejectionData
		if err := json.Unmarshal(e.Data, &data); err == nil {
			return &ledger.RejectionError{Module: data.Module, Method: data.Method, Reason: data.Reason}
		}
		return &ledger.RejectionError{Reason: e.Message}
	case rpc.CodeNotFound:
		return fmt.Errorf("%w: %s", ledger.ErrBlockNotFound, e.Message)
	case rpc.CodeInvalidParams:
		return ledger.Invalid(errors.New(e.Message))
	default:
		return &CallError{Code: e.Code, Message: e.Message, Data: e.Data}
	}
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
