// Package rpc exposes a ledger.Adapter over JSON-RPC 2.0 so that registry and
// accumulator stores can run against a remote development ledger.
package rpc

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
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"accumreg/core/types"
	"accumreg/ledger"
	"accumreg/observability"
)

const (
	defaultMaxRequestBytes = 1 << 20
	requestIDHeader        = "X-Request-ID"
)

// Backend is the ledger the server fronts.
type Backend interface {
	ledger.Adapter
	Head() (uint64, []byte)
}

// Config tunes the server.
type Config struct {
	// AuthToken guards ledger_submit. Submissions are refused when neither
	// AuthToken nor JWT is configured.
	AuthToken       string
	JWT             JWTConfig
	RateLimit       RateLimit
	MaxRequestBytes int64
	ServiceName     string
	// AllowedOrigins lists the origin patterns allowed to call the server
	// from a browser, over CORS and on /ws/blocks.
	AllowedOrigins []string
}

// Server serves the ledger over HTTP.
type Server struct {
	backend Backend
	cfg     Config
	logger  *slog.Logger
	limiter *RateLimiter
	tracer  trace.Tracer
	router  chi.Router
}

// NewServer wires the routes for backend.
func NewServer(backend Backend, cfg Config, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.MaxRequestBytes <= 0 {
		cfg.MaxRequestBytes = defaultMaxRequestBytes
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "accumd"
	}
	s := &Server{
		backend: backend,
		cfg:     cfg,
		logger:  logger,
		limiter: NewRateLimiter(cfg.RateLimit, logger),
		tracer:  otel.Tracer(cfg.ServiceName),
	}
	r := chi.NewRouter()
	r.Use(requestID)
	r.Use(cors(cfg.AllowedOrigins))
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Options("/", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	r.With(s.limiter.Middleware).Post("/", s.handle)
	r.With(s.limiter.Middleware).Get("/ws/blocks", s.handleBlocksWS)
	s.router = r
	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return otelhttp.NewHandler(s.router, s.cfg.ServiceName)
}

// Serve listens on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("rpc server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("rpc: shutdown: %w", err)
		}
		return nil
	}
}

func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(requestIDHeader))
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handle(w http.ResponseWriter, r *http.Request) {
	reader := http.MaxBytesReader(w, r.Body, s.cfg.MaxRequestBytes)
	defer func() {
		_ = reader.Close()
	}()

	w.Header().Set("Content-Type", "application/json")

	body, err := io.ReadAll(reader)
	if err != nil {
		status := http.StatusBadRequest
		message := "failed to read request body"
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			status = http.StatusRequestEntityTooLarge
			message = fmt.Sprintf("request body exceeds %d bytes", s.cfg.MaxRequestBytes)
		}
		writeError(w, status, nil, CodeInvalidRequest, message, err.Error())
		return
	}
	if len(bytes.TrimSpace(body)) == 0 {
		writeError(w, http.StatusBadRequest, nil, CodeInvalidRequest, "request body required", nil)
		return
	}

	req := &Request{}
	if err := json.Unmarshal(body, req); err != nil {
		writeError(w, http.StatusBadRequest, nil, CodeParseError, "invalid JSON payload", err.Error())
		return
	}
	if req.JSONRPC != "" && req.JSONRPC != jsonRPCVersion {
		writeError(w, http.StatusBadRequest, req.ID, CodeInvalidRequest, "unsupported jsonrpc version", req.JSONRPC)
		return
	}
	if req.Method == "" {
		writeError(w, http.StatusBadRequest, req.ID, CodeInvalidRequest, "method required", nil)
		return
	}

	start := time.Now()
	ctx, span := s.tracer.Start(r.Context(), req.Method, trace.WithAttributes(
		attribute.String("rpc.system", "jsonrpc"),
		attribute.String("rpc.method", req.Method),
		attribute.String("http.request_id", w.Header().Get(requestIDHeader)),
	))
	defer span.End()

	result, rpcErr := s.dispatch(ctx, r, req)
	code := 0
	if rpcErr != nil {
		code = rpcErr.Code
		span.SetStatus(codes.Error, rpcErr.Message)
		span.SetAttributes(attribute.Int("rpc.jsonrpc.error_code", rpcErr.Code))
		writeError(w, statusFor(rpcErr.Code), req.ID, rpcErr.Code, rpcErr.Message, rpcErr.Data)
	} else {
		writeResult(w, req.ID, result)
	}
	observability.RPC().Observe(req.Method, code, time.Since(start))
	s.logger.Debug("rpc request served",
		slog.String("method", req.Method),
		slog.String("requestId", w.Header().Get(requestIDHeader)),
		slog.Int("code", code),
		slog.Duration("duration", time.Since(start)))
}

func (s *Server) dispatch(ctx context.Context, r *http.Request, req *Request) (interface{}, *Error) {
	switch req.Method {
	case MethodSubmit:
		if authErr := s.requireAuth(r); authErr != nil {
			return nil, authErr
		}
		return s.handleSubmit(ctx, req)
	case MethodReadMap:
		return s.handleReadMap(ctx, req, false)
	case MethodReadMap2:
		return s.handleReadMap(ctx, req, true)
	case MethodBlockCalls:
		return s.handleBlockCalls(ctx, req)
	case MethodBlockEvents:
		return s.handleBlockEvents(ctx, req)
	case MethodHead:
		height, hash := s.backend.Head()
		return HeadResult{Height: height, Hash: hash}, nil
	default:
		return nil, &Error{Code: CodeMethodNotFound, Message: fmt.Sprintf("unknown method %q", req.Method)}
	}
}

func decodeParam(req *Request, out interface{}) *Error {
	if len(req.Params) != 1 {
		return &Error{Code: CodeInvalidParams, Message: "exactly one parameter object required"}
	}
	if err := json.Unmarshal(req.Params[0], out); err != nil {
		return &Error{Code: CodeInvalidParams, Message: "invalid parameter object", Data: err.Error()}
	}
	return nil
}

func (s *Server) handleSubmit(ctx context.Context, req *Request) (interface{}, *Error) {
	var call types.Call
	if rpcErr := decodeParam(req, &call); rpcErr != nil {
		return nil, rpcErr
	}
	conf, err := s.backend.Submit(ctx, &call)
	if err != nil {
		return nil, toRPCError(err)
	}
	return SubmitResult{
		BlockHeight: conf.BlockHeight,
		BlockHash:   conf.BlockHash,
		CallHash:    conf.CallHash,
		Events:      conf.Events,
	}, nil
}

func (s *Server) handleReadMap(ctx context.Context, req *Request, double bool) (interface{}, *Error) {
	var params ReadMapParams
	if rpcErr := decodeParam(req, &params); rpcErr != nil {
		return nil, rpcErr
	}
	if params.Module == "" || params.Name == "" {
		return nil, &Error{Code: CodeInvalidParams, Message: "module and name required"}
	}
	var (
		value []byte
		found bool
		err   error
	)
	if double {
		value, found, err = s.backend.ReadMap2(ctx, params.Module, params.Name, params.Key, params.Key2)
	} else {
		value, found, err = s.backend.ReadMap(ctx, params.Module, params.Name, params.Key)
	}
	if err != nil {
		return nil, toRPCError(err)
	}
	if !found {
		return ReadMapResult{}, nil
	}
	return ReadMapResult{Found: true, Value: value}, nil
}

func (s *Server) handleBlockCalls(ctx context.Context, req *Request) (interface{}, *Error) {
	var at types.BlockLocator
	if rpcErr := decodeParam(req, &at); rpcErr != nil {
		return nil, rpcErr
	}
	calls, err := s.backend.ReadBlockCalls(ctx, at)
	if err != nil {
		return nil, toRPCError(err)
	}
	return calls, nil
}

func (s *Server) handleBlockEvents(ctx context.Context, req *Request) (interface{}, *Error) {
	var at types.BlockLocator
	if rpcErr := decodeParam(req, &at); rpcErr != nil {
		return nil, rpcErr
	}
	events, err := s.backend.ReadBlockEvents(ctx, at)
	if err != nil {
		return nil, toRPCError(err)
	}
	return events, nil
}

func toRPCError(err error) *Error {
	var rejection *ledger.RejectionError
	var validation *ledger.ValidationError
	switch {
	case errors.As(err, &rejection):
		return &Error{Code: CodeRejected, Message: "call rejected", Data: RejectionData{
			Module: rejection.Module,
			Method: rejection.Method,
			Reason: rejection.Reason,
		}}
	case errors.Is(err, ledger.ErrBlockNotFound):
		return &Error{Code: CodeNotFound, Message: err.Error()}
	case errors.As(err, &validation), errors.Is(err, types.ErrInvalidLocator):
		return &Error{Code: CodeInvalidParams, Message: err.Error()}
	default:
		return &Error{Code: CodeServerError, Message: err.Error()}
	}
}

func statusFor(code int) int {
	switch code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeServerError:
		return http.StatusInternalServerError
	case CodeRejected, CodeNotFound:
		return http.StatusOK
	default:
		return http.StatusBadRequest
	}
}

func writeError(w http.ResponseWriter, status int, id json.RawMessage, code int, message string, data interface{}) {
	if status <= 0 {
		status = http.StatusBadRequest
	}
	if status != http.StatusOK {
		w.WriteHeader(status)
	}
	errObj := &Error{Code: code, Message: message}
	if data != nil {
		errObj.Data = data
	}
	_ = json.NewEncoder(w).Encode(Response{JSONRPC: jsonRPCVersion, ID: id, Error: errObj})
}

func writeResult(w http.ResponseWriter, id json.RawMessage, result interface{}) {
	_ = json.NewEncoder(w).Encode(Response{JSONRPC: jsonRPCVersion, ID: id, Result: result})
}
