package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"accumreg/cmd/internal/passphrase"
	"accumreg/config"
	"accumreg/core/chain"
	"accumreg/core/identity"
	"accumreg/crypto"
	"accumreg/indexer"
	"accumreg/native"
	"accumreg/observability"
	"accumreg/observability/logging"
	telemetry "accumreg/observability/otel"
	"accumreg/rpc"
	"accumreg/storage"
)

const envName = "ACCUMD_ENV"

func main() {
	os.Exit(run(os.Args[1:], os.Stderr))
}

func run(args []string, stderr io.Writer) int {
	fs := flag.NewFlagSet("accumd", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configFile := fs.String("config", "./accumd.toml", "Path to the configuration file (TOML or YAML)")
	listen := fs.String("listen", "", "Override node.ListenAddress")
	dataDir := fs.String("datadir", "", "Override node.DataDir")
	memory := fs.Bool("memory", false, "Keep ledger state in memory only")
	if err := fs.Parse(args); err != nil {
		return 2
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(stderr, "Failed to load config: %v\n", err)
		return 1
	}
	if *listen != "" {
		cfg.Node.ListenAddress = *listen
	}
	if *dataDir != "" {
		cfg.Node.DataDir = *dataDir
	}
	if *memory {
		cfg.Node.DataDir = ""
	}

	env := strings.TrimSpace(os.Getenv(envName))
	if env == "" {
		env = cfg.Logging.Env
	}
	logger, logCloser, err := logging.New(logging.Options{
		Service: cfg.Logging.Service,
		Env:     env,
		Level:   cfg.Logging.Level,
		Format:  cfg.Logging.Format,
		File: logging.FileOptions{
			Path:       cfg.Logging.File,
			MaxSizeMB:  cfg.Logging.MaxSizeMB,
			MaxBackups: cfg.Logging.MaxBackups,
			MaxAgeDays: cfg.Logging.MaxAgeDays,
			Compress:   cfg.Logging.Compress,
		},
	})
	if err != nil {
		fmt.Fprintf(stderr, "Failed to set up logging: %v\n", err)
		return 1
	}
	defer logCloser.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName: cfg.Logging.Service,
		Environment: env,
		Endpoint:    cfg.Observability.Endpoint,
		Insecure:    cfg.Observability.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Observability.Headers),
		Metrics:     cfg.Observability.Metrics,
		Traces:      cfg.Observability.Traces,
		SampleRatio: cfg.Observability.SampleRatio,
	})
	if err != nil {
		logger.Error("Failed to initialise telemetry", slog.Any("error", err))
		return 1
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	n, err := newNode(cfg, logger, passphrase.NewSource(cfg.Node.DevKeystoreEnv, "dev controller").Get)
	if err != nil {
		logger.Error("Failed to start node", slog.Any("error", err))
		return 1
	}
	defer n.Close()

	if n.index != nil {
		indexCtx, cancelIndex := context.WithCancel(ctx)
		indexDone := make(chan struct{})
		go func() {
			defer close(indexDone)
			_ = n.index.Run(indexCtx, cfg.Node.Index.Interval())
		}()
		defer func() {
			cancelIndex()
			<-indexDone
		}()
	}
	if err := n.server.Serve(ctx, cfg.Node.ListenAddress); err != nil {
		logger.Error("RPC server stopped", slog.Any("error", err))
		return 1
	}
	logger.Info("accumd stopped")
	return 0
}

type node struct {
	db     storage.Database
	chain  *chain.Chain
	index  *indexer.Indexer
	server *rpc.Server
}

func newNode(cfg *config.Config, logger *slog.Logger, passphraseFn func() (string, error)) (*node, error) {
	var db storage.Database
	if strings.TrimSpace(cfg.Node.DataDir) == "" {
		logger.Warn("running with in-memory ledger state")
		db = storage.NewMemDB()
	} else {
		ldb, err := storage.NewLevelDB(cfg.Node.DataDir)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db = ldb
	}

	ledgerChain, err := chain.New(db,
		chain.WithModules(native.DefaultModules()...),
		chain.WithPauses(cfg.Node.Pauses.View()),
		chain.WithLogger(logger),
		chain.WithMetrics(observability.Ledger()),
		chain.WithQuota(cfg.Node.Quota.Runtime()),
	)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("open chain: %w", err)
	}
	n := &node{db: db, chain: ledgerChain}

	for _, ctrl := range cfg.Node.Controllers {
		if err := n.grant(ctrl.DID, ctrl.Address, logger); err != nil {
			n.Close()
			return nil, err
		}
	}
	if cfg.Node.DevKeystorePath != "" {
		pass, err := passphraseFn()
		if err != nil {
			n.Close()
			return nil, err
		}
		key, created, err := crypto.LoadOrCreateKeystore(cfg.Node.DevKeystorePath, pass, crypto.WithLightScrypt())
		if err != nil {
			n.Close()
			return nil, fmt.Errorf("dev keystore: %w", err)
		}
		if created {
			logger.Info("created dev controller keystore", slog.String("path", cfg.Node.DevKeystorePath))
		}
		if err := n.grant(cfg.Node.DevDID, key.PubKey().Address().String(), logger); err != nil {
			n.Close()
			return nil, err
		}
	}

	if path := strings.TrimSpace(cfg.Node.Index.Path); path != "" {
		indexDB, err := indexer.Open(path)
		if err != nil {
			n.Close()
			return nil, err
		}
		n.index, err = indexer.New(indexDB, ledgerChain, indexer.WithLogger(logger))
		if err != nil {
			if sqlDB, dbErr := indexDB.DB(); dbErr == nil {
				sqlDB.Close()
			}
			n.Close()
			return nil, err
		}
		logger.Info("event index enabled", slog.String("path", path))
	}

	height, hash := ledgerChain.Head()
	logger.Info("ledger ready",
		slog.String("network", cfg.Node.NetworkName),
		slog.Uint64("height", height),
		slog.String("head", fmt.Sprintf("%x", hash)))

	authToken := config.Secret(cfg.Node.AuthTokenEnv)
	jwtSecret := config.Secret(cfg.Node.JWT.HMACSecretEnv)
	if authToken == "" && jwtSecret == "" {
		logger.Warn("no RPC credentials configured; ledger_submit is disabled")
	}
	n.server = rpc.NewServer(ledgerChain, rpc.Config{
		AuthToken: authToken,
		JWT:       rpc.JWTConfig{HMACSecret: jwtSecret, Issuer: cfg.Node.JWT.Issuer},
		RateLimit: rpc.RateLimit{
			RequestsPerMinute: cfg.Node.RateLimit.RequestsPerMinute,
			Burst:             cfg.Node.RateLimit.Burst,
		},
		ServiceName:    cfg.Logging.Service,
		AllowedOrigins: cfg.Node.AllowedOrigins,
	}, logger)
	return n, nil
}

func (n *node) grant(did, address string, logger *slog.Logger) error {
	id, err := identity.ParseIdentity(did)
	if err != nil {
		return fmt.Errorf("controller %s: %w", did, err)
	}
	addr, err := crypto.DecodeAddress(address)
	if err != nil {
		return fmt.Errorf("controller %s: %w", did, err)
	}
	if err := n.chain.AddController(id, addr); err != nil {
		return fmt.Errorf("controller %s: %w", did, err)
	}
	logger.Info("controller granted", slog.String("did", id.String()), slog.String("address", addr.String()))
	return nil
}

func (n *node) Close() {
	if n.index != nil {
		n.index.Close()
	}
	n.db.Close()
}
