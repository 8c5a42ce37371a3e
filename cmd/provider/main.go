package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/arbiterrpc"
	"github.com/nearai/pay-per-prompt/internal/codec"
	"github.com/nearai/pay-per-prompt/internal/keyguard"
	"github.com/nearai/pay-per-prompt/internal/metricsreg"
	"github.com/nearai/pay-per-prompt/internal/receiver/api"
	"github.com/nearai/pay-per-prompt/internal/receiver/reconciler"
	"github.com/nearai/pay-per-prompt/internal/receiver/store"
	"github.com/nearai/pay-per-prompt/internal/receiver/validator"
	"github.com/nearai/pay-per-prompt/internal/senderclient"
	"github.com/nearai/pay-per-prompt/internal/telemetry"
)

// arbiterHandle is everything this process needs from an arbiter,
// satisfied directly by *arbiter.Arbiter (embedded mode) and by
// *arbiterrpc.Client (remote mode).
type arbiterHandle interface {
	Channel(ctx context.Context, channelID string) (arbiter.Channel, bool, error)
	Withdraw(ctx context.Context, caller codec.AccountID, state codec.SignedState) error
	WithdrawAndClose(ctx context.Context, caller codec.AccountID, withdrawState, closeState codec.SignedState) error
}

func main() {
	var (
		host  = flag.String("host", "0.0.0.0", "Server host")
		port  = flag.Int("port", 8090, "Server port")
		debug = flag.Bool("debug", false, "Enable debug logging")
	)
	flag.Parse()

	logLevel := getEnv("LOG_LEVEL", "info")
	if *debug {
		logLevel = "debug"
	}
	logCfg := telemetry.DefaultLogConfig("provider")
	logCfg.Level = logLevel
	if *debug {
		logCfg.Format = "console"
		logCfg.Environment = "development"
	}
	logger, err := telemetry.NewLogger(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	accountID := os.Getenv("RECEIVER_ACCOUNT_ID")
	if accountID == "" {
		logger.Fatal("RECEIVER_ACCOUNT_ID must be set")
	}
	network := getEnv("RECEIVER_NETWORK", "testnet")

	receiverPub, receiverPriv, err := senderclient.LoadCredentials(network, accountID)
	if err != nil {
		logger.Fatal("failed to load receiver credentials", zap.Error(err))
	}
	receiverPublicKey, err := codec.EncodePublicKey(receiverPub)
	if err != nil {
		logger.Fatal("failed to encode receiver public key", zap.Error(err))
	}
	receiverKey := keyguard.New(receiverPriv)

	logger.Info("starting payment channel provider",
		zap.String("host", *host),
		zap.Int("port", *port),
		telemetry.AccountID(accountID),
		zap.String("network", network),
	)

	registry := metricsreg.New()
	channelMetrics := metricsreg.NewChannelMetrics(registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		dsn = getEnv("SQLITE_PATH", "./provider.db")
	}
	logger.Info("opening receiver store", zap.String("dsn", redactDSN(dsn)))
	st, err := store.NewStore(dsn)
	if err != nil {
		logger.Fatal("failed to open receiver store", zap.Error(err))
	}
	defer st.Close()

	arb, closeArbiter, err := buildArbiterHandle(logger)
	if err != nil {
		logger.Fatal("failed to initialize arbiter handle", zap.Error(err))
	}
	if closeArbiter != nil {
		defer closeArbiter()
	}

	costPerCall, err := parseBalanceEnv("COST_PER_CALL", arbiter.NewBalance(1))
	if err != nil {
		logger.Fatal("invalid COST_PER_CALL", zap.Error(err))
	}
	minWithdraw, err := parseBalanceEnv("MIN_WITHDRAW_AMOUNT", arbiter.Zero())
	if err != nil {
		logger.Fatal("invalid MIN_WITHDRAW_AMOUNT", zap.Error(err))
	}
	paymentHeader := getEnv("PAYMENT_HEADER", api.DefaultPaymentHeader)

	v := validator.New(st, arb, receiverPublicKey).WithMetrics(channelMetrics)

	recCfg := reconciler.Defaults()
	recCfg.MinWithdrawAmount = minWithdraw
	rec := reconciler.New(st, arb, codec.AccountID(accountID), receiverKey, recCfg, logger).WithMetrics(channelMetrics)

	recDone := make(chan error, 1)
	go func() {
		recDone <- rec.Run(ctx)
	}()

	srv := api.NewServer(api.Config{
		AccountID:     codec.AccountID(accountID),
		Network:       network,
		PublicKey:     receiverPublicKey,
		PrivateKey:    receiverKey,
		PaymentHeader: paymentHeader,
		CostPerCall:   costPerCall,
	}, st, v, arb, channelMetrics, logger)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", *host, *port),
		Handler: srv.Router(),
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("provider HTTP surface listening", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
			return
		}
		serverErr <- nil
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		if err != nil {
			logger.Error("HTTP server error", zap.Error(err))
		}
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	}

	logger.Info("shutting down gracefully")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("error shutting down HTTP server", zap.Error(err))
	}

	select {
	case <-recDone:
	case <-time.After(5 * time.Second):
		logger.Warn("reconciler did not stop before shutdown timeout")
	}

	logger.Info("shutdown complete")
}

// buildArbiterHandle wires either an in-process arbiter (the default, with
// bbolt-backed durability when ARBITER_DB_PATH is set) or a remote
// arbiterrpc.Client, selected by ARBITER_MODE. The returned close func may
// be nil.
func buildArbiterHandle(logger *zap.Logger) (arbiterHandle, func(), error) {
	mode := getEnv("ARBITER_MODE", "embedded")
	switch mode {
	case "remote":
		url := os.Getenv("ARBITER_URL")
		if url == "" {
			return nil, nil, fmt.Errorf("ARBITER_URL must be set when ARBITER_MODE=remote")
		}
		logger.Info("using remote arbiter", zap.String("url", url))
		return arbiterrpc.NewClient(url), nil, nil
	case "embedded":
		var chanStore arbiter.Store
		var closeFn func()
		if path := os.Getenv("ARBITER_DB_PATH"); path != "" {
			logger.Info("using bolt-backed embedded arbiter", zap.String("path", path))
			bs, err := arbiter.OpenBoltStore(path)
			if err != nil {
				return nil, nil, err
			}
			chanStore = bs
			closeFn = func() { bs.Close() }
		} else {
			logger.Info("using in-memory embedded arbiter (no ARBITER_DB_PATH set)")
			chanStore = arbiter.NewMemStore()
		}
		ledger := arbiter.NewInMemoryLedger()
		return arbiter.New(chanStore, ledger), closeFn, nil
	default:
		return nil, nil, fmt.Errorf("unknown ARBITER_MODE %q", mode)
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func parseBalanceEnv(key string, defaultValue arbiter.Balance) (arbiter.Balance, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue, nil
	}
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return arbiter.Balance{}, fmt.Errorf("%s: invalid decimal balance %q", key, raw)
	}
	return arbiter.BalanceFromBigInt(n), nil
}

// redactDSN strips credentials from a postgres connection string before it
// ever reaches a log line; a sqlite file path passes through unchanged.
func redactDSN(dsn string) string {
	if len(dsn) >= 11 && dsn[:11] == "postgres://" {
		return "postgres://<redacted>"
	}
	return dsn
}
