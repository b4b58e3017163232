package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/moltworks/agentpay"
	"github.com/moltworks/agentpay/ledger"
	"github.com/moltworks/agentpay/mechanisms/evm"
	"github.com/moltworks/agentpay/mechanisms/svm"
	"github.com/moltworks/agentpay/metrics"
	"github.com/moltworks/agentpay/server"
	"github.com/moltworks/agentpay/signers/privy"
	"github.com/moltworks/agentpay/wallet"
)

func main() {
	_ = godotenv.Load()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	signer, err := privy.NewClient(privy.Config{
		AppID:     os.Getenv("PRIVY_APP_ID"),
		AppSecret: os.Getenv("PRIVY_APP_SECRET"),
		BaseURL:   os.Getenv("PRIVY_BASE_URL"),
	}, privy.WithLogger(log))
	if err != nil {
		log.Fatal("failed to create wallet signer", zap.Error(err))
	}

	registry := agentpay.DefaultRegistry()
	store := ledger.NewMemoryStore()
	recorder := metrics.NewPrometheusRecorder()

	evmExec := evm.NewExecutor(signer, evm.WithLogger(log))
	svmExec := svm.NewExecutor(signer, svm.WithLogger(log))

	executor := agentpay.NewExecutor(registry, store,
		agentpay.WithLogger(log),
		agentpay.WithMetrics(recorder))
	executor.RegisterFamily(agentpay.FamilyEVM, evmExec)
	executor.RegisterFamily(agentpay.FamilySVM, svmExec)

	wallets := wallet.NewService(registry, wallet.NewMemoryStore(), signer, log)
	wallets.RegisterFamily(agentpay.FamilyEVM, evmExec)
	wallets.RegisterFamily(agentpay.FamilySVM, svmExec)
	wallets.RegisterNativeSender(signer)

	srv := server.New(executor, wallets, store, log)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}
	httpServer := &http.Server{
		Addr:              ":" + port,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	log.Info("shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("shutdown failed", zap.Error(err))
	}
}
