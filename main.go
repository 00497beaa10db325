package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"goa.design/clue/log"

	"github.com/xiaot623/gogo/workspace/internal/adapter/agent"
	"github.com/xiaot623/gogo/workspace/internal/config"
	"github.com/xiaot623/gogo/workspace/internal/policy"
	store "github.com/xiaot623/gogo/workspace/internal/repository"
	"github.com/xiaot623/gogo/workspace/internal/service"
	"github.com/xiaot623/gogo/workspace/internal/tailer"
	handler "github.com/xiaot623/gogo/workspace/internal/transport/http"
	"github.com/xiaot623/gogo/workspace/internal/transport/rpc"
	"github.com/xiaot623/gogo/workspace/internal/transport/ws"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	// Setup logger
	format := log.FormatJSON
	switch {
	case cfg.LogFormat == "terminal":
		format = log.FormatTerminal
	case cfg.LogFormat == "" && log.IsTerminal():
		format = log.FormatTerminal
	}
	ctx := log.Context(context.Background(), log.WithFormat(format))
	if cfg.LogLevel == "debug" {
		ctx = log.Context(ctx, log.WithDebug())
		log.Debugf(ctx, "debug logs enabled")
	}

	log.Print(ctx, log.KV{K: "msg", V: "starting workspace setup service"},
		log.KV{K: "http-port", V: cfg.HTTPPort}, log.KV{K: "internal-port", V: cfg.InternalPort},
		log.KV{K: "rpc-port", V: cfg.RPCPort}, log.KV{K: "database", V: cfg.DatabaseURL},
		log.KV{K: "runlog", V: cfg.RunLogBackend})

	// Initialize store
	db, err := store.NewSQLiteStore(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize store")
	}
	defer db.Close()

	// Run log: the SQLite store unless Redis is configured
	var runLog store.RunLog = db
	if cfg.RunLogBackend == config.BackendRedis {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := rdb.Ping(pingCtx).Err(); err != nil {
			cancel()
			log.Fatalf(ctx, err, "failed to reach redis at %s", cfg.RedisAddr)
		}
		cancel()
		runLog = store.NewRedisRunLog(rdb, "workspace")
	}

	// Initialize policy engine
	policyContent := policy.DefaultPolicy
	if cfg.PolicyFile != "" {
		b, err := os.ReadFile(cfg.PolicyFile)
		if err != nil {
			log.Fatalf(ctx, err, "failed to read policy file")
		}
		policyContent = string(b)
	}
	policyEngine, err := policy.NewEngine(ctx, policyContent)
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize policy engine")
	}

	// Initialize agent and service
	ag := agent.New(ctx, cfg.AgentMode, cfg.AgentURL, cfg.AgentTimeout())
	svc := service.New(ctx, db, runLog, ag, policyEngine, service.Options{AgentTimeout: cfg.AgentTimeout()})

	// Initialize streaming
	t := tailer.New(runLog, db, policyEngine, tailer.Options{
		BatchSize:   cfg.StreamBatchSize,
		Interval:    cfg.PollInterval(),
		MaxDuration: cfg.MaxStreamDuration(),
	})
	wsServer := ws.NewServer(ws.Config{}, t)

	externalServer := handler.NewExternalServer(ctx, svc, t, wsServer)
	internalServer := handler.NewInternalServer(ctx, svc)
	rpcServer, err := rpc.NewServer(ctx, svc)
	if err != nil {
		log.Fatalf(ctx, err, "failed to initialize rpc server")
	}

	// Start external server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.HTTPPort)
		if err := externalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf(ctx, err, "failed to start external server")
		}
	}()

	// Start internal server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.InternalPort)
		if err := internalServer.Start(addr); err != nil && err != http.ErrServerClosed {
			log.Fatalf(ctx, err, "failed to start internal server")
		}
	}()

	// Start RPC server
	go func() {
		addr := fmt.Sprintf(":%d", cfg.RPCPort)
		if err := rpcServer.Start(addr); err != nil {
			log.Fatalf(ctx, err, "failed to start rpc server")
		}
	}()

	log.Print(ctx, log.KV{K: "msg", V: "servers started"})

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Print(ctx, log.KV{K: "msg", V: "shutting down"})

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := externalServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to shutdown external server gracefully"})
	}
	if err := internalServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to shutdown internal server gracefully"})
	}
	if err := rpcServer.Shutdown(shutdownCtx); err != nil {
		log.Error(ctx, err, log.KV{K: "msg", V: "failed to shutdown rpc server gracefully"})
	}
	svc.Close()

	log.Print(ctx, log.KV{K: "msg", V: "workspace setup service stopped"})
}
