package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/agentrium/runtime/internal/agentmgr"
	"github.com/agentrium/runtime/internal/agentstate"
	"github.com/agentrium/runtime/internal/api"
	"github.com/agentrium/runtime/internal/bus"
	"github.com/agentrium/runtime/internal/busnats"
	"github.com/agentrium/runtime/internal/config"
	"github.com/agentrium/runtime/internal/economy"
	"github.com/agentrium/runtime/internal/governance"
	"github.com/agentrium/runtime/internal/memory"
	internalnats "github.com/agentrium/runtime/internal/nats"
	"github.com/agentrium/runtime/internal/obs"
	"github.com/nats-io/nats-server/v2/server"
)

func main() {
	configPath := flag.String("config", "configs/runtime.yaml", "Path to configuration file")
	port := flag.Int("port", 0, "Override server port (0 = use config)")
	flag.Parse()

	log.Println("===============================================")
	log.Println("  agentrium runtime — multi-agent coordination")
	log.Println("===============================================")

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("[MAIN] fatal configuration error: %v", err)
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	obs.InitDefault("agentrium", "info", "text")
	logger := obs.Default()

	if err := os.MkdirAll(cfg.MemoryPath, 0755); err != nil {
		log.Fatalf("[MAIN] failed to create memory root %s: %v", cfg.MemoryPath, err)
	}

	persistent, err := memory.Open(cfg.MemoryPath)
	if err != nil {
		log.Fatalf("[MAIN] failed to open persistent memory: %v", err)
	}
	defer persistent.Close()

	memStore, err := memory.NewMemoryStore(cfg.MemoryPath)
	if err != nil {
		log.Fatalf("[MAIN] failed to open memory store: %v", err)
	}
	defer memStore.Close()

	operationalDB, err := memory.NewSQLiteOperationalDB(filepath.Join(cfg.MemoryPath, "operational.db"))
	if err != nil {
		log.Fatalf("[MAIN] failed to open operational database: %v", err)
	}
	defer operationalDB.Close()

	learningDB, err := memory.NewSQLiteLearningDB(filepath.Join(cfg.MemoryPath, "learning.db"))
	if err != nil {
		log.Fatalf("[MAIN] failed to open learning database: %v", err)
	}
	defer learningDB.Close()
	if lmURL := os.Getenv("COORD_LMSTUDIO_URL"); lmURL != "" {
		learningDB.SetEmbeddingProvider(memory.NewLMStudioEmbedding(lmURL, "qwen2.5-coder-7b-instruct"))
	}

	states := agentstate.New(persistent)

	sharedBus := bus.New(bus.Config{
		ChannelCapacity:  cfg.Bus.ChannelCapacity,
		HistoryRetention: cfg.Bus.HistoryRetention,
		CleanupInterval:  cfg.Bus.CleanupInterval,
	}, logger)
	defer sharedBus.Close()

	agents := agentmgr.New(agentmgr.NewDefaultHandlerFactory(memStore), logger)
	agents.EnableSharedBus(sharedBus)
	for _, seed := range []struct {
		id   string
		kind agentmgr.Kind
	}{
		{"investor-primary", agentmgr.KindInvestor},
		{"business-primary", agentmgr.KindBusiness},
		{"user-primary", agentmgr.KindUser},
		{"system-primary", agentmgr.KindSystem},
	} {
		agents.GetOrCreate(seed.id, seed.kind)
	}

	loop := economy.New(economy.Config{
		PhaseSettle:     cfg.Economy.PhaseSettle,
		InterPhaseSleep: cfg.Economy.InterPhaseSleep,
		CycleInterval:   cfg.Economy.CycleInterval,
	}, sharedBus, states, economy.ReferenceProducer(), logger)

	gov, err := governance.Open(cfg.MemoryPath, governance.Config{
		Thresholds: governance.Thresholds{
			MinROI:                 cfg.Governance.MinROIThreshold,
			PoorCycleCount:         cfg.Governance.PoorCycleThreshold,
			MinSuccessRate:         governance.DefaultThresholds().MinSuccessRate,
			MinAccuracyScore:       governance.DefaultThresholds().MinAccuracyScore,
			MaxPerformanceVariance: cfg.Governance.MaxPerformanceVariance,
		},
		AutoAdjustment:     cfg.Governance.AutoAdjustmentEnabled,
		GovernanceInterval: cfg.Governance.MonitoringInterval,
	}, sharedBus, states, loop, logger)
	if err != nil {
		log.Fatalf("[MAIN] failed to open governance layer: %v", err)
	}
	defer gov.Close()

	natsOpts := &server.Options{
		Port:     cfg.Server.NATSPort,
		HTTPPort: -1,
		NoLog:    true,
		NoSigs:   true,
	}
	natsServer, err := server.NewServer(natsOpts)
	if err != nil {
		log.Fatalf("[MAIN] failed to create embedded NATS server: %v", err)
	}
	go natsServer.Start()
	if !natsServer.ReadyForConnections(5 * time.Second) {
		log.Fatal("[MAIN] NATS server failed to start in time")
	}
	logger.WithFields(nil).WithField("port", cfg.Server.NATSPort).Info("embedded NATS server ready")

	natsClient, err := internalnats.NewClient(natsServer.ClientURL(), "agentrium-runtime", logger)
	if err != nil {
		log.Fatalf("[MAIN] failed to connect to embedded NATS server: %v", err)
	}
	defer natsClient.Close()

	wireBridge := busnats.New(sharedBus, natsClient.RawConn(), logger)
	if err := wireBridge.ExposeTopics([]string{
		bus.TopicCoordination, bus.TopicCoordinationResult, bus.TopicWorkflow, bus.TopicWorkflowResult,
		bus.TopicStrategyReallocation, bus.TopicCycleCompleted,
		"market_analysis", "investment_analysis", "business_strategy", "financial_planning",
		"airdrop_marketing", "user_engagement", "sales_analysis", "growth_assessment",
	}); err != nil {
		log.Fatalf("[MAIN] failed to expose topics over NATS: %v", err)
	}
	defer wireBridge.Close()

	backend := api.NewBackendSupervisor(api.BackendConfig{Command: os.Getenv("COORD_BACKEND_COMMAND")}, logger)

	httpServer := api.NewServer(fmt.Sprintf(":%d", cfg.Server.Port), sharedBus, loop, gov, agents, backend, logger)
	go func() {
		if err := httpServer.Run(); err != nil {
			log.Fatalf("[MAIN] HTTP server error: %v", err)
		}
	}()

	gov.Run(cfg.Governance.MonitoringInterval)
	defer gov.Stop()

	if cfg.Economy.Continuous {
		loop.RunContinuous(cfg.Economy.CycleInterval)
	} else {
		go loop.RunCycle()
	}
	defer loop.Stop()

	logger.WithFields(nil).WithField("port", cfg.Server.Port).Info("agentrium runtime ready")
	log.Println("===============================================")
	log.Printf("  HTTP:    http://localhost:%d/admin/metrics", cfg.Server.Port)
	log.Printf("  Metrics: http://localhost:%d/metrics", cfg.Server.Port)
	log.Printf("  Insight: ws://localhost:%d/insight", cfg.Server.Port)
	log.Println("===============================================")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.WithFields(nil).Info("shutdown signal received")

	if backend.Configured() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		if err := backend.StopWithContext(shutdownCtx); err != nil {
			logger.WithFields(nil).WithField("error", err.Error()).Warn("supervised backend shutdown error")
		}
		cancel()
	}
	if err := httpServer.Shutdown(10 * time.Second); err != nil {
		logger.WithFields(nil).WithField("error", err.Error()).Warn("HTTP server shutdown error")
	}
	natsServer.Shutdown()

	log.Println("[MAIN] agentrium runtime shutdown complete")
}
