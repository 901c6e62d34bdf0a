package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"aegis/internal/adapters"
	"aegis/internal/breaker"
	"aegis/internal/config"
	"aegis/internal/domain"
	"aegis/internal/health"
	"aegis/internal/orchestrator"
	"aegis/internal/policy"
	"aegis/internal/queue"
	"aegis/internal/ratelimit"
	"aegis/internal/skills"
	"aegis/internal/statestore"
)

const (
	reservePipelineInterval = 5 * time.Minute
	gasSponsorshipInterval  = 30 * time.Second
	queueConsumerInterval   = 10 * time.Second
)

func main() {
	if os.Getenv("AEGIS_ENV") != "production" {
		if err := godotenv.Load(); err != nil {
			log.Printf("aegisd: no .env file loaded: %v", err)
		}
	}

	cfg, err := config.Load(os.Getenv("AEGIS_TOPOLOGY_PATH"))
	if err != nil {
		log.Fatalf("aegisd: failed to load configuration: %v", err)
	}

	store := statestore.Resolve(cfg.RedisURL)

	protocolIDs := make(map[string][]string, len(cfg.Topology.Protocols))
	for _, p := range cfg.Topology.Protocols {
		protocolIDs[p.ID] = p.WhitelistContracts
	}
	protocols := adapters.NewStaticProtocolStore(protocolIDs)

	sybilWindow := ratelimit.NewWindow(store, 24*time.Hour, 0)
	abuseDetector := policy.NewAbuseDetector(sybilWindow, nil, cfg.AbuseBlacklist)

	deps := &policy.Deps{
		Abuse:        abuseDetector,
		Protocols:    protocols,
		DailyWindow:  ratelimit.NewWindow(store, 24*time.Hour, cfg.MaxSponsorshipsPerUserDay),
		GlobalWindow: ratelimit.NewWindow(store, time.Minute, cfg.MaxSponsorshipsPerMinute),
		NewProtocolWindow: func(protocolID string) *ratelimit.Window {
			return ratelimit.NewWindow(store, time.Minute, cfg.MaxSponsorshipsPerProtocolMin)
		},
		Reputation: adapters.NoopReputationAttestor{},
	}
	engine := policy.NewEngine(policy.BuildSponsorshipRules(deps))

	var brk *breaker.Breaker
	if cfg.EconomicBreakerEnabled {
		brk = breaker.New(store, cfg.Breaker)
	} else {
		brk = breaker.New(store, breaker.Config{})
	}

	sponsorQueue := queue.New(store, 3)
	postLimiter := ratelimit.NewPostLimiter(store)

	checker := &health.Checker{Store: store}
	mux := http.NewServeMux()
	mux.Handle("/health", checker.Handler())
	go func() {
		addr := healthListenAddr()
		log.Printf("aegisd: health endpoint listening on %s", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Printf("aegisd: health server stopped: %v", err)
		}
	}()

	orch := orchestrator.New()
	orch.Engine = engine
	orch.PostLimiter = postLimiter
	orch.Breaker = brk
	orch.DebitProtocol = protocols.Debit

	reserveMode := orchestrator.NewReservePipelineMode(orchestrator.ReservePipelineDeps{
		Store:                store,
		WalletAddress:        cfg.AgentWalletAddress,
		TargetReserveETH:     cfg.TargetReserveETH,
		CriticalThresholdETH: cfg.ReserveCriticalETH,
		ChainID:              cfg.ChainID(),
	})
	orch.Register(reserveMode, reservePipelineInterval)

	sponsorshipMode := orchestrator.NewGasSponsorshipMode(orchestrator.GasSponsorshipDeps{
		Store:                store,
		TargetReserveETH:     cfg.TargetReserveETH,
		CriticalThresholdETH: cfg.ReserveCriticalETH,
	})
	orch.Register(sponsorshipMode, gasSponsorshipInterval)

	scheduler := skills.NewScheduler()

	consumer := &queue.Consumer{
		Queue:   sponsorQueue,
		Engine:  engine,
		Breaker: brk,
		Abuse:   abuseDetector,
		RequestSecret: func(protocolID string) string {
			return cfg.RequestSignatureSecret
		},
		BaselineConfig: func(protocolID string) domain.AgentConfig {
			return cfg.ToAgentConfigBaseline()
		},
		RecordSponsorship: func(ctx context.Context, nativeCostETH float64) {
			orchestrator.RecordSponsorshipBurn(ctx, store, cfg.TargetReserveETH, cfg.ReserveCriticalETH, nativeCostETH)
		},
		DebitProtocol: protocols.Debit,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	orch.Start(ctx)
	go runConsumerLoop(ctx, consumer)
	go runSchedulerLoop(ctx, scheduler)

	<-ctx.Done()
	log.Printf("aegisd: shutdown signal received, draining")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	orch.Stop(shutdownCtx)
	log.Printf("aegisd: shutdown complete")
}

func runConsumerLoop(ctx context.Context, consumer *queue.Consumer) {
	ticker := time.NewTicker(queueConsumerInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			consumer.Run(ctx)
		}
	}
}

func runSchedulerLoop(ctx context.Context, scheduler *skills.Scheduler) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			scheduler.Tick(ctx)
		}
	}
}

func healthListenAddr() string {
	if addr := os.Getenv("AEGIS_HEALTH_LISTEN"); addr != "" {
		return addr
	}
	return ":8090"
}
