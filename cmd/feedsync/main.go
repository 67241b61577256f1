package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"finverse/config"
	"finverse/internal/feed"
	"finverse/internal/gateway"
	"finverse/internal/history"
	"finverse/internal/instruments"
	"finverse/internal/logger"
	"finverse/internal/markethours"
	"finverse/internal/metrics"
	"finverse/internal/session"
	redisstore "finverse/internal/store/redis"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	logger.Init("feedsync", slog.LevelInfo)
	log.Println("[feedsync] starting...")

	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Instrument lookup DB + daily master refresh ----
	os.MkdirAll(filepath.Dir(cfg.InstrumentsDB), 0o755)
	instStore, err := instruments.Open(cfg.InstrumentsDB)
	if err != nil {
		log.Fatalf("[feedsync] instrument db init failed: %v", err)
	}
	defer instStore.Close()

	refresher := instruments.NewRefresher(instStore, cfg.MasterURL)
	refresher.OnRefresh = func(rows int, err error) {
		if err == nil {
			prom.InstrumentRows.Set(float64(rows))
		}
	}
	go refresher.RunDaily(ctx)

	// ---- Upstream feed: one shared connection ----
	conn := feed.NewConn(cfg.FeedURL)
	conn.OnReconnect = prom.FeedReconnect.Inc

	registry := feed.NewRegistry(conn)
	registry.OnFrameSent = func(frameType string) {
		prom.FramesSent.WithLabelValues(frameType).Inc()
		prom.WireSubscriptions.Set(float64(len(registry.ActiveKeys())))
	}

	dispatch := feed.NewDispatcher()
	dispatch.OnTick = func() {
		prom.TicksApplied.Inc()
		health.SetLastTickTime(time.Now())
	}
	conn.OnFrame = dispatch.HandleFrame

	// ---- History loader + session manager ----
	loader := history.NewLoader(cfg.APIBaseURL, cfg.HTTPTimeout)
	loader.OnLoad = func(ok bool) {
		if ok {
			prom.LoadsTotal.WithLabelValues("ok").Inc()
		} else {
			prom.LoadsTotal.WithLabelValues("error").Inc()
		}
	}
	loader.OnDroppedRows = func(n int) {
		prom.DroppedRows.Add(float64(n))
	}

	manager := session.NewManager(loader, registry, dispatch, cfg.LineWindow)

	conn.OnUp = func() {
		health.SetFeedConnected(true)
		manager.SetStale(false)
		registry.Resync()
	}
	conn.OnDown = func(err error) {
		health.SetFeedConnected(false)
		manager.SetStale(true)
	}

	go conn.Run(ctx)

	// ---- Chart gateway ----
	hub := gateway.NewHub(registry, conn.IsOpen)
	hub.OnClientCount = func(n int) {
		prom.GatewayClients.Set(float64(n))
	}
	dispatch.Tap(hub.HandleEnvelope)
	go hub.RunStatusBroadcast(ctx, 5*time.Second)

	gwSrv := gateway.NewServer(cfg.GatewayAddr, hub, instStore)
	gwSrv.Start()

	// ---- Redis publisher (optional) ----
	var pub *redisstore.Publisher
	if cfg.RedisAddr != "" {
		pub, err = redisstore.New(redisstore.Config{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		})
		if err != nil {
			log.Printf("[feedsync] WARNING: redis init failed: %v (continuing without redis)", err)
			pub = nil
		}
	}
	if pub != nil {
		pub.OnBuffered = func() { prom.RedisBuffered.Inc() }
		pub.OnBreakerShift = func(_, to redisstore.BreakerState) {
			prom.RedisBreakerState.Set(float64(to))
		}
		go pub.Run(ctx, manager.Updates())
		health.StartLivenessChecker(ctx, pub.Client(), instStore.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, instStore.DB(), 10*time.Second)
	}

	// ---- Periodic gauges ----
	go func() {
		ticker := time.NewTicker(5 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				prom.ActiveSessions.Set(float64(manager.ActiveCount()))
				if markethours.IsMarketOpen(time.Now()) {
					prom.MarketState.Set(1)
				} else {
					prom.MarketState.Set(0)
				}
			}
		}
	}()

	log.Printf("[feedsync] ready: feed=%s api=%s gateway=%s metrics=%s",
		cfg.FeedURL, cfg.APIBaseURL, cfg.GatewayAddr, cfg.MetricsAddr)
	log.Printf("[feedsync] %s", markethours.StatusString(time.Now()))

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[feedsync] shutdown signal received, cleaning up...")
	cancel()
	conn.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	gwSrv.Stop(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	if pub != nil {
		pub.Close()
	}

	log.Println("[feedsync] shutdown complete.")
}
