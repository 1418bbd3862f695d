package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/shopspring/decimal"

	"github.com/derivatex/sor-kernel/internal/sor"
	"github.com/derivatex/sor-kernel/internal/sorconfig"
	"github.com/derivatex/sor-kernel/pkg/observability"
)

func main() {
	cfg := sorconfig.Load()

	obsProvider, err := observability.NewSimpleObservabilityProvider(observability.GetDefaultSimpleConfig())
	if err != nil {
		panic(err)
	}
	logger := obsProvider.Logger

	clock := sor.NewSystemClock()
	tracker := sor.NewTracker(cfg.Windows.TrackerMaxItems, logger)
	intentWindow := sor.NewIntentWindow(cfg.Windows.IdempotencyWindow, cfg.Windows.IdempotencyMaxKeys)
	outbox := sor.NewOutbox(cfg.Outbox.DupeWindow, cfg.Outbox.MaxInMemory)
	cooldowns := sor.NewCooldownRegistry()
	budgets := sor.NewBudgetRegistry(nil, cfg.RiskCaps.RiskBudgetsTTL, cfg.RiskCaps.RiskBudgetsMaxReserves)
	safeMode := sor.NewSafeModeController()
	events := sor.NewEventStream()
	marketData := sor.NewMemoryMarketDataSource()
	watchdog := sor.NewWatchdog(cfg.Windows.StaleGateCooldown, cfg.Windows.StaleGateCooldown)
	readiness := sor.NewStaticReadinessAggregator(cfg.ReadinessOK, cfg.ReadinessReq)
	universe := sor.NewStaticUniverseProvider(cfg.TradeablePairs)
	var liveConfirm *sor.LiveConfirmGate
	if cfg.LiveConfirm != "" {
		liveConfirm = sor.NewLiveConfirmGate(cfg.LiveConfirm)
	}

	scorerCfg := sor.VenueScorerConfig{
		Fees:                  buildFeeTable(cfg.Scorer.FeesBps),
		DefaultFee:            sor.FeeInfo{TakerBps: cfg.Scorer.DefaultFeeBps, MakerBps: cfg.Scorer.DefaultFeeBps},
		Impact:                sor.ImpactModel{Coefficient: cfg.Scorer.ImpactCoefficient, Exponent: cfg.Scorer.ImpactExponent},
		ImpactTargetUSD:       cfg.Scorer.ImpactTargetUSD,
		PreferMaker:           cfg.Scorer.PreferMaker,
		LatencyTargetMS:       cfg.Scorer.LatencyTargetMS,
		LatencyWeightBpsPerMS: cfg.Scorer.LatencyBpsPerMS,
	}

	governorLimits := sor.GovernorLimits{
		MaxDailyLossUSD:      decimal.NewFromFloat(cfg.RiskCaps.DailyLossCapUSDGlobal),
		HasMaxDailyLoss:      cfg.RiskCaps.DailyLossCapUSDGlobal > 0,
		MaxUnrealizedLossUSD: decimal.NewFromFloat(cfg.RiskCaps.IntradayDrawdownCapGlobal),
		HasMaxUnrealizedLoss: cfg.RiskCaps.IntradayDrawdownCapGlobal > 0,
	}

	// Guard order follows the canonical pipeline: safe-mode, live-confirm,
	// universe, readiness-agg, marketdata-fresh, pretrade-strict,
	// risk-caps, pnl-caps, risk-budget, cooldown, intent-dedup,
	// outbox-inflight. Each optional guard is gated by the same env flag
	// sorconfig already parsed for it.
	var guards []sor.Guard
	guards = append(guards, sor.NewSafeModeGuard(safeMode))
	if cfg.ExecProfile == sorconfig.ProfileLive {
		guards = append(guards, sor.NewLiveConfirmGuard())
	}
	if cfg.Flags.EnforceUniverse {
		guards = append(guards, sor.NewUniverseGuard(universe))
	}
	if cfg.Flags.ReadinessAggGuard {
		guards = append(guards, sor.NewReadinessAggregatorGuard(readiness))
	}
	if cfg.Flags.MDWatchdogOn() {
		guards = append(guards, sor.NewMarketDataFreshnessGuard(watchdog, cfg.Windows.StaleP95LimitMS))
	}
	if cfg.Flags.PretradeStrictOn() {
		guards = append(guards, sor.NewPretradeStrictGuard())
	}
	if cfg.Flags.RiskLimitsOn() {
		guards = append(guards, sor.NewRiskCapsGuard())
		guards = append(guards, sor.NewPnLCapsGuard())
		guards = append(guards, sor.NewRiskBudgetGuard(budgets))
	}
	guards = append(guards, sor.NewCooldownGuard(cooldowns))
	guards = append(guards, sor.NewIntentDedupGuard(intentWindow))
	guards = append(guards, sor.NewOutboxInflightGuard(outbox))
	pipeline := sor.NewPipeline(guards...)

	router := sor.NewRouter(sor.FacadeDeps{
		Clock:          clock,
		Logger:         logger,
		Tracker:        tracker,
		IntentWindow:   intentWindow,
		Outbox:         outbox,
		Cooldowns:      cooldowns,
		Budgets:        budgets,
		SafeMode:       safeMode,
		Pipeline:       pipeline,
		Events:         events,
		MarketData:     marketData,
		ScorerConfig:   scorerCfg,
		MinEdgeBps:     cfg.Scorer.MinEdgeBps,
		Venues:         cfg.Scorer.ArbVenues,
		LiveConfirm:    liveConfirm,
		Readiness:      readiness,
		GovernorLimits: governorLimits,
	})

	// onExpire settles the outbox entry, budget reservation and intent
	// window of an order the scheduler force-expired.
	onExpire := func(_ context.Context, coid, _ string) {
		snap, ok := tracker.Get(coid)
		if !ok {
			return
		}
		outbox.MarkTerminal(snap.IntentKey, clock.Now())
		budgets.Release(coid)
		intentWindow.Forget(snap.IntentKey)
	}
	scheduler := sor.NewTimeoutScheduler(tracker, clock,
		cfg.Windows.SubmitAckTimeout, cfg.Windows.FillTimeout,
		5*time.Second, cfg.Flags.OrderTimeouts, logger, onExpire)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	scheduler.Start(ctx)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	registerRoutes(engine, router, safeMode, events, marketData, watchdog, cfg)

	server := &http.Server{
		Addr:         addr(),
		Handler:      engine,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info(context.Background(), "starting sor-gateway", map[string]interface{}{"addr": server.Addr})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error(context.Background(), "sor-gateway listen failed", err, nil)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	_ = server.Shutdown(shutdownCtx)
}

func addr() string {
	port := os.Getenv("SOR_GATEWAY_PORT")
	if port == "" {
		port = "8090"
	}
	return ":" + port
}

func buildFeeTable(feesBps map[string]float64) map[string]sor.FeeInfo {
	table := make(map[string]sor.FeeInfo, len(feesBps))
	for venue, bps := range feesBps {
		table[venue] = sor.FeeInfo{TakerBps: bps, MakerBps: bps}
	}
	return table
}

func corsMiddleware() gin.HandlerFunc {
	c := cors.New(cors.Options{AllowedOrigins: []string{"*"}, AllowedMethods: []string{"GET", "POST"}})
	return func(ctx *gin.Context) {
		c.HandlerFunc(ctx.Writer, ctx.Request)
		ctx.Next()
	}
}

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

func registerRoutes(engine *gin.Engine, router *sor.Router, safeMode *sor.SafeModeController, events *sor.EventStream, marketData *sor.MemoryMarketDataSource, watchdog *sor.Watchdog, cfg *sorconfig.SORConfig) {
	v1 := engine.Group("/v1")

	v1.POST("/orders", func(c *gin.Context) {
		var req struct {
			Strategy string `json:"strategy"`
			Venue    string `json:"venue"`
			Symbol   string `json:"symbol"`
			Side     string `json:"side"`
			Qty      string `json:"qty"`
			Price    string `json:"price"`
			HasPrice bool   `json:"has_price"`
			Nonce    uint64 `json:"nonce"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		qty, _ := decimal.NewFromString(req.Qty)
		price, _ := decimal.NewFromString(req.Price)
		intent := sor.Intent{
			Strategy: req.Strategy, Venue: req.Venue, Symbol: req.Symbol,
			Side: sor.Side(req.Side), Qty: qty, Price: price, HasPrice: req.HasPrice,
			Type: sor.OrderTypeLimit, TimestampNS: time.Now().UnixNano(), Nonce: req.Nonce,
		}
		result := router.RegisterOrder(c.Request.Context(), intent)
		c.JSON(http.StatusOK, result)
	})

	v1.POST("/orders/:coid/events", func(c *gin.Context) {
		coid := c.Param("coid")
		var req struct {
			Event string `json:"event"`
			Qty   string `json:"qty"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		var qtyPtr *decimal.Decimal
		if req.Qty != "" {
			if qty, err := decimal.NewFromString(req.Qty); err == nil {
				qtyPtr = &qty
			}
		}
		state, err := router.ProcessOrderEvent(c.Request.Context(), coid, req.Event, qtyPtr, nil)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"state": state})
	})

	v1.POST("/marketdata/quote", func(c *gin.Context) {
		var req struct {
			Venue  string  `json:"venue"`
			Symbol string  `json:"symbol"`
			Bid    float64 `json:"bid"`
			Ask    float64 `json:"ask"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		marketData.UpdateQuote(req.Venue, req.Symbol, sor.Quote{Bid: req.Bid, Ask: req.Ask, TsWallNS: time.Now().UnixNano()})
		watchdog.Beat(req.Venue, req.Symbol, time.Now())
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})

	v1.POST("/arb/intervenue", func(c *gin.Context) {
		var req struct {
			Strategy    string `json:"strategy"`
			Symbol      string `json:"symbol"`
			NotionalUSD string `json:"notional_usd"`
			Nonce       uint64 `json:"nonce"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		notional, _ := decimal.NewFromString(req.NotionalUSD)
		result := router.SubmitInterVenueArb(c.Request.Context(), req.Strategy, req.Symbol, notional, time.Now().UnixNano(), req.Nonce)
		c.JSON(http.StatusOK, result)
	})

	v1.GET("/orders/:coid", func(c *gin.Context) {
		snap, ok := router.GetOrderSnapshot(c.Param("coid"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	v1.GET("/audit", func(c *gin.Context) {
		c.JSON(http.StatusOK, router.AuditCountersSnapshot())
	})

	v1.POST("/safe-mode", jwtAuthMiddleware(), func(c *gin.Context) {
		var req struct {
			State  string `json:"state"`
			Reason string `json:"reason"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		now := time.Now()
		switch req.State {
		case string(sor.SafeModeHold):
			c.JSON(http.StatusOK, safeMode.EnterHold(req.Reason, nil, now))
		case string(sor.SafeModeKill):
			c.JSON(http.StatusOK, safeMode.EnterKill(req.Reason, nil, now))
		case string(sor.SafeModeNormal):
			c.JSON(http.StatusOK, safeMode.EnterNormal(req.Reason, nil, now))
		default:
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown state"})
		}
	})

	v1.GET("/stream", func(c *gin.Context) {
		conn, err := wsUpgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		ch, unsubscribe := events.Subscribe(64)
		defer unsubscribe()

		pings := time.NewTicker(30 * time.Second)
		defer pings.Stop()

		for {
			select {
			case <-c.Request.Context().Done():
				return
			case event, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteJSON(event); err != nil {
					return
				}
			case <-pings.C:
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					return
				}
			}
		}
	})

	engine.GET("/metrics", gin.WrapH(promhttp.Handler()))
}

func jwtAuthMiddleware() gin.HandlerFunc {
	secret := []byte(os.Getenv("SOR_JWT_SECRET"))
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if len(header) < 8 || header[:7] != "Bearer " {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing bearer token"})
			return
		}
		token, err := jwt.Parse(header[7:], func(t *jwt.Token) (interface{}, error) {
			return secret, nil
		})
		if err != nil || !token.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Next()
	}
}
