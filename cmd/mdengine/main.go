// cmd/mdengine ingests the tick feed, aggregates 1s candles, resamples
// them into the enabled timeframes and persists everything to Redis and
// SQLite. With feed credentials set it follows NSE market hours; without
// them it runs 24/7 against an unauthenticated feed such as
// cmd/tickserver. A strategy runner (paper execution, risk checks,
// notifications) attaches to the candle stream when STRATEGY_CONFIG
// points at a strategy file.
package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"ta-enginev1/config"
	"ta-enginev1/internal/execution"
	"ta-enginev1/internal/logger"
	"ta-enginev1/internal/marketdata/agg"
	"ta-enginev1/internal/marketdata/bus"
	"ta-enginev1/internal/marketdata/closedetector"
	"ta-enginev1/internal/marketdata/tfbuilder"
	"ta-enginev1/internal/marketdata/ws"
	"ta-enginev1/internal/marketdata/wssim"
	"ta-enginev1/internal/markethours"
	"ta-enginev1/internal/metrics"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/notification"
	"ta-enginev1/internal/portfolio"
	"ta-enginev1/internal/ringbuf"
	redisstore "ta-enginev1/internal/store/redis"
	sqlitestore "ta-enginev1/internal/store/sqlite"
	"ta-enginev1/internal/strategy"
)

func main() {
	log := logger.Init("mdengine", slog.LevelInfo)
	log.Info("starting")

	cfg := config.Load()
	liveFeed := cfg.FeedClientCode != "" || cfg.FeedTOTPSecret != ""
	if liveFeed {
		if err := cfg.RequireFeedAuth(); err != nil {
			log.Error("bad feed config", "err", err)
			os.Exit(1)
		}
		log.Info("authenticated feed mode, following market hours")
	} else {
		log.Info("unauthenticated feed mode, ingesting 24/7")
	}

	tokens := cfg.ParseTokens()
	if len(tokens) == 0 {
		log.Error("no valid entries in SUBSCRIBE_TOKENS")
		os.Exit(1)
	}
	enabledTFs := cfg.ParseTFs()
	if len(enabledTFs) == 0 {
		log.Error("no valid entries in ENABLED_TFS")
		os.Exit(1)
	}
	log.Info("subscription", "instruments", len(tokens), "tfs", enabledTFs)

	// Pipeline channels. Redis/SQLite sit behind their own buffers so a
	// slow store never stalls the compute path.
	tickCh := make(chan model.Tick, 10000)
	candleCh := make(chan model.Candle, 5000)
	tfCandleCh := make(chan model.TFCandle, 5000)
	redisTFCandleCh := make(chan model.TFCandle, 5000)
	sqliteTFCandleCh := make(chan model.TFCandle, 5000)

	prom := metrics.New()
	health := metrics.NewHealthStatus()
	health.SetEnabledTFs(enabledTFs)
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	os.MkdirAll("data", 0o755)
	sqlWriter, err := sqlitestore.New(sqlitestore.WriterConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Error("sqlite init failed", "err", err)
		os.Exit(1)
	}
	defer sqlWriter.Close()
	health.SetSQLiteOK(true)

	redisWriter, err := redisstore.New(redisstore.WriterConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Warn("redis init failed, continuing without redis", "err", err)
		redisWriter = nil
		health.SetRedisConnected(false)
	} else {
		health.SetRedisConnected(true)
	}

	if redisWriter != nil {
		health.StartLivenessChecker(ctx, redisWriter.Client(), sqlWriter.DB(), 10*time.Second)
	} else {
		health.StartLivenessChecker(ctx, nil, sqlWriter.DB(), 10*time.Second)
	}

	// 1s candles fan out to SQLite, Redis, the TF resampler and, when
	// configured, the strategy runner.
	fanout := bus.New(5000)
	fanout.OnDrop = func(subscriberIdx int) {
		prom.FanoutDropsTotal.WithLabelValues(strconv.Itoa(subscriberIdx)).Inc()
	}
	sqliteCandleCh := fanout.Subscribe()
	var redis1sCandleCh <-chan model.Candle
	if redisWriter != nil {
		redis1sCandleCh = fanout.Subscribe()
	}
	tfBuilderIn := fanout.Subscribe()
	var strategyCandleCh <-chan model.Candle
	if cfg.StrategyConfig != "" {
		strategyCandleCh = fanout.Subscribe()
	}
	go fanout.Run(ctx, candleCh)

	go watchSaturation(ctx, fanout, prom)

	go sqlWriter.Run(ctx, sqliteCandleCh)
	if redis1sCandleCh != nil {
		go redisWriter.Run(ctx, redis1sCandleCh)
	}

	tfBuilder := tfbuilder.New(enabledTFs)
	tfBuilder.OnTFCandle = func(c model.TFCandle) {
		prom.TFCandlesTotal.WithLabelValues(strconv.Itoa(c.TF)).Inc()
	}
	tfBuilder.OnStaleCandle = func() {
		prom.StaleCandlesRejected.Inc()
	}
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-tfBuilderIn:
				if !ok {
					return
				}
				start := time.Now()
				tfBuilder.Process1(c, tfCandleCh)
				prom.TFBuildDur.Observe(time.Since(start).Seconds())
			}
		}
	}()

	// Route finished TF candles to both stores, forming ones to Redis
	// only. Drops are acceptable here: stores catch up from the stream.
	redisFormingCh := make(chan model.TFCandle, 5000)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case tfc, ok := <-tfCandleCh:
				if !ok {
					return
				}
				if tfc.Forming {
					select {
					case redisFormingCh <- tfc:
					default:
					}
					continue
				}
				select {
				case redisTFCandleCh <- tfc:
				default:
				}
				select {
				case sqliteTFCandleCh <- tfc:
				default:
				}
			}
		}
	}()

	if redisWriter != nil {
		go redisWriter.RunTFCandles(ctx, redisTFCandleCh)
		go redisWriter.RunFormingTFCandles(ctx, redisFormingCh)
	}
	go sqlWriter.RunTFCandles(ctx, sqliteTFCandleCh)

	// The feed writes into an SPSC ring so a GC pause or slow aggregator
	// batch never backs up into the WebSocket read loop.
	ring := ringbuf.New(16384)
	feedTicks := make(chan model.Tick, 1024)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case t, ok := <-feedTicks:
				if !ok {
					return
				}
				if !ring.Push(t) {
					prom.RingBufOverflow.Inc()
				}
			}
		}
	}()
	go func() {
		idle := time.NewTicker(time.Millisecond)
		defer idle.Stop()
		for {
			if t, ok := ring.Pop(); ok {
				select {
				case tickCh <- t:
				case <-ctx.Done():
					return
				}
				continue
			}
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
			}
		}
	}()

	aggregator := agg.New()
	aggregator.OnDroppedTick = func() {
		prom.DroppedTicks.Inc()
	}
	go aggregator.Run(ctx, tickCh, candleCh)

	if strategyCandleCh != nil {
		if err := startStrategyRunner(ctx, cfg, strategyCandleCh, log); err != nil {
			log.Error("strategy runner init failed", "err", err)
			os.Exit(1)
		}
	}
	log.Info("pipeline ready")

	if liveFeed {
		go runLiveFeed(ctx, cfg, tokens, feedTicks, prom, health, log)
	} else {
		go runSimFeed(ctx, cfg, feedTicks, prom, health, log)
	}
	log.Info("session", "status", markethours.StatusString(time.Now()))

	<-sigCh
	log.Info("shutdown signal received, cleaning up")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	metricsSrv.Stop(shutdownCtx)
	if redisWriter != nil {
		redisWriter.Close()
	}
	log.Info("shutdown complete")
}

// watchSaturation samples fan-out channel fill levels every 5s.
func watchSaturation(ctx context.Context, fanout *bus.FanOut, prom *metrics.Metrics) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for i, s := range fanout.ChannelStats() {
				if s.Cap > 0 {
					pct := float64(s.Len) / float64(s.Cap) * 100
					prom.ChannelSaturationPct.WithLabelValues("fanout_" + strconv.Itoa(i)).Set(pct)
				}
			}
		}
	}
}

// startStrategyRunner loads the strategy file and attaches strategies,
// paper execution, risk checks, the PnL book and notifications to the
// 1s candle stream.
func startStrategyRunner(ctx context.Context, cfg *config.Config, candleCh <-chan model.Candle, log *slog.Logger) error {
	file, err := strategy.LoadFile(cfg.StrategyConfig)
	if err != nil {
		return err
	}
	strategies, err := file.Build()
	if err != nil {
		return err
	}

	var journal *execution.Journal
	if cfg.TradeJournalDB != "" {
		journal, err = execution.NewJournal(cfg.TradeJournalDB)
		if err != nil {
			return err
		}
	}

	pf := portfolio.New()
	tracker := portfolio.NewPnLTracker()
	riskman := portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), pf, 0)
	paper := execution.NewPaperExecutor(256, cfg.SlippageBps, journal)

	var backends []notification.Notifier
	backends = append(backends, notification.NewLogNotifier())
	if cfg.TelegramBotToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramBotToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL, cfg.WebhookAuthToken))
	}
	notifier := notification.NewMultiNotifier(backends...)

	engine := strategy.NewEngine(256)
	for _, s := range strategies {
		engine.Register(s)
		log.Info("strategy registered", "name", s.Name())
	}

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case sig, ok := <-engine.Signals():
				if !ok {
					return
				}
				if allowed, reason := riskman.CanTrade(sig.Token, sig.Exchange, sig.Qty); !allowed {
					log.Warn("signal blocked by risk check", "strategy", sig.StrategyName, "reason", reason)
					continue
				}
				paper.Execute(sig)
			}
		}
	}()

	// Fills feed the position book and the PnL tracker; everything is
	// also pushed through the notifier.
	go func() {
		dispatch := notification.NewDispatcher(notifier)
		results := make(chan execution.OrderResult, 256)
		go dispatch.WatchResults(ctx, results)
		for {
			select {
			case <-ctx.Done():
				return
			case res, ok := <-paper.Results():
				if !ok {
					return
				}
				if res.Status == "FILLED" {
					buy := res.Signal.Action == strategy.ActionBuy
					price := res.Signal.Price
					if price == 0 {
						price = lastFillPrice(paper, res.OrderID)
					}
					pf.Apply(res.Signal.Exchange, res.Signal.Token, buy, res.Signal.Qty, price)
					realized := tracker.RecordTrade(portfolio.Trade{
						Token:     res.Signal.Token,
						Exchange:  res.Signal.Exchange,
						Action:    string(res.Signal.Action),
						Qty:       res.Signal.Qty,
						Price:     price,
						Timestamp: time.Now(),
					})
					if realized != 0 {
						riskman.RecordPnL(realized)
					}
				}
				select {
				case results <- res:
				default:
				}
			}
		}
	}()

	// Candle consumer. Marks the executor before running strategies so
	// a signal off this candle fills at its close.
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case c, ok := <-candleCh:
				if !ok {
					return
				}
				paper.Mark(c.Exchange, c.Token, c.Close)
				pf.UpdatePrice(c)
				engine.Process(c)
			}
		}
	}()

	log.Info("strategy runner started", "strategies", len(strategies), "slippage_bps", cfg.SlippageBps)
	return nil
}

// lastFillPrice looks up the fill price recorded for an order.
func lastFillPrice(paper *execution.PaperExecutor, orderID string) int64 {
	fills := paper.Fills()
	for i := len(fills) - 1; i >= 0; i-- {
		if fills[i].OrderID == orderID {
			return fills[i].FillPrice
		}
	}
	return 0
}

// runSimFeed streams from an unauthenticated feed around the clock.
func runSimFeed(ctx context.Context, cfg *config.Config, tickCh chan<- model.Tick, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) {
	log.Info("tick source", "url", cfg.FeedURL)
	ingest, err := wssim.New(wssim.Config{URL: cfg.FeedURL})
	if err != nil {
		log.Error("feed init failed", "err", err)
		os.Exit(1)
	}
	ingest.OnReconnect = func() {
		prom.FeedReconnects.Inc()
	}
	health.SetFeedConnected(true)
	if err := ingest.Start(ctx, tickCh); err != nil && ctx.Err() == nil {
		log.Error("feed error", "err", err)
	}
	health.SetFeedConnected(false)
}

// runLiveFeed connects for each trading session and disconnects once
// the closing price settles after the bell.
func runLiveFeed(ctx context.Context, cfg *config.Config, tokens []string, tickCh chan<- model.Tick, prom *metrics.Metrics, health *metrics.HealthStatus, log *slog.Logger) {
	for {
		now := time.Now()
		if !markethours.IsMarketOpen(now) {
			next := markethours.NextOpen(now)
			wait := next.Sub(now)
			log.Info("market closed",
				"status", markethours.StatusString(now),
				"sleep", wait.Truncate(time.Second).String(),
				"next_open", next.In(markethours.IST).Format("Mon 15:04"))
			prom.MarketState.Set(0)
			health.SetFeedConnected(false)

			select {
			case <-ctx.Done():
				return
			case <-time.After(wait):
			}
		}

		prom.MarketState.Set(1)
		prom.SessionTransitions.WithLabelValues("open").Inc()

		ingest, err := ws.New(ws.IngestConfig{
			URL:        cfg.FeedURL,
			ClientCode: cfg.FeedClientCode,
			TOTPSecret: cfg.FeedTOTPSecret,
			Tokens:     tokens,
		})
		if err != nil {
			log.Error("feed init failed, retrying in 30s", "err", err)
			time.Sleep(30 * time.Second)
			continue
		}
		ingest.OnReconnect = func() {
			prom.FeedReconnects.Inc()
		}

		// Stay connected through the bell: settlement ticks keep coming,
		// and the detector ends the session once the price stops moving.
		closeTime := markethours.TodayClose(time.Now())
		detector := closedetector.New(closeTime)
		wsCtx, wsCancel := context.WithDeadline(ctx, closeTime.Add(detector.MaxGrace))

		sessionTicks := make(chan model.Tick, 10000)
		go func() {
			for {
				select {
				case <-wsCtx.Done():
					return
				case t, ok := <-sessionTicks:
					if !ok {
						return
					}
					select {
					case tickCh <- t:
					default:
					}
					if detector.IsPostClose(time.Now()) && detector.Observe(t.Price, time.Now()) {
						log.Info("closing price settled, ending session", "price", detector.ClosingPrice())
						wsCancel()
						return
					}
				}
			}
		}()

		health.SetFeedConnected(true)
		log.Info("feed connected", "session_close", closeTime.In(markethours.IST).Format("15:04:05"))

		if err := ingest.Start(wsCtx, sessionTicks); err != nil && ctx.Err() == nil {
			log.Info("feed session ended", "err", err)
		}
		wsCancel()
		health.SetFeedConnected(false)
		prom.MarketState.Set(0)
		prom.SessionTransitions.WithLabelValues("close").Inc()
		log.Info("feed disconnected")

		if ctx.Err() != nil {
			return
		}
	}
}
