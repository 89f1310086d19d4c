// cmd/backtest replays historical candles from SQLite through the
// indicator engine and the MA crossover strategies, fills signals with
// the paper executor and prints a P&L summary.
//
// Usage:
//
//	go run ./cmd/backtest --db=data/candles.db --tf=60,300 --strategies=strategies.yaml
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"ta-enginev1/internal/execution"
	"ta-enginev1/internal/indicator"
	"ta-enginev1/internal/marketdata/replay"
	"ta-enginev1/internal/model"
	"ta-enginev1/internal/portfolio"
	sqlitestore "ta-enginev1/internal/store/sqlite"
	"ta-enginev1/internal/strategy"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)

	speed := flag.Float64("speed", 0, "Playback speed multiplier (0=max, 1=realtime, 100=100x)")
	tfStr := flag.String("tf", "60,300", "Comma-separated TFs to replay")
	fromTS := flag.Int64("from", 0, "Unix timestamp to start replay from (0=all)")
	dbPath := flag.String("db", "data/candles.db", "Path to SQLite database")
	indicatorCfg := flag.String("indicators", "", "Indicator specs: TYPE:PERIOD,... (default: SMA:20,SMA:50,EMA:9,EMA:21,RSI:14)")
	strategiesPath := flag.String("strategies", "", "YAML strategy file (empty: single SMA 9/21 crossover)")
	strategyTF := flag.Int("strategy-tf", 60, "TF (seconds) that feeds the strategies")
	slippageBps := flag.Int64("slippage-bps", 5, "Paper fill slippage in basis points")
	journalPath := flag.String("journal", "", "SQLite trade journal path (empty: no journal)")
	flag.Parse()

	tfs := parseTFs(*tfStr)
	if len(tfs) == 0 {
		log.Fatal("[backtest] no valid TFs specified")
	}

	reader, err := sqlitestore.NewReader(*dbPath)
	if err != nil {
		log.Fatalf("[backtest] sqlite open failed: %v", err)
	}
	defer reader.Close()

	// Indicator engine over every replayed TF.
	indSpecs := parseIndicatorSpecs(*indicatorCfg)
	var tfSpecs []indicator.TFSpec
	for _, tf := range tfs {
		tfSpecs = append(tfSpecs, indicator.TFSpec{TF: tf, Specs: indSpecs})
	}
	restorer := indicator.NewRestorer(tfSpecs)
	engine, err := restorer.RestoreFromSnap(nil) // cold start
	if err != nil {
		log.Fatalf("[backtest] engine init failed: %v", err)
	}

	strategies, err := loadStrategies(*strategiesPath)
	if err != nil {
		log.Fatalf("[backtest] strategy init failed: %v", err)
	}

	var journal *execution.Journal
	if *journalPath != "" {
		journal, err = execution.NewJournal(*journalPath)
		if err != nil {
			log.Fatalf("[backtest] journal init failed: %v", err)
		}
		defer journal.Close()
	}

	paper := execution.NewPaperExecutor(1024, *slippageBps, journal)
	pf := portfolio.New()
	tracker := portfolio.NewPnLTracker()
	riskman := portfolio.NewRiskManager(portfolio.DefaultRiskLimits(), pf, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	replayer := replay.New(reader)
	candleCh := make(chan model.TFCandle, 10000)
	go func() {
		if err := replayer.Run(ctx, tfs, *fromTS, *speed, candleCh); err != nil {
			log.Printf("[backtest] replay error: %v", err)
		}
		close(candleCh)
	}()

	var (
		processed    int
		readyPoints  int
		signals      int
		blocked      int
		lastPrices   = map[string]int64{}
		resultCounts = map[string]int{}
	)

	for candle := range candleCh {
		points := engine.Process(candle)
		processed++
		for _, p := range points {
			if p.Ready {
				readyPoints++
			}
		}

		if candle.TF != *strategyTF || candle.Forming {
			continue
		}

		mc := model.Candle{
			Token:      candle.Token,
			Exchange:   candle.Exchange,
			TS:         candle.TS,
			Open:       candle.Open,
			High:       candle.High,
			Low:        candle.Low,
			Close:      candle.Close,
			Volume:     candle.Volume,
			TicksCount: candle.Count,
		}
		paper.Mark(mc.Exchange, mc.Token, mc.Close)
		pf.UpdatePrice(mc)
		lastPrices[mc.Exchange+":"+mc.Token] = mc.Close

		for _, s := range strategies {
			sig := s.OnCandle(mc)
			if sig == nil {
				continue
			}
			signals++
			if allowed, reason := riskman.CanTrade(sig.Token, sig.Exchange, sig.Qty); !allowed {
				blocked++
				log.Printf("[backtest] %s blocked: %s", sig.StrategyName, reason)
				continue
			}
			paper.Execute(*sig)
			drainResults(paper, pf, tracker, riskman, resultCounts)
		}
	}
	drainResults(paper, pf, tracker, riskman, resultCounts)

	summary := tracker.Summary(lastPrices)
	fmt.Println()
	fmt.Println("=== backtest complete ===")
	fmt.Printf("candles processed:   %d\n", processed)
	fmt.Printf("indicator points:    %d\n", readyPoints)
	fmt.Printf("signals emitted:     %d (blocked by risk: %d)\n", signals, blocked)
	fmt.Printf("orders filled:       %d, rejected: %d\n", resultCounts["FILLED"], resultCounts["REJECTED"])
	fmt.Printf("realized P&L:        ₹%.2f\n", float64(summary.RealizedPnL)/100.0)
	fmt.Printf("unrealized P&L:      ₹%.2f\n", float64(summary.UnrealizedPnL)/100.0)
	fmt.Printf("total P&L:           ₹%.2f\n", float64(summary.TotalPnL)/100.0)
	fmt.Printf("trades:              %d, open positions: %d\n", summary.TotalTrades, summary.OpenPositions)
	for _, pos := range pf.Snapshot() {
		fmt.Printf("  open %s:%s qty=%d avg=₹%.2f last=₹%.2f pnl=₹%.2f\n",
			pos.Exchange, pos.Token, pos.Qty,
			float64(pos.AvgPrice)/100.0, float64(pos.LastPrice)/100.0,
			float64(pos.UnrealizedPnL())/100.0)
	}
}

// drainResults applies every pending fill to the position book and the
// PnL tracker.
func drainResults(paper *execution.PaperExecutor, pf *portfolio.Portfolio, tracker *portfolio.PnLTracker, riskman *portfolio.RiskManager, counts map[string]int) {
	for {
		select {
		case res := <-paper.Results():
			counts[res.Status]++
			if res.Status != "FILLED" {
				log.Printf("[backtest] order %s %s: %s", res.OrderID, res.Status, res.Message)
				continue
			}
			price := fillPrice(paper, res.OrderID)
			buy := res.Signal.Action == strategy.ActionBuy
			pf.Apply(res.Signal.Exchange, res.Signal.Token, buy, res.Signal.Qty, price)
			realized := tracker.RecordTrade(portfolio.Trade{
				Token:    res.Signal.Token,
				Exchange: res.Signal.Exchange,
				Action:   string(res.Signal.Action),
				Qty:      res.Signal.Qty,
				Price:    price,
			})
			if realized != 0 {
				riskman.RecordPnL(realized)
			}
		default:
			return
		}
	}
}

// fillPrice looks up the recorded fill for an order.
func fillPrice(paper *execution.PaperExecutor, orderID string) int64 {
	fills := paper.Fills()
	for i := len(fills) - 1; i >= 0; i-- {
		if fills[i].OrderID == orderID {
			return fills[i].FillPrice
		}
	}
	return 0
}

// loadStrategies builds the strategy set from a YAML file, or a single
// default SMA 9/21 crossover when no file is given.
func loadStrategies(path string) ([]*strategy.MACrossover, error) {
	if path == "" {
		def, err := strategy.NewMACrossover(strategy.MACrossoverOpts{
			Name:       "sma_9_21",
			MAType:     indicator.Simple,
			FastPeriod: 9,
			SlowPeriod: 21,
			Qty:        1,
		})
		if err != nil {
			return nil, err
		}
		return []*strategy.MACrossover{def}, nil
	}
	file, err := strategy.LoadFile(path)
	if err != nil {
		return nil, err
	}
	return file.Build()
}

func parseTFs(s string) []int {
	var tfs []int
	for _, p := range strings.Split(s, ",") {
		p = strings.TrimSpace(p)
		if n, err := strconv.Atoi(p); err == nil && n > 0 {
			tfs = append(tfs, n)
		}
	}
	return tfs
}

func parseIndicatorSpecs(s string) []indicator.MASpec {
	if s == "" {
		return []indicator.MASpec{
			{Type: "SMA", Period: 20},
			{Type: "SMA", Period: 50},
			{Type: "EMA", Period: 9},
			{Type: "EMA", Period: 21},
			{Type: "RSI", Period: 14},
		}
	}
	var specs []indicator.MASpec
	for _, part := range strings.Split(s, ",") {
		fields := strings.SplitN(strings.TrimSpace(part), ":", 2)
		if len(fields) != 2 {
			continue
		}
		period, err := strconv.Atoi(strings.TrimSpace(fields[1]))
		if err != nil || period <= 0 {
			continue
		}
		specs = append(specs, indicator.MASpec{
			Type:   strings.ToUpper(strings.TrimSpace(fields[0])),
			Period: period,
		})
	}
	return specs
}
