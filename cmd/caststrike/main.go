package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/caststrike-trading/caststrike/internal/buyer"
	"github.com/caststrike-trading/caststrike/internal/config"
	"github.com/caststrike-trading/caststrike/internal/detector"
	"github.com/caststrike-trading/caststrike/internal/evm"
	"github.com/caststrike-trading/caststrike/internal/feed"
	"github.com/caststrike-trading/caststrike/internal/sniper"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
)

func main() {
	// 1. Parse flags.
	configPath := flag.String("config", "config/config.yaml", "Path to configuration file")
	stubMode := flag.Bool("stub", false, "Use stub chain + feed clients (no real network)")
	flag.Parse()

	// 2. Load configuration.
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: failed to load config from %s: %v\n", *configPath, err)
		os.Exit(1)
	}

	// 3. Setup logging.
	setupLogging(cfg.General)

	log.Info().Msg("=============================================")
	log.Info().Msg("CastStrike Token Sniper - Starting")
	log.Info().Msg("WATCH -> DETECT -> VALIDATE -> BUY")
	log.Info().Msg("=============================================")

	log.Info().
		Str("instance_id", cfg.General.InstanceID).
		Bool("stub_mode", *stubMode).
		Int("check_interval_s", cfg.Sniper.CheckIntervalS).
		Float64("default_buy_eth", cfg.Sniper.DefaultBuyAmountEth).
		Float64("max_slippage_pct", cfg.Sniper.MaxSlippagePct).
		Int("watched_wallets", len(cfg.Wallets.Wallets)).
		Msg("Configuration loaded")

	if !*stubMode {
		if err := cfg.Validate(); err != nil {
			log.Fatal().Err(err).Msg("Configuration validation failed")
		}
	}

	// 4. Create chain client.
	var rpc evm.Client
	if *stubMode {
		rpc = evm.NewStubClient()
		log.Info().Msg("Chain RPC: STUB mode")
	} else {
		liveRPC := evm.NewLiveClient(evm.Config{
			Endpoint:       cfg.Chain.Endpoint,
			WSEndpoint:     cfg.Chain.WSEndpoint,
			Timeout:        time.Duration(cfg.Chain.TimeoutS) * time.Second,
			MaxRetries:     cfg.Chain.MaxRetries,
			RateLimitRPS:   cfg.Chain.RateLimitRPS,
			ReceiptTimeout: time.Duration(cfg.Chain.ReceiptWaitS) * time.Second,
			ReceiptPoll:    time.Duration(cfg.Chain.ReceiptPollS) * time.Second,
		})
		rpc = liveRPC
		defer liveRPC.Close()

		healthCtx, healthCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := rpc.Health(healthCtx); err != nil {
			log.Warn().Err(err).Str("endpoint", cfg.Chain.Endpoint).
				Msg("Chain RPC health check failed (continuing, may be rate-limited)")
		} else {
			log.Info().Str("endpoint", cfg.Chain.Endpoint).Msg("Chain RPC: LIVE - connected")
		}
		healthCancel()
	}

	// 5. Create feed client.
	var feedClient feed.Client
	if *stubMode {
		feedClient = feed.NewStubClient()
		log.Info().Msg("Feed API: STUB mode")
	} else {
		httpFeed := feed.NewHTTPClient(cfg.Feed.APIKey)
		if cfg.Feed.BaseURL != "" {
			httpFeed.SetBaseURL(cfg.Feed.BaseURL)
		}
		feedClient = httpFeed
	}

	// 6. Create buy engine and scheduler.
	wallet, err := evm.NormalizeAddress(cfg.Chain.WalletAddress)
	if err != nil && !*stubMode {
		log.Fatal().Err(err).Str("address", cfg.Chain.WalletAddress).Msg("Invalid wallet address")
	}

	buyEngine := buyer.NewEngine(buyer.Config{
		GasLimit:            cfg.Buyer.GasLimit,
		PrimaryTargetEth:    decimal.NewFromFloat(cfg.Buyer.PrimaryTargetEth),
		SecondaryTargetUSDC: decimal.NewFromFloat(cfg.Buyer.SecondaryTargetUSDC),
	}, rpc, wallet)

	engine := sniper.NewEngine(sniper.Config{
		CheckIntervalS:      cfg.Sniper.CheckIntervalS,
		DefaultBuyAmountEth: decimal.NewFromFloat(cfg.Sniper.DefaultBuyAmountEth),
		MaxSlippagePct:      decimal.NewFromFloat(cfg.Sniper.MaxSlippagePct),
	}, feedClient, rpc, buyEngine)

	// 7. Setup context.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Warn().Str("signal", sig.String()).Msg("Shutdown signal received")
		cancel()
	}()

	// 8. Pre-add auto-monitor identities.
	for _, entry := range cfg.AutoMon {
		var slip *decimal.Decimal
		if entry.SlippagePct > 0 {
			s := decimal.NewFromFloat(entry.SlippagePct)
			slip = &s
		}
		addCtx, addCancel := context.WithTimeout(ctx, 15*time.Second)
		_, err := engine.AddIdentity(addCtx, entry.Identity, decimal.NewFromFloat(entry.BuyAmountEth), slip)
		addCancel()
		if err != nil {
			log.Warn().Err(err).Str("identity", entry.Identity).
				Msg("Auto-monitor identity could not be added, skipping")
		}
	}

	// 9. Start services.
	var wg sync.WaitGroup

	// Contract-creation detector.
	var creation *detector.CreationDetector
	if len(cfg.Wallets.Wallets) > 0 {
		watched := make([]detector.WatchedWallet, 0, len(cfg.Wallets.Wallets))
		for _, w := range cfg.Wallets.Wallets {
			watched = append(watched, detector.WatchedWallet{
				Address:      evm.Address(w.Address),
				BuyAmountEth: decimal.NewFromFloat(w.BuyAmountEth),
				SlippagePct:  decimal.NewFromFloat(w.SlippagePct),
				Description:  w.Description,
			})
		}

		var heads *evm.HeadSource
		if cfg.Chain.WSEndpoint != "" && !*stubMode {
			heads = evm.NewHeadSource(evm.HeadSourceConfig{
				WSEndpoint:    cfg.Chain.WSEndpoint,
				PollIntervalS: cfg.Wallets.ScanIntervalS,
			}, rpc)
		}

		creation = detector.NewCreationDetector(detector.CreationConfig{
			BlockWindow:   cfg.Wallets.BlockWindow,
			ScanIntervalS: cfg.Wallets.ScanIntervalS,
		}, rpc, heads, watched, engine.HandleWalletCandidate)

		wg.Add(1)
		go func() {
			defer wg.Done()
			creation.Run(ctx)
		}()
	}

	// Identity scan scheduler.
	if cfg.Sniper.AutoStart {
		engine.Start(ctx)
	}

	// 10. Control-plane HTTP server.
	wg.Add(1)
	go func() {
		defer wg.Done()
		runControlPlane(ctx, cfg, engine, buyEngine, creation)
	}()

	log.Info().Msg("CastStrike Token Sniper - Running")

	// 11. Block until shutdown.
	<-ctx.Done()

	log.Info().Msg("Shutting down...")
	engine.Stop()
	wg.Wait()

	stats := engine.EngineStats()
	log.Info().
		Int64("cycles_run", stats.CyclesRun).
		Int64("candidates_seen", stats.CandidatesSeen).
		Int64("duplicates", stats.Duplicates).
		Int64("purchases_tried", stats.PurchasesTried).
		Int64("purchases_won", stats.PurchasesWon).
		Msg("CastStrike Token Sniper - Final Statistics")

	log.Info().Msg("CastStrike Token Sniper - Shutdown complete")
}

// runControlPlane serves the health/status/watchlist/control HTTP API until
// ctx is cancelled. Thin request plumbing only; all logic lives in the
// engine.
func runControlPlane(ctx context.Context, cfg *config.Config, engine *sniper.Engine, buys *buyer.Engine, creation *detector.CreationDetector) {
	mux := http.NewServeMux()

	writeJSON := func(w http.ResponseWriter, status int, v any) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(v)
	}

	// ── Health ──
	mux.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":     "ok",
			"monitoring": engine.Running(),
		})
	})

	// ── Status ──
	mux.HandleFunc("/status", func(w http.ResponseWriter, _ *http.Request) {
		status := map[string]any{
			"instance_id": cfg.General.InstanceID,
			"monitoring":  engine.Running(),
			"engine":      engine.EngineStats(),
			"buyer":       buys.Stats(),
			"results":     engine.RecentResults(),
		}
		if creation != nil {
			status["creation"] = creation.Stats()
		}
		writeJSON(w, http.StatusOK, status)
	})

	// ── Watchlist ──
	mux.HandleFunc("/watchlist", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			writeJSON(w, http.StatusOK, engine.ListWatched())

		case http.MethodPost:
			var req struct {
				Identity     string  `json:"identity"`
				BuyAmountEth float64 `json:"buy_amount_eth"`
				SlippagePct  float64 `json:"slippage_pct"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Identity == "" {
				http.Error(w, "identity is required", http.StatusBadRequest)
				return
			}
			var slip *decimal.Decimal
			if req.SlippagePct > 0 {
				s := decimal.NewFromFloat(req.SlippagePct)
				slip = &s
			}
			identity, err := engine.AddIdentity(r.Context(), req.Identity, decimal.NewFromFloat(req.BuyAmountEth), slip)
			if err != nil {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusCreated, identity)

		case http.MethodDelete:
			fid, err := strconv.ParseUint(r.URL.Query().Get("fid"), 10, 64)
			if err != nil {
				http.Error(w, "fid query parameter is required", http.StatusBadRequest)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"removed": engine.RemoveIdentity(fid)})

		case http.MethodPatch:
			var req struct {
				FID          uint64   `json:"fid"`
				BuyAmountEth *float64 `json:"buy_amount_eth,omitempty"`
				Enabled      *bool    `json:"enabled,omitempty"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.FID == 0 {
				http.Error(w, "fid is required", http.StatusBadRequest)
				return
			}
			updated := false
			if req.BuyAmountEth != nil {
				updated = engine.UpdateBuyAmount(req.FID, decimal.NewFromFloat(*req.BuyAmountEth)) || updated
			}
			if req.Enabled != nil {
				updated = engine.SetEnabled(req.FID, *req.Enabled) || updated
			}
			if !updated {
				http.Error(w, "no such identity", http.StatusNotFound)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{"updated": true})

		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
	})

	// ── Manual cycle trigger ──
	mux.HandleFunc("/check", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		go engine.RunCycle(ctx)
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "cycle_triggered"})
	})

	// ── Monitoring control ──
	mux.HandleFunc("/monitoring/start", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		engine.Start(ctx)
		writeJSON(w, http.StatusOK, map[string]any{"monitoring": true})
	})
	mux.HandleFunc("/monitoring/stop", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "POST only", http.StatusMethodNotAllowed)
			return
		}
		engine.Stop()
		writeJSON(w, http.StatusOK, map[string]any{"monitoring": false})
	})

	// ── Funding status ──
	mux.HandleFunc("/funding", func(w http.ResponseWriter, r *http.Request) {
		decision, err := buys.CheckFunding(r.Context(), decimal.Zero)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		resp := map[string]any{
			"proceed":  decision.Proceed,
			"degraded": decision.Degraded,
		}
		if decision.AmountWei != nil {
			resp["amount_wei"] = decision.AmountWei.String()
		}
		writeJSON(w, http.StatusOK, resp)
	})

	server := &http.Server{
		Addr:              cfg.General.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Info().Str("addr", cfg.General.ListenAddr).Msg("Control-plane HTTP server started")

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error().Err(err).Msg("HTTP server error")
	}
}

func setupLogging(general config.General) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnixMicro
	level, err := zerolog.ParseLevel(general.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if general.LogFormat == "text" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).
			With().Timestamp().Str("service", "caststrike").
			Str("instance", general.InstanceID).Logger()
	} else {
		log.Logger = zerolog.New(os.Stdout).
			With().Timestamp().Str("service", "caststrike").
			Str("instance", general.InstanceID).Logger()
	}
}
