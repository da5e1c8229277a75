package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"agentcity.ai/internal/analytics"
	"agentcity.ai/internal/engine"
	"agentcity.ai/internal/handlers"
	"agentcity.ai/internal/ledger"
	"agentcity.ai/internal/queue"
	"agentcity.ai/internal/store"
	"agentcity.ai/internal/tuning"
)

func main() {
	var (
		dbPath       = flag.String("db", "./data/city.db", "sqlite database path")
		tuningPath   = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed         = flag.Int64("seed", 1337, "world seed")
		startTick    = flag.Uint64("start_tick", 0, "tick to resume from")
		tickMs       = flag.Int("tick_ms", 0, "tick interval override in ms (0 = tuning value)")
		mode         = flag.String("mode", engine.SettlementQueued, "settlement mode for fund-moving intents (inline|queued)")
		ledgerWSURL  = flag.String("ledger_ws", "", "ledger JSON-RPC websocket url (empty = offline sim ledger)")
		analyticsDir = flag.String("analytics", "", "intent outcome log directory (empty to disable)")
		embedWorker  = flag.Bool("worker", true, "run an embedded settlement worker")
		addr         = flag.String("addr", "", "health http listen address (empty to disable)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[engine] ", log.LstdFlags|log.Lmicroseconds)

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Printf("tuning not found (%s); using defaults", *tuningPath)
			tune = tuning.Defaults()
		} else {
			logger.Fatalf("load tuning: %v", err)
		}
	}

	st, err := store.Open(*dbPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var lc ledger.Client
	if url := strings.TrimSpace(*ledgerWSURL); url != "" {
		wsc := ledger.NewWSClient(url)
		defer wsc.Close()
		lc = wsc
		logger.Printf("ledger: ws %s", url)
	} else {
		lc = ledger.NewSim()
		logger.Printf("ledger: offline sim")
	}

	var sink engine.Sink
	if *analyticsDir != "" {
		js := analytics.NewJSONLSink(*analyticsDir)
		defer js.Close()
		sink = js
	}

	deps := &engine.Deps{
		Store:     st,
		Ledger:    lc,
		Analytics: sink,
		Tune:      tune,
		Mode:      *mode,
		Log:       logger,
	}
	d := engine.NewDispatcher(deps, handlers.Registry(), *seed)

	ctx, cancel := signalContext()
	defer cancel()

	if *embedWorker {
		w := queue.NewWorker("engine-embedded", st, lc, tune,
			log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmicroseconds))
		go func() {
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				logger.Printf("worker stopped: %v", err)
			}
		}()
	}

	if *addr != "" {
		mux := http.NewServeMux()
		mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
			rw.WriteHeader(200)
			_, _ = rw.Write([]byte("ok"))
		})
		srv := &http.Server{Addr: *addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			<-ctx.Done()
			ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel2()
			_ = srv.Shutdown(ctx2)
		}()
		go func() {
			logger.Printf("listening on %s", *addr)
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Fatalf("ListenAndServe: %v", err)
			}
		}()
	}

	interval := time.Duration(tune.TickIntervalMs) * time.Millisecond
	if *tickMs > 0 {
		interval = time.Duration(*tickMs) * time.Millisecond
	}
	if interval <= 0 {
		interval = time.Second
	}

	logger.Printf("tick loop: seed=%d start_tick=%d interval=%s mode=%s", *seed, *startTick, interval, *mode)
	if err := d.Run(ctx, interval, *startTick); err != nil && err != context.Canceled {
		logger.Fatalf("tick loop: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
