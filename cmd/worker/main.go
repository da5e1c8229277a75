package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"

	"github.com/caarlos0/env/v11"

	"agentcity.ai/internal/ledger"
	"agentcity.ai/internal/queue"
	"agentcity.ai/internal/store"
	"agentcity.ai/internal/tuning"
)

// config is read from the environment so the worker deploys without a
// config file next to it.
type config struct {
	DBPath      string `env:"AC_DB_PATH" envDefault:"./data/city.db"`
	TuningPath  string `env:"AC_TUNING" envDefault:""`
	LedgerWSURL string `env:"AC_LEDGER_WS_URL" envDefault:""`
	Workers     int    `env:"AC_WORKERS" envDefault:"2"`
	QueuePollMs int    `env:"AC_QUEUE_POLL_MS" envDefault:"0"`
}

func main() {
	logger := log.New(os.Stdout, "[worker] ", log.LstdFlags|log.Lmicroseconds)

	var cfg config
	if err := env.Parse(&cfg); err != nil {
		logger.Fatalf("parse env: %v", err)
	}
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}

	tune := tuning.Defaults()
	if cfg.TuningPath != "" {
		var err error
		if tune, err = tuning.Load(cfg.TuningPath); err != nil {
			logger.Fatalf("load tuning: %v", err)
		}
	}
	if cfg.QueuePollMs > 0 {
		tune.QueuePollMs = cfg.QueuePollMs
	}

	st, err := store.Open(cfg.DBPath)
	if err != nil {
		logger.Fatalf("open store: %v", err)
	}
	defer st.Close()

	var lc ledger.Client
	if url := strings.TrimSpace(cfg.LedgerWSURL); url != "" {
		wsc := ledger.NewWSClient(url)
		defer wsc.Close()
		lc = wsc
		logger.Printf("ledger: ws %s", url)
	} else {
		lc = ledger.NewSim()
		logger.Printf("ledger: offline sim")
	}

	ctx, cancel := signalContext()
	defer cancel()

	host, _ := os.Hostname()
	if host == "" {
		host = "worker"
	}

	var wg sync.WaitGroup
	for i := 0; i < cfg.Workers; i++ {
		id := fmt.Sprintf("%s-%d", host, i)
		w := queue.NewWorker(id, st, lc, tune, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := w.Run(ctx); err != nil && err != context.Canceled {
				logger.Printf("worker %s stopped: %v", id, err)
			}
		}()
	}
	logger.Printf("running %d workers against %s", cfg.Workers, cfg.DBPath)
	wg.Wait()
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
