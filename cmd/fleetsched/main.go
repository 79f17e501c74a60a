package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"fleetsched/internal/app"
	"fleetsched/internal/simengine"
	logx "fleetsched/pkg/logx"
)

func main() {
	var (
		cfgPath  string
		simLat   time.Duration
		simFail  float64
		logLevel string
	)
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config yaml/json")
	flag.DurationVar(&simLat, "sim-latency", 200*time.Millisecond, "simulated per-batch latency (loopback engine)")
	flag.Float64Var(&simFail, "sim-fail-rate", 0, "simulated failure fraction 0..1 (loopback engine)")
	flag.StringVar(&logLevel, "boot-log-level", "info", "log level before config takes over")
	flag.Parse()

	// Optional .env for local development; missing file is fine.
	_ = godotenv.Load()
	if v := os.Getenv("FLEETSCHED_CONFIG"); v != "" && cfgPath == "./config.yaml" {
		cfgPath = v
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	bootLog := logx.NewConsole(logLevel)

	// Until a device-farm engine is attached over RPC, the daemon runs
	// against the loopback engine.
	engine := simengine.New(simLat, simFail, bootLog.With(logx.String("comp", "simengine")))

	a, err := app.New(cfgPath, engine)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		os.Exit(1)
	}

	<-ctx.Done()

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer stopCancel()
	_ = a.Stop(stopCtx)
}
