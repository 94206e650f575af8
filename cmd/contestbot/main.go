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

	"contestbot/internal/app"
)

func main() {
	var (
		cfgPath string
		envPath string
		once    bool
	)
	flag.StringVar(&cfgPath, "config", "./config.json", "path to config (json or yaml)")
	flag.StringVar(&envPath, "env", ".env", "optional dotenv file with secrets")
	flag.BoolVar(&once, "once", false, "run one digest pass, wait for its reminders, then exit")
	flag.Parse()

	// a missing .env is fine; real environment variables win
	_ = godotenv.Load(envPath)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}

	stop := func(reason app.StopReason) {
		stopCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = a.Stop(stopCtx, reason)
	}

	if once {
		err := a.RunOnce(ctx)
		stop(app.StopOnceDone)
		if err != nil {
			fmt.Fprintln(os.Stderr, "run failed:", err)
			os.Exit(1)
		}
		return
	}

	if err := a.Start(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "fatal start:", err)
		stop(app.StopFatalError)
		os.Exit(1)
	}

	select {
	case <-ctx.Done():
		stop(app.StopSignal)
	case <-a.Done():
		if ctx.Err() != nil {
			stop(app.StopSignal)
			return
		}
		stop(app.StopFatalError)
		if err := a.Err(); err != nil {
			fmt.Fprintln(os.Stderr, "fatal:", err)
			os.Exit(1)
		}
	}
}
