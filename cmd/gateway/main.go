package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/aussiebroadwan/bpmgate/internal/gateway/app"
)

func main() {
	checkOnly := flag.Bool("check", false, "validate the environment configuration and exit")
	flag.Parse()

	cfg := app.LoadConfig()
	if *checkOnly {
		if err := cfg.Validate(); err != nil {
			fmt.Fprintf(os.Stderr, "configuration invalid:\n%v\n", err)
			os.Exit(1)
		}
		fmt.Printf("configuration ok (backend %s)\n", cfg.Backend)
		return
	}

	gateway, err := app.New(cfg)
	if err != nil {
		log.Fatalf("failed to initialize gateway: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := gateway.Run(ctx); err != nil {
		log.Fatalf("gateway error: %v", err)
	}
}
