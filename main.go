package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/metal-toolbox/tracked-reader/cmd"
	"github.com/metal-toolbox/tracked-reader/internal/health"
)

func main() {
	err := mainWithErr()
	if err != nil {
		log.Fatalln("fatal:", err)
	}
}

func mainWithErr() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return cmd.Run(ctx, os.Args, health.NewHealth(), nil)
}
