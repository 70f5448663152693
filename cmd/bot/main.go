package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/ivchenkov/meteobot/internal/app"
	"github.com/ivchenkov/meteobot/internal/config"
	"github.com/ivchenkov/meteobot/internal/logger"
)

func main() {
	// .env is optional; in production everything comes from the environment.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	a, err := app.New(cfg, log)
	if err != nil {
		log.Fatal("init app", zap.Error(err))
	}

	if err := a.Run(context.Background()); err != nil {
		log.Fatal("run app", zap.Error(err))
	}
}
