package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path"
	"syscall"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/config"
	"github.com/eskrenkovic/meetup-sessions/internal/server"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 {
		rootPath := os.Args[1]
		if rootPath == "" {
			log.Fatal("root directory path is empty")
		}

		if err := godotenv.Load(path.Join(rootPath, "config.env")); err != nil {
			log.Fatal(err)
		}

		if os.Getenv("ROOT_PATH") == "" {
			if err := os.Setenv("ROOT_PATH", rootPath); err != nil {
				log.Fatal(err)
			}
		}
	}

	conf, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := conf.Logger
	defer func() {
		_ = logger.Sync()
	}()

	srv, err := server.NewHTTPServer(conf)
	if err != nil {
		logger.Fatal("failed to build server", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errs := make(chan error, 1)
	go func() {
		errs <- srv.Start()
	}()

	select {
	case err := <-errs:
		if err != nil {
			logger.Error("server stopped", zap.Error(err))
		}
	case <-ctx.Done():
		logger.Info("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		logger.Error("shutdown failed", zap.Error(err))
	}
}
