package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/Hrhcoolshegs/openai-realtime-agent/internal/server"
)

func main() {
	configPath := flag.String("config", os.Getenv("BRIDGE_CONFIG"), "path to conf.yaml")
	flag.Parse()

	srv, err := server.New(*configPath)
	if err != nil {
		fallback, _ := zap.NewProduction()
		defer fallback.Sync()
		fallback.Fatal("failed to start bridge", zap.Error(err))
	}
	logger := srv.Logger()
	defer logger.Sync()

	go func() {
		if err := srv.Run(); err != nil {
			logger.Fatal("http server error", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("http server shutdown failed", zap.Error(err))
	}
}
