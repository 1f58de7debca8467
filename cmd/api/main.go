package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/aws/aws-lambda-go/lambda"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/app"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/config"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
)

func main() {
	cfg, err := config.Load(config.New(os.Getenv("COLLAB_CONFIG")))
	if err != nil {
		slog.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}
	log := logger.SetupDefault(os.Stderr, cfg.Log.Level, cfg.Log.Format)

	application, err := app.New(context.Background(), cfg, log)
	if err != nil {
		log.Error("startup failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	lambda.Start(application.HandleRequest)
}
