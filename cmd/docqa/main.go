package main

import (
	"log"
	"strconv"

	"github.com/beego/beego/v2/server/web"
	"go.uber.org/zap"

	"github.com/aihub/docqa-go/app/bootstrap"
	"github.com/aihub/docqa-go/app/router"
	"github.com/aihub/docqa-go/internal/logger"
)

func main() {
	app, err := bootstrap.Init()
	if err != nil {
		log.Fatalf("failed to bootstrap application: %v", err)
	}
	defer app.Shutdown()

	router.Init(app.Routes)

	web.BConfig.AppName = "DocQA Service"
	web.BConfig.CopyRequestBody = true
	if port, err := strconv.Atoi(app.Config.Server.Port); err == nil {
		web.BConfig.Listen.HTTPPort = port
	} else {
		logger.Warn("Invalid server port, using default", zap.String("port", app.Config.Server.Port))
		web.BConfig.Listen.HTTPPort = 8001
	}

	logger.Info("Starting DocQA Service", zap.Int("port", web.BConfig.Listen.HTTPPort))
	web.Run()
}
