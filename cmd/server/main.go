package main

import (
	"promo-code-engine/internal/app/server"
	"promo-code-engine/internal/config"
)

func main() {
	cfg := config.Load()
	config.SetupLogging(cfg.Server.LogLevel)
	server.Run(cfg)
}
