package main

import (
	"context"
	"database/sql"
	"log"
	"net/http"
	"time"

	"go.uber.org/zap"

	"encounter-coach/internal/bilingual"
	"encounter-coach/internal/config"
	"encounter-coach/internal/db"
	"encounter-coach/internal/encounter"
	httpserver "encounter-coach/internal/http"
	"encounter-coach/internal/llm"
	"encounter-coach/internal/logger"
	"encounter-coach/internal/translate"

	_ "github.com/lib/pq"
)

func main() {
	cfg := config.Load()

	zlog := logger.New(cfg.LogFilePath, cfg.IsProduction())
	defer func() { _ = zlog.Sync() }()

	if cfg.DatabaseURL == "" {
		log.Fatal("DATABASE_URL must be set")
	}
	dbConn, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		zlog.Fatal("failed to open database", zap.Error(err))
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := dbConn.PingContext(ctx); err != nil {
		zlog.Fatal("failed to ping database", zap.Error(err))
	}
	if err := db.Migrate(context.Background(), dbConn); err != nil {
		zlog.Fatal("failed to run migrations", zap.Error(err))
	}

	repo := db.NewRepository(dbConn)
	notifier := db.NewNotifier(dbConn, cfg.NotifyChannel)

	collaborator := llm.NewClient(cfg.OpenAIAPIKey, cfg.OpenAIModel, zlog)
	translator := translate.NewClient(cfg.TranslateURL, cfg.TranslateAPIKey)
	formatter := bilingual.New(translator, zlog)
	orchestrator := encounter.NewOrchestrator(collaborator, formatter, zlog)

	srv := httpserver.NewServer(repo, orchestrator, collaborator, notifier, zlog)

	addr := ":" + cfg.Port
	zlog.Info("listening", zap.String("addr", addr))
	if err := http.ListenAndServe(addr, srv.Router()); err != nil {
		zlog.Fatal("server error", zap.Error(err))
	}
}
