package main

import (
	"flag"
	"os"

	"github.com/NordCoder/Leadbook/internal/obs"
	"github.com/NordCoder/Leadbook/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"go.uber.org/zap"
)

func main() {
	cmd := flag.String("cmd", "up", "goose command: up, down, status, redo")
	flag.Parse()

	logger, err := obs.NewLogger(obs.LogConfig{Level: "info", App: "leadbook/migrator"})
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	dsn := os.Getenv("DB_DSN")
	if dsn == "" {
		logger.Fatal("DB_DSN is empty")
	}

	goose.SetBaseFS(migrations.FS)
	if err := goose.SetDialect("postgres"); err != nil {
		logger.Fatal("set dialect", zap.Error(err))
	}
	db, err := goose.OpenDBWithDriver("pgx", dsn)
	if err != nil {
		logger.Fatal("open db", zap.Error(err))
	}
	defer db.Close()

	if err := goose.Run(*cmd, db, "."); err != nil {
		logger.Fatal("migrate", zap.String("cmd", *cmd), zap.Error(err))
	}
	logger.Info("migrations done", zap.String("cmd", *cmd))
}
