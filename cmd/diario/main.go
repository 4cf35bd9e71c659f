package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/pflag"

	"github.com/gmarchetti/diario/internal/config"
	"github.com/gmarchetti/diario/internal/reconcile"
	"github.com/gmarchetti/diario/internal/storage"
	"github.com/gmarchetti/diario/internal/studyplan"
	"github.com/gmarchetti/diario/internal/sync"
	"github.com/gmarchetti/diario/internal/watcher"
	"github.com/gmarchetti/diario/internal/web"
)

func main() {
	flags := pflag.NewFlagSet("diario", pflag.ExitOnError)
	flags.String("config", "", "Path to the YAML config file")
	flags.Int("port", 8458, "Port for the HTTP server")
	flags.String("db", "diario.db", "Path to the SQLite database file")
	flags.String("data-dir", "data", "Directory watched for export files")
	flags.StringSlice("sources", nil, "Extra export sources (directories or git URLs)")
	flags.Parse(os.Args[1:])

	cfg, err := config.Load(flags)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	db, err := storage.Open(cfg.DB)
	if err != nil {
		slog.Error("failed to open database", "path", cfg.DB, "error", err)
		os.Exit(1)
	}
	defer db.Close()
	slog.Info("database ready", "path", cfg.DB)

	gen := studyplan.NewGenerator()
	engine := reconcile.NewEngine(db, gen)

	sources := append([]string{cfg.DataDir}, cfg.Sources...)
	refresher := sync.NewRefresher(engine, sources, cfg.ReposDir)

	// Pick up exports that arrived while the process was down.
	refresher.Run()

	w, err := watcher.Start(cfg.DataDir, func() { refresher.Run() })
	if err != nil {
		slog.Error("failed to start watcher", "dir", cfg.DataDir, "error", err)
		os.Exit(1)
	}
	defer w.Close()

	server := web.NewServer(db, gen, refresher)
	addr := fmt.Sprintf(":%d", cfg.Port)
	slog.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, server); err != nil {
		slog.Error("server stopped", "error", err)
		os.Exit(1)
	}
}
