package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/quarkoj/quark"
	"github.com/quarkoj/quark/api"
	"github.com/quarkoj/quark/db"
	"github.com/quarkoj/quark/grader"
	"github.com/quarkoj/quark/internal/config"
	"github.com/quarkoj/quark/sudoapi"
	"github.com/urfave/cli/v2"
)

func main() {
	// Optional overrides (QUARK_DB_PATH, QUARK_LOG_DIR) for deployments.
	godotenv.Load()

	app := &cli.App{
		Name:    "quark",
		Usage:   "online judge service",
		Version: quark.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "config",
				Aliases:  []string{"c"},
				Usage:    "path to the configuration file",
				Required: true,
			},
			&cli.BoolFlag{
				Name:    "flush-data",
				Aliases: []string{"f"},
				Usage:   "remove the existing database before starting",
			},
			&cli.IntFlag{
				Name:    "threads",
				Aliases: []string{"t"},
				Usage:   "number of concurrent judge workers",
				Value:   2,
			},
			&cli.BoolFlag{
				Name:    "verbose",
				Aliases: []string{"v"},
				Usage:   "verbose logging",
			},
		},
		Action: serve,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func serve(c *cli.Context) error {
	quark.SetupLogging(c.Bool("verbose"), os.Getenv("QUARK_LOG_DIR"))

	conf, err := config.Load(c.String("config"))
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := db.Open(ctx, dbPath(), c.Bool("flush-data"))
	if err != nil {
		return err
	}
	defer store.Close()

	queue := grader.NewQueue()
	registry := grader.NewRegistry(store)

	requeue, err := registry.Rehydrate(ctx)
	if err != nil {
		return err
	}
	for _, id := range requeue {
		if err := queue.Push(id); err != nil {
			slog.WarnContext(ctx, "Couldn't re-enqueue job", slog.Int("job_id", id), slog.Any("err", err))
		}
	}

	pool := grader.New(registry, queue, conf, c.Int("threads"), slog.Default())
	if err := pool.Start(ctx); err != nil {
		return fmt.Errorf("couldn't start grader: %w", err)
	}

	base := sudoapi.New(store, registry, queue, conf)
	server := &http.Server{
		Addr:    conf.Server.Addr(),
		Handler: api.New(base).Handler(),
	}

	go func() {
		slog.Info("Server listening", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Server shutdown was not clean", slog.Any("err", err))
	}
	pool.Wait()
	return nil
}

func dbPath() string {
	if p := os.Getenv("QUARK_DB_PATH"); p != "" {
		return p
	}
	return "quark.sqlite3"
}
