package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"serviceelectro.org/internal/migrate"
	"serviceelectro.org/internal/store/pg"
)

func main() {
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	var (
		dsn     = flag.String("dsn", os.Getenv("ELECTRO_PG_DSN"), "PostgreSQL DSN")
		table   = flag.String("table", "", "Migration version table (default goose_db_version)")
		timeout = flag.Duration("timeout", 30*time.Second, "Overall timeout")
	)
	flag.Parse()

	if *dsn == "" {
		logger.Fatal().Msg("missing DSN: provide via -dsn or ELECTRO_PG_DSN")
	}
	if len(flag.Args()) == 0 {
		logger.Fatal().Msg("usage: migrate [up|down|status|files]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	store, err := pg.Open(*dsn)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db")
	}
	defer store.Close()

	mgr := migrate.NewManager(store.DB(), migrate.WithMigrationsTable(*table), migrate.WithLogger(logger))

	var lines []string
	switch flag.Arg(0) {
	case "up":
		err = mgr.Up(ctx)
	case "down":
		err = mgr.Down(ctx)
	case "status":
		lines, err = mgr.Status(ctx)
	case "files":
		lines, err = migrate.Files()
	default:
		logger.Fatal().Str("command", flag.Arg(0)).Msg("unknown command")
	}
	if err != nil {
		logger.Fatal().Err(err).Str("command", flag.Arg(0)).Msg("migrate failed")
	}
	for _, line := range lines {
		fmt.Println(line)
	}
}
