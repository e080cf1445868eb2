package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"mmbot/internal/config"
	"mmbot/internal/state"
	"mmbot/internal/state/sqlite"
)

// status prints journaled cycles. It only reads the journal; the bot itself
// never does.
func main() {
	configPath := flag.String("config", "", "config file to take state.sqlite_path from")
	dbPath := flag.String("db", "", "sqlite journal path (overrides -config)")
	limit := flag.Int("n", 1, "number of recent cycles to print")
	flag.Parse()

	path := *dbPath
	if path == "" && *configPath != "" {
		if err := config.LoadEnv(".env"); err != nil {
			fatal(err)
		}
		cfg, err := config.Load(*configPath)
		if err != nil {
			fatal(err)
		}
		path = cfg.State.SQLitePath
	}
	if path == "" {
		fatal(errors.New("either -db or -config with state.sqlite_path is required"))
	}
	if _, err := os.Stat(path); err != nil {
		fatal(err)
	}
	store, err := sqlite.New(path)
	if err != nil {
		fatal(err)
	}
	defer store.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var out any
	if *limit <= 1 {
		record, ok, err := state.LoadLastCycle(ctx, store)
		if err != nil {
			fatal(err)
		}
		if !ok {
			fatal(errors.New("no cycles journaled yet"))
		}
		out = record
	} else {
		records, err := state.LoadRecentCycles(ctx, store, *limit)
		if err != nil {
			fatal(err)
		}
		out = records
	}
	pretty, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		fatal(err)
	}
	fmt.Println(string(pretty))
}

func fatal(err error) {
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
