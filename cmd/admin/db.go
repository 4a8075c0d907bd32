package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/persistence/indexdb"
)

func dbCmd(args []string) {
	fs := flag.NewFlagSet("db", flag.ExitOnError)
	dbPath := fs.String("db", "./data/index.sqlite", "session index path")
	session := fs.String("session", "", "session id (delays, resyncs, session)")
	limit := fs.Int("limit", 20, "result limit (sessions)")
	_ = fs.Parse(args)

	q := "sessions"
	if fs.NArg() > 0 {
		q = strings.TrimSpace(fs.Arg(0))
	}
	if q != "sessions" && q != "active" && strings.TrimSpace(*session) == "" {
		fmt.Fprintln(os.Stderr, "missing -session")
		os.Exit(2)
	}
	if _, err := os.Stat(*dbPath); err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	idx, err := indexdb.OpenSQLite(*dbPath, logger)
	if err != nil {
		fmt.Fprintln(os.Stderr, "open:", err)
		os.Exit(1)
	}
	defer idx.Close()

	ctx := context.Background()
	switch q {
	case "sessions":
		rows, err := idx.RecentSessions(ctx, *limit)
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}

	case "active":
		n, err := idx.ActiveSessions(ctx)
		exitOn("query", err)
		printJSON(map[string]int{"active_sessions": n})

	case "session":
		r, err := idx.Session(ctx, *session)
		exitOn("query", err)
		printJSON(r)

	case "delays":
		rows, err := idx.DelayUpdates(ctx, *session)
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}

	case "resyncs":
		rows, err := idx.Resyncs(ctx, *session)
		exitOn("query", err)
		for _, r := range rows {
			printJSON(r)
		}

	default:
		fmt.Fprintln(os.Stderr, "unknown query:", q)
		os.Exit(2)
	}
}

func exitOn(what string, err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", what, err)
		os.Exit(1)
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}
