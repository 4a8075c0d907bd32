package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/http/pprof"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/agent"
	"arena.ai/internal/logging"
	"arena.ai/internal/persistence/replay"
	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
	"arena.ai/internal/sim/tuning"
	"arena.ai/internal/sim/world"
	"arena.ai/internal/transport/ws"
)

func main() {
	var (
		addr       = flag.String("addr", ":8080", "http listen address")
		tuningPath = flag.String("tuning", "./configs/tuning.yaml", "path to tuning.yaml")
		seed       = flag.Int64("seed", 0, "arena seed (overrides tuning when non-zero)")
		bots       = flag.Int("bots", 0, "number of in-process bots to start")
		disableDB  = flag.Bool("disable_db", false, "disable the session index")
		noReplay   = flag.Bool("no_replay", false, "do not record a replay")
	)
	flag.Parse()

	level, format := logging.Env("info", "text")
	logger := logging.New(level, format, os.Stdout)
	log := logger.WithField("cmd", "server")

	tune, err := tuning.Load(*tuningPath)
	if err != nil {
		if !os.IsNotExist(err) {
			log.WithError(err).Fatal("load tuning")
		}
		log.WithField("path", *tuningPath).Info("tuning not found; using defaults")
		tune = tuning.Defaults()
	}
	if *seed != 0 {
		tune.Arena.Seed = *seed
	}
	if *disableDB {
		tune.Index.Enabled = false
	}
	if *noReplay {
		tune.Replay.Enabled = false
	}

	w := world.New(tune.WorldConfig(), logger)
	cfg := tune.GameConfig()
	cfg.Logger = logger

	var rec *replay.Recorder
	gameID := ""
	if tune.Replay.Enabled {
		rec = replay.NewRecorder(tune.Replay.Dir, w)
		if gameID, err = rec.Start(); err != nil {
			log.WithError(err).Fatal("start replay")
		}
		defer func() {
			if err := rec.Close(); err != nil {
				log.WithError(err).Warn("close replay")
			}
		}()
		cfg.Recorder = rec
		log.WithFields(logrus.Fields{"id": gameID, "dir": tune.Replay.Dir}).Info("recording replay")
	}

	// Read model only; the game never waits on it.
	idx, err := openSessionIndex(tune.Index, gameID, logger)
	if err != nil {
		log.WithError(err).Fatal("open index backend")
	}
	if idx != nil {
		defer idx.Close()
		cfg.Index = idx
	}

	g := game.NewLocalGame(w, cfg)
	for i := 0; i < *bots; i++ {
		startBot(g, i, tune.Arena.Seed, logger)
	}

	srv, err := ws.NewServer(g, logger)
	if err != nil {
		log.WithError(err).Fatal("ws server")
	}

	ctx, cancel := signalContext()
	defer cancel()

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(200)
		_, _ = rw.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", metricsHandler(g, idx))
	if envBool("ARENA_ENABLE_PPROF_HTTP", false) {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	}
	mux.HandleFunc("/v1/ws", srv.Handler())

	hs := &http.Server{
		Addr:              *addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	gameErr := make(chan error, 1)
	go func() {
		err := g.Run(ctx)
		if err != nil && err != context.Canceled {
			log.WithError(err).Error("game stopped")
		}
		gameErr <- err
		cancel()
	}()
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = hs.Shutdown(ctx2)
	}()

	log.WithField("addr", *addr).Info("listening")
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.WithError(err).Fatal("ListenAndServe")
	}
	if err := <-gameErr; err != nil && err != context.Canceled {
		os.Exit(1)
	}
}

// startBot attaches an in-process bot. Bots alternate teams.
func startBot(g *game.LocalGame, i int, seed int64, logger logrus.FieldLogger) {
	team := protocol.TeamA
	if i%2 == 1 {
		team = protocol.TeamB
	}
	b := agent.NewBot(g, fmt.Sprintf("bot-%d", i+1), team, seed+int64(i)+1, logger)
	g.OnServerCommand(b.OnServerCommand)
	g.AddAgent(b)
	if err := b.Join(); err != nil {
		logger.WithError(err).WithField("bot", i+1).Warn("bot join")
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}

func envBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "t", "true", "yes", "on":
		return true
	case "0", "f", "false", "no", "off":
		return false
	default:
		return def
	}
}
