package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/agent"
	"arena.ai/internal/logging"
	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
	"arena.ai/internal/sim/world"
	"arena.ai/internal/transport/ws"
)

func main() {
	var (
		url   = flag.String("url", "ws://localhost:8080/v1/ws", "ws url")
		name  = flag.String("name", "bot", "node name, also the bots' nick prefix")
		count = flag.Int("n", 1, "number of bots on this connection")
		team  = flag.String("team", "", "team for every bot (A or B; empty alternates)")
		seed  = flag.Int64("seed", 0, "bot rng seed (default: time based)")
	)
	flag.Parse()

	level, format := logging.Env("info", "text")
	logger := logging.New(level, format, os.Stdout)
	log := logger.WithField("cmd", "bot")

	if *seed == 0 {
		*seed = time.Now().UnixNano()
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	c, err := ws.Dial(ctx, *url, *name, logger)
	if err != nil {
		log.WithError(err).Fatal("dial")
	}
	log.WithFields(logrus.Fields{
		"url":        *url,
		"tick_limit": c.Welcome().Timing.TickLimit,
		"lag_buffer": c.Welcome().Timing.LagBuffer,
	}).Info("connected")

	rg := game.NewRemoteGame(c, world.New(world.Config{}, logger), logger)
	bots := make([]*agent.Bot, 0, *count)
	for i := 0; i < *count; i++ {
		t := protocol.Team(*team)
		if t == "" {
			t = protocol.TeamA
			if i%2 == 1 {
				t = protocol.TeamB
			}
		}
		b := agent.NewBot(rg, fmt.Sprintf("%s-%d", *name, i+1), t, *seed+int64(i), logger)
		rg.OnServerCommand(b.OnServerCommand)
		bots = append(bots, b)
	}

	runErr := make(chan error, 1)
	go func() { runErr <- c.Run(ctx, rg) }()

	for _, b := range bots {
		if _, err := rg.AddAgent(ctx, b, 0); err != nil {
			log.WithError(err).Fatal("add agent")
		}
		if err := b.Join(); err != nil {
			log.WithError(err).Warn("join")
		}
	}

	if err := <-runErr; err != nil && ctx.Err() == nil {
		log.WithError(err).Fatal("connection lost")
	}
}
