package main

import (
	"fmt"
	"net/http"

	"arena.ai/internal/sim/game"
)

type gameMetrics struct {
	Tick     int
	Sessions int
	Players  int
	Pending  int
	Delays   map[string]int
}

func collectMetrics(g *game.LocalGame) gameMetrics {
	m := gameMetrics{
		Tick:    g.World().LastTickID(),
		Players: len(g.World().Players()),
		Delays:  make(map[string]int),
	}
	for _, s := range g.Sessions() {
		m.Sessions++
		m.Pending += s.PendingCallbacks()
		m.Delays[s.ID()] = s.CurrentDelay()
	}
	return m
}

// metricsHandler serves a minimal Prometheus exposition. Game state is read
// on the game loop.
func metricsHandler(g *game.LocalGame, idx sessionIndex) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		var m gameMetrics
		if err := g.Exec(r.Context(), func() { m = collectMetrics(g) }); err != nil {
			http.Error(rw, err.Error(), http.StatusServiceUnavailable)
			return
		}
		rw.Header().Set("Content-Type", "text/plain; version=0.0.4")

		fmt.Fprintf(rw, "# HELP arena_tick Last applied tick.\n")
		fmt.Fprintf(rw, "# TYPE arena_tick gauge\n")
		fmt.Fprintf(rw, "arena_tick %d\n", m.Tick)

		fmt.Fprintf(rw, "# HELP arena_sessions Attached agent sessions.\n")
		fmt.Fprintf(rw, "# TYPE arena_sessions gauge\n")
		fmt.Fprintf(rw, "arena_sessions %d\n", m.Sessions)

		fmt.Fprintf(rw, "# HELP arena_players Players in the world.\n")
		fmt.Fprintf(rw, "# TYPE arena_players gauge\n")
		fmt.Fprintf(rw, "arena_players %d\n", m.Players)

		fmt.Fprintf(rw, "# HELP arena_pending_requests Delayed agent requests not yet due.\n")
		fmt.Fprintf(rw, "# TYPE arena_pending_requests gauge\n")
		fmt.Fprintf(rw, "arena_pending_requests %d\n", m.Pending)

		fmt.Fprintf(rw, "# HELP arena_session_delay_ticks Current compensation delay per session.\n")
		fmt.Fprintf(rw, "# TYPE arena_session_delay_ticks gauge\n")
		for id, d := range m.Delays {
			fmt.Fprintf(rw, "arena_session_delay_ticks{session=%q} %d\n", id, d)
		}

		if idx == nil {
			return
		}
		st := idx.Stats()
		fmt.Fprintf(rw, "# HELP arena_index_queue_depth Session index backlog.\n")
		fmt.Fprintf(rw, "# TYPE arena_index_queue_depth gauge\n")
		fmt.Fprintf(rw, "arena_index_queue_depth %d\n", st.QueueDepth)
		fmt.Fprintf(rw, "# HELP arena_index_queue_capacity Session index queue capacity.\n")
		fmt.Fprintf(rw, "# TYPE arena_index_queue_capacity gauge\n")
		fmt.Fprintf(rw, "arena_index_queue_capacity %d\n", st.QueueCapacity)
		fmt.Fprintf(rw, "# HELP arena_index_dropped_total Session index events dropped.\n")
		fmt.Fprintf(rw, "# TYPE arena_index_dropped_total counter\n")
		fmt.Fprintf(rw, "arena_index_dropped_total %d\n", st.DropTotal)
	}
}
