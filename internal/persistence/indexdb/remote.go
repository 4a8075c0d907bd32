package indexdb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
)

// RemoteConfig configures a RemoteIndex, which ships events in JSON batches
// to an ingest endpoint instead of a local database.
type RemoteConfig struct {
	Endpoint      string
	Token         string
	GameID        string
	BatchSize     int
	FlushInterval time.Duration
	HTTPTimeout   time.Duration
	Logger        logrus.FieldLogger
}

type RemoteIndex struct {
	cfg        RemoteConfig
	httpClient *http.Client
	log        logrus.FieldLogger

	ch   chan Event
	wg   sync.WaitGroup
	once sync.Once

	closed    atomic.Bool
	drops     atomic.Uint64
	flushFail atomic.Uint64
}

type remoteBatch struct {
	GameID string  `json:"game_id"`
	Events []Event `json:"events"`
}

func OpenRemote(cfg RemoteConfig) (*RemoteIndex, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("empty index ingest endpoint")
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 128
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 500 * time.Millisecond
	}
	if cfg.HTTPTimeout <= 0 {
		cfg.HTTPTimeout = 10 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	d := &RemoteIndex{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.HTTPTimeout},
		log:        logger.WithField("component", "indexdb"),
		ch:         make(chan Event, 16384),
	}
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.loop()
	}()
	return d, nil
}

func (d *RemoteIndex) AgentAttached(sessionID string) {
	d.enqueue(Event{Kind: EventAttached, SessionID: sessionID, At: time.Now().UTC()})
}

func (d *RemoteIndex) AgentDetached(sessionID string) {
	d.enqueue(Event{Kind: EventDetached, SessionID: sessionID, At: time.Now().UTC()})
}

func (d *RemoteIndex) DelayChanged(sessionID string, tick, delay int) {
	d.enqueue(Event{Kind: EventDelay, SessionID: sessionID, Tick: tick, Delay: delay, At: time.Now().UTC()})
}

func (d *RemoteIndex) ResyncForced(sessionID string, playerID protocol.PlayerID, reason string) {
	d.enqueue(Event{Kind: EventResync, SessionID: sessionID, PlayerID: playerID, Reason: reason, At: time.Now().UTC()})
}

func (d *RemoteIndex) Stats() Stats {
	return Stats{QueueDepth: len(d.ch), QueueCapacity: cap(d.ch), DropTotal: d.drops.Load()}
}

// FlushFailures counts batches that could not be delivered after retries.
func (d *RemoteIndex) FlushFailures() uint64 { return d.flushFail.Load() }

func (d *RemoteIndex) Close() error {
	if d == nil {
		return nil
	}
	d.once.Do(func() {
		d.closed.Store(true)
		close(d.ch)
		d.wg.Wait()
	})
	return nil
}

func (d *RemoteIndex) enqueue(ev Event) {
	if d == nil || d.closed.Load() {
		return
	}
	select {
	case d.ch <- ev:
	default:
		d.drops.Add(1)
		d.log.WithField("kind", ev.Kind).Debug("index queue full; event dropped")
	}
}

func (d *RemoteIndex) loop() {
	ticker := time.NewTicker(d.cfg.FlushInterval)
	defer ticker.Stop()

	batch := make([]Event, 0, d.cfg.BatchSize)
	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := d.sendBatch(batch); err != nil {
			d.flushFail.Add(1)
			d.log.WithError(err).WithField("batch", len(batch)).Warn("index flush failed")
			// Keep the batch for the next flush unless it has grown too large.
			if len(batch) < 8*d.cfg.BatchSize {
				return
			}
			d.drops.Add(uint64(len(batch)))
		}
		batch = batch[:0]
	}

	for {
		select {
		case ev, ok := <-d.ch:
			if !ok {
				flush()
				return
			}
			batch = append(batch, ev)
			if len(batch) >= d.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}

func (d *RemoteIndex) sendBatch(events []Event) error {
	buf, err := json.Marshal(remoteBatch{GameID: d.cfg.GameID, Events: events})
	if err != nil {
		return err
	}

	var lastErr error
	for attempt := 0; attempt < 3; attempt++ {
		req, err := http.NewRequest(http.MethodPost, d.cfg.Endpoint, bytes.NewReader(buf))
		if err != nil {
			return err
		}
		req.Header.Set("content-type", "application/json")
		if d.cfg.Token != "" {
			req.Header.Set("x-arena-index-token", d.cfg.Token)
		}

		resp, err := d.httpClient.Do(req)
		if err == nil {
			respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 16*1024))
			_ = resp.Body.Close()
			if resp.StatusCode >= 200 && resp.StatusCode < 300 {
				return nil
			}
			err = fmt.Errorf("status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(respBody)))
		}
		lastErr = err
		time.Sleep(time.Duration(100*(1<<attempt)) * time.Millisecond)
	}
	return lastErr
}
