package indexdb

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"arena.ai/internal/protocol"
)

type SQLiteIndex struct {
	db  *sql.DB
	log logrus.FieldLogger

	ch   chan req
	wg   sync.WaitGroup
	once sync.Once

	closed atomic.Bool
	drops  atomic.Uint64
}

type req struct {
	ev Event
	// synced, when set, makes the writer commit and close it.
	synced chan struct{}
}

type SessionRow struct {
	SessionID  string     `json:"session_id"`
	AttachedAt time.Time  `json:"attached_at"`
	DetachedAt *time.Time `json:"detached_at,omitempty"`
}

type DelayRow struct {
	Tick  int       `json:"tick"`
	Delay int       `json:"delay"`
	At    time.Time `json:"at"`
}

type ResyncRow struct {
	PlayerID protocol.PlayerID `json:"player_id"`
	Reason   string            `json:"reason"`
	At       time.Time         `json:"at"`
}

func OpenSQLite(path string, logger logrus.FieldLogger) (*SQLiteIndex, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLiteIndex{
		db:  db,
		log: logger.WithField("component", "indexdb"),
		ch:  make(chan req, 16384),
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.loop()
	}()
	return s, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id TEXT PRIMARY KEY,
			attached_at TEXT NOT NULL,
			detached_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS delay_updates (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			tick INTEGER NOT NULL,
			delay INTEGER NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_delay_updates_session ON delay_updates(session_id, id);`,
		`CREATE TABLE IF NOT EXISTS resyncs (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id TEXT NOT NULL,
			player_id INTEGER NOT NULL,
			reason TEXT NOT NULL,
			at TEXT NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_resyncs_session ON resyncs(session_id, id);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteIndex) AgentAttached(sessionID string) {
	s.enqueue(Event{Kind: EventAttached, SessionID: sessionID, At: time.Now().UTC()})
}

func (s *SQLiteIndex) AgentDetached(sessionID string) {
	s.enqueue(Event{Kind: EventDetached, SessionID: sessionID, At: time.Now().UTC()})
}

func (s *SQLiteIndex) DelayChanged(sessionID string, tick, delay int) {
	s.enqueue(Event{Kind: EventDelay, SessionID: sessionID, Tick: tick, Delay: delay, At: time.Now().UTC()})
}

func (s *SQLiteIndex) ResyncForced(sessionID string, playerID protocol.PlayerID, reason string) {
	s.enqueue(Event{Kind: EventResync, SessionID: sessionID, PlayerID: playerID, Reason: reason, At: time.Now().UTC()})
}

func (s *SQLiteIndex) enqueue(ev Event) {
	if s == nil || s.closed.Load() {
		return
	}
	select {
	case s.ch <- req{ev: ev}:
	default:
		// The index is a read model; the game never waits for it.
		s.drops.Add(1)
	}
}

func (s *SQLiteIndex) Stats() Stats {
	return Stats{QueueDepth: len(s.ch), QueueCapacity: cap(s.ch), DropTotal: s.drops.Load()}
}

// Sync waits until every event queued before the call is committed.
func (s *SQLiteIndex) Sync(ctx context.Context) error {
	if s.closed.Load() {
		return errors.New("index closed")
	}
	done := make(chan struct{})
	select {
	case s.ch <- req{synced: done}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *SQLiteIndex) Close() error {
	var err error
	s.once.Do(func() {
		s.closed.Store(true)
		close(s.ch)
		s.wg.Wait()
		err = s.db.Close()
	})
	return err
}

func (s *SQLiteIndex) loop() {
	ctx := context.Background()

	var (
		tx            *sql.Tx
		opCount       int
		lastCommit    = time.Now()
		commitEvery   = 500
		commitMaxWait = time.Second
	)
	begin := func() {
		if tx != nil {
			return
		}
		txx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			s.log.WithError(err).Warn("index begin failed")
			time.Sleep(50 * time.Millisecond)
			return
		}
		tx = txx
		opCount = 0
	}
	commit := func() {
		if tx == nil {
			return
		}
		if err := tx.Commit(); err != nil {
			s.log.WithError(err).Warn("index commit failed")
		}
		tx = nil
		opCount = 0
		lastCommit = time.Now()
	}

	for r := range s.ch {
		if r.synced != nil {
			commit()
			close(r.synced)
			continue
		}
		begin()
		if tx == nil {
			s.drops.Add(1)
			continue
		}
		if err := s.write(tx, r.ev); err != nil {
			s.log.WithError(err).WithField("kind", r.ev.Kind).Warn("index write failed")
			_ = tx.Rollback()
			tx = nil
			continue
		}
		opCount++
		if opCount >= commitEvery || time.Since(lastCommit) >= commitMaxWait {
			commit()
		}
	}
	commit()
}

func (s *SQLiteIndex) write(tx *sql.Tx, ev Event) error {
	at := ev.At.Format(time.RFC3339Nano)
	var err error
	switch ev.Kind {
	case EventAttached:
		_, err = tx.Exec(`INSERT OR REPLACE INTO sessions(session_id,attached_at,detached_at) VALUES(?,?,NULL)`, ev.SessionID, at)
	case EventDetached:
		_, err = tx.Exec(`UPDATE sessions SET detached_at=? WHERE session_id=?`, at, ev.SessionID)
	case EventDelay:
		_, err = tx.Exec(`INSERT INTO delay_updates(session_id,tick,delay,at) VALUES(?,?,?,?)`, ev.SessionID, ev.Tick, ev.Delay, at)
	case EventResync:
		_, err = tx.Exec(`INSERT INTO resyncs(session_id,player_id,reason,at) VALUES(?,?,?,?)`, ev.SessionID, int64(ev.PlayerID), ev.Reason, at)
	default:
		err = fmt.Errorf("unknown event kind %q", ev.Kind)
	}
	return err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(sc rowScanner) (SessionRow, error) {
	var (
		row      SessionRow
		attached string
		detached sql.NullString
	)
	if err := sc.Scan(&row.SessionID, &attached, &detached); err != nil {
		return row, err
	}
	var err error
	if row.AttachedAt, err = time.Parse(time.RFC3339Nano, attached); err != nil {
		return row, err
	}
	if detached.Valid {
		t, err := time.Parse(time.RFC3339Nano, detached.String)
		if err != nil {
			return row, err
		}
		row.DetachedAt = &t
	}
	return row, nil
}

func (s *SQLiteIndex) Session(ctx context.Context, id string) (SessionRow, error) {
	return scanSession(s.db.QueryRowContext(ctx, `SELECT session_id, attached_at, detached_at FROM sessions WHERE session_id=?`, id))
}

// RecentSessions lists the newest sessions first.
func (s *SQLiteIndex) RecentSessions(ctx context.Context, limit int) ([]SessionRow, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `SELECT session_id, attached_at, detached_at FROM sessions ORDER BY attached_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SessionRow
	for rows.Next() {
		r, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ActiveSessions counts sessions that have not detached.
func (s *SQLiteIndex) ActiveSessions(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM sessions WHERE detached_at IS NULL`).Scan(&n)
	return n, err
}

func (s *SQLiteIndex) DelayUpdates(ctx context.Context, sessionID string) ([]DelayRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tick, delay, at FROM delay_updates WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []DelayRow
	for rows.Next() {
		var (
			r  DelayRow
			at string
		)
		if err := rows.Scan(&r.Tick, &r.Delay, &at); err != nil {
			return nil, err
		}
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *SQLiteIndex) Resyncs(ctx context.Context, sessionID string) ([]ResyncRow, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT player_id, reason, at FROM resyncs WHERE session_id=? ORDER BY id`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ResyncRow
	for rows.Next() {
		var (
			r   ResyncRow
			pid int64
			at  string
		)
		if err := rows.Scan(&pid, &r.Reason, &at); err != nil {
			return nil, err
		}
		r.PlayerID = protocol.PlayerID(pid)
		if r.At, err = time.Parse(time.RFC3339Nano, at); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
