// Package replay records every applied server command of a game so the game
// can be re-run from its starting world dump.
package replay

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/oklog/ulid/v2"

	"arena.ai/internal/protocol"
)

var ErrNotStarted = errors.New("replay not started")

// Entry is one line of a recording. The first line of a recording carries
// the world dump; every following line one applied command. Tick commands
// also carry the world digest right after they were applied.
type Entry struct {
	Seq    int64              `json:"seq"`
	Dump   json.RawMessage    `json:"dump,omitempty"`
	Msg    *protocol.Envelope `json:"msg,omitempty"`
	Digest string             `json:"digest,omitempty"`
}

// State is the part of a world the recorder reads for digests.
type State interface {
	Dump() (json.RawMessage, error)
	Digest() string
}

// Recorder implements game.Recorder on top of a JSONLZstdWriter.
type Recorder struct {
	dir   string
	state State

	mu  sync.Mutex
	id  string
	seq int64
	w   *JSONLZstdWriter
}

func NewRecorder(dir string, state State) *Recorder {
	return &Recorder{dir: dir, state: state}
}

// Start opens a new recording headed by the world's current dump and
// returns its id. Any recording in progress is closed first.
func (r *Recorder) Start() (string, error) {
	dump, err := r.state.Dump()
	if err != nil {
		return "", err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w != nil {
		if err := r.w.Close(); err != nil {
			return "", err
		}
	}
	r.id = ulid.Make().String()
	r.seq = 0
	r.w = NewJSONLZstdWriter(r.dir, filePrefix(r.id))
	if err := r.writeLocked(Entry{Dump: dump}); err != nil {
		return "", fmt.Errorf("replay %s: %w", r.id, err)
	}
	return r.id, nil
}

func (r *Recorder) ID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.id
}

func (r *Recorder) Consume(msg protocol.Message) error {
	env, err := protocol.Encode(msg)
	if err != nil {
		return err
	}
	e := Entry{Msg: &env}
	if msg.Kind() == protocol.KindTick {
		e.Digest = r.state.Digest()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return ErrNotStarted
	}
	return r.writeLocked(e)
}

func (r *Recorder) Flush() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	return r.w.Flush()
}

func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.w == nil {
		return nil
	}
	err := r.w.Close()
	r.w = nil
	return err
}

func (r *Recorder) writeLocked(e Entry) error {
	r.seq++
	e.Seq = r.seq
	return r.w.Write(e)
}

func filePrefix(id string) string { return "replay-" + id }

// Glob matches every file of recording id under dir.
func Glob(dir, id string) string {
	return filepath.Join(dir, filePrefix(id)+"-*.jsonl.zst")
}
