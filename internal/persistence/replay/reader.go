package replay

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/klauspost/compress/zstd"

	"arena.ai/internal/protocol"
)

// ListFiles returns the files of recording id in write order.
func ListFiles(dir, id string) ([]string, error) {
	files, err := filepath.Glob(Glob(dir, id))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ListRecordings returns the ids of every recording under dir.
func ListRecordings(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	seen := map[string]bool{}
	var ids []string
	for _, e := range ents {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, "replay-") || !strings.HasSuffix(name, ".jsonl.zst") {
			continue
		}
		// replay-<ulid>-<yyyy-mm-dd-hh>.jsonl.zst
		rest := strings.TrimPrefix(name, "replay-")
		i := strings.IndexByte(rest, '-')
		if i <= 0 {
			continue
		}
		if id := rest[:i]; !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Read calls fn for every entry of the given files, in order. A non-nil
// error from fn stops the read and is returned.
func Read(files []string, fn func(Entry) error) error {
	for _, path := range files {
		if err := readFile(path, fn); err != nil {
			return fmt.Errorf("%s: %w", filepath.Base(path), err)
		}
	}
	return nil
}

func readFile(path string, fn func(Entry) error) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for sc.Scan() {
		var e Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return fmt.Errorf("unmarshal: %w", err)
		}
		if err := fn(e); err != nil {
			return err
		}
	}
	return sc.Err()
}

// Target is a world a recording can be played onto.
type Target interface {
	Restore(dump json.RawMessage) error
	Consume(msg protocol.Message) error
	Digest() string
}

type Result struct {
	Commands int
	Checked  int
	Digest   string
}

var errNoDump = errors.New("no world dump in recording")

// Play restores w from the recording's dump and applies every recorded
// command, checking the digest after each tick.
func Play(files []string, w Target) (Result, error) {
	var res Result
	restored := false
	err := Read(files, func(e Entry) error {
		if e.Dump != nil {
			if restored {
				return fmt.Errorf("seq %d: second world dump", e.Seq)
			}
			restored = true
			return w.Restore(e.Dump)
		}
		if !restored {
			return fmt.Errorf("seq %d: command before world dump", e.Seq)
		}
		if e.Msg == nil {
			return nil
		}
		msg, err := protocol.Decode(*e.Msg)
		if err != nil {
			return fmt.Errorf("seq %d: %w", e.Seq, err)
		}
		if err := w.Consume(msg); err != nil {
			return fmt.Errorf("seq %d: apply %s: %w", e.Seq, msg.Kind(), err)
		}
		res.Commands++
		if e.Digest != "" {
			res.Checked++
			if got := w.Digest(); got != e.Digest {
				return fmt.Errorf("seq %d: digest mismatch: got=%s want=%s", e.Seq, got, e.Digest)
			}
		}
		return nil
	})
	if err != nil {
		return res, err
	}
	if !restored {
		return res, errNoDump
	}
	res.Digest = w.Digest()
	return res, nil
}
