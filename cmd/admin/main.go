package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"arena.ai/internal/persistence/replay"
)

func main() {
	if len(os.Args) >= 2 {
		switch os.Args[1] {
		case "db":
			dbCmd(os.Args[2:])
			return
		case "state":
			stateCmd(os.Args[2:])
			return
		case "health":
			healthCmd(os.Args[2:])
			return
		}
	}
	replaysCmd(os.Args[1:])
}

// replaysCmd lists recordings with their hourly files.
func replaysCmd(args []string) {
	fs := flag.NewFlagSet("admin", flag.ExitOnError)
	dir := fs.String("dir", "./data/replays", "replay directory")
	_ = fs.Parse(args)

	ids, err := replay.ListRecordings(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "read:", err)
		os.Exit(1)
	}
	for _, id := range ids {
		files, err := replay.ListFiles(*dir, id)
		if err != nil {
			fmt.Fprintln(os.Stderr, "list:", err)
			os.Exit(1)
		}
		var size int64
		for _, f := range files {
			if st, err := os.Stat(f); err == nil {
				size += st.Size()
			}
		}
		last := ""
		if len(files) > 0 {
			last = filepath.Base(files[len(files)-1])
		}
		fmt.Printf("%s files=%d bytes=%d last=%s\n", id, len(files), size, last)
	}
}
