package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/persistence/replay"
	"arena.ai/internal/sim/world"
)

func main() {
	var (
		dir  = flag.String("dir", "./data/replays", "replay directory")
		id   = flag.String("id", "", "recording id (default: latest in -dir)")
		list = flag.Bool("list", false, "list recordings and exit")
	)
	flag.Parse()

	ids, err := replay.ListRecordings(*dir)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list recordings:", err)
		os.Exit(1)
	}
	if *list {
		for _, r := range ids {
			fmt.Println(r)
		}
		return
	}

	rid := *id
	if rid == "" {
		if len(ids) == 0 {
			fmt.Fprintln(os.Stderr, "no recordings found in", *dir)
			os.Exit(1)
		}
		rid = ids[len(ids)-1]
	}

	files, err := replay.ListFiles(*dir, rid)
	if err != nil {
		fmt.Fprintln(os.Stderr, "list files:", err)
		os.Exit(1)
	}
	if len(files) == 0 {
		fmt.Fprintln(os.Stderr, "no files for recording", rid)
		os.Exit(1)
	}

	logger := logrus.New()
	logger.SetLevel(logrus.WarnLevel)
	res, err := replay.Play(files, world.New(world.Config{}, logger))
	if err != nil {
		fmt.Fprintln(os.Stderr, "replay:", err)
		os.Exit(1)
	}
	fmt.Printf("replay ok: id=%s files=%d commands=%d checked=%d ticks digest=%s\n", rid, len(files), res.Commands, res.Checked, res.Digest)
}
