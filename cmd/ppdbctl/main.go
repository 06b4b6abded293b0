// Command ppdbctl is an interactive front end over pkg/ppdb: open a
// database directory and drop into a REPL for put/get/delete/scan.
// Grounded on the teacher's cmd/demo/{flush_demo,recovery_demo,main}.go
// (same put/get/delete walkthrough, now driven interactively instead of
// hardcoded) and sloty's (calvinalkan-agent-task/cmd/sloty) liner-based
// REPL shape.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/siltdb/ppdb/internal/errs"
	"github.com/siltdb/ppdb/pkg/ppdb"
)

func main() {
	var (
		dir         = flag.StringP("dir", "d", "", "database directory (required)")
		configPath  = flag.StringP("config", "c", "", "JSONC config file (see fileConfig)")
		shardCount  = flag.Int("shards", 0, "memtable shard count (0 = default)")
		budgetBytes = flag.Int64("budget", 0, "memtable budget in bytes (0 = default)")
		segmentSize = flag.Int64("segment-size", 0, "WAL segment size in bytes (0 = default)")
		maxSegments = flag.Int("max-segments", 0, "max retained WAL segments, open one included (0 = unlimited)")
		syncWrite   = flag.Bool("sync", false, "fsync the WAL after every write")
	)
	flag.Parse()

	if *dir == "" {
		fmt.Fprintln(os.Stderr, "ppdbctl: -d/--dir is required")
		os.Exit(1)
	}

	opts := ppdb.Options{
		ShardCount:          *shardCount,
		MemtableBudgetBytes: *budgetBytes,
		SegmentSize:         *segmentSize,
		MaxSegments:         *maxSegments,
		SyncOnWrite:         *syncWrite,
	}

	if *configPath != "" {
		fc, err := loadFileConfig(*configPath)
		if err != nil {
			fmt.Fprintf(os.Stderr, "ppdbctl: reading config: %v\n", err)
			os.Exit(1)
		}
		mergeFileConfig(&opts, fc)
	}

	db, err := ppdb.Open(*dir, opts)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ppdbctl: open %s: %v\n", *dir, err)
		code := 5
		switch errs.KindOf(err) {
		case errs.InvalidArg:
			code = 1
		case errs.Corrupted:
			code = 2
		case errs.Io:
			code = 3
		case errs.OutOfMemory:
			code = 4
		}
		os.Exit(code)
	}
	defer db.Close()

	runREPL(db)
}

// mergeFileConfig applies any fields set in fc on top of opts, without
// disturbing fields the caller already set via flags (flags win when both
// are non-zero, matching LoadConfig's CLI-overrides-last precedence in the
// teacher's config.go).
func mergeFileConfig(opts *ppdb.Options, fc fileConfig) {
	if opts.ShardCount == 0 {
		opts.ShardCount = fc.ShardCount
	}
	if opts.MemtableBudgetBytes == 0 {
		opts.MemtableBudgetBytes = fc.MemtableBudgetBytes
	}
	if opts.SegmentSize == 0 {
		opts.SegmentSize = fc.SegmentSize
	}
	if opts.MaxSegments == 0 {
		opts.MaxSegments = fc.MaxSegments
	}
	if !opts.SyncOnWrite {
		opts.SyncOnWrite = fc.SyncOnWrite
	}
}
