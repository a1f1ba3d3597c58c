// Command ternstore opens an Environment at a configured path, opens (or
// creates) an Index, allocates a new Segment in it, writes one document,
// and prints the id that document was stored under — a minimal smoke test
// of the storage core's top-level flow, not a server.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"ternstore/dbconfig"
	"ternstore/environment"
	"ternstore/index"
	"ternstore/segment"
)

func main() {
	var (
		path      = flag.String("path", "./data", "environment directory")
		indexName = flag.String("index", "default", "index name to open or create")
	)
	flag.Parse()

	cfg := dbconfig.Default()
	cfg.Path = *path
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	env, err := environment.Open(cfg)
	if err != nil {
		log.Fatalf("open environment: %v", err)
	}
	defer env.Close()

	tx, err := env.NewTxn()
	if err != nil {
		log.Fatalf("begin transaction: %v", err)
	}

	idx, err := env.OpenIndex(tx, *indexName)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}
	defer env.CloseIndex(idx)

	sid, err := idx.NewSegment(tx)
	if err != nil {
		log.Fatalf("allocate segment: %v", err)
	}
	if err := tx.Commit(); err != nil {
		log.Fatalf("commit registry transaction: %v", err)
	}

	segTxn, err := env.NewTxn()
	if err != nil {
		log.Fatalf("begin transaction: %v", err)
	}
	seg, err := segment.Open(env.Engine(), env.Log(), idx, segTxn, sid)
	if err != nil {
		_ = segTxn.Abort()
		log.Fatalf("open segment: %v", err)
	}
	defer seg.Close()

	id, err := seg.NewDoc(segTxn, []byte("hello, ternstore"))
	if err != nil {
		log.Fatalf("write document: %v", err)
	}
	if err := segTxn.Commit(); err != nil {
		log.Fatalf("commit segment transaction: %v", err)
	}

	fmt.Fprintf(os.Stdout, "wrote document %s to index %q segment %d\n", id, *indexName, sid)
}
