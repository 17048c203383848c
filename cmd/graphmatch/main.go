// Command graphmatch executes subgraph matching plans against a data graph
// held in memory, in a bbolt file, in SQLite or in Neo4j.
//
//	graphmatch import --backend bolt --path graph.db ./dataset/
//	graphmatch run    --backend bolt --path graph.db plan.json
//	graphmatch explain plan.json
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
