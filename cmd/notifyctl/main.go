// Command notifyctl lists routing rules, dry-runs events against them and
// publishes events to the ingestion queue.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
