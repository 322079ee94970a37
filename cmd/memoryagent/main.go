// Command memoryagent is a chat agent with long-term memory.
//
//	memoryagent chat --user alice           interactive REPL
//	memoryagent serve                       WebSocket + health endpoints
//	memoryagent search --user alice pizza   inspect stored memories
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
