// Command redis-node runs an in-memory Redis-compatible node, either as a
// master or, with --replicaof, as a replica of another node.
package main

import "os"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
