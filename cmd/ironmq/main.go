// Command ironmq is a command-line client for IronMQ projects.
//
// Usage:
//
//	ironmq [--config ironmq.yaml] [--debug] <command> [args]
package main

import "github.com/guestful/ironmq/internal/cli"

func main() {
	cli.Execute()
}
