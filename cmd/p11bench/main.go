/*
p11bench is the command line tool to measure the latency of PKCS#11 token
operations: symmetric encryption, HMAC, signatures, RSA-OAEP, key derivation,
random generation and object search.

Usage:
	p11bench command [-flags] arguments

	The commands are

	run	 runs the selected benchmarks against a token
	list	 lists the benchmarks and key sizes
	version	 prints the current p11bench version

Use "p11bench [command] -help" to find out more about a command.
*/
package main

import (
	"flag"

	"github.com/cloudflare/p11bench/cli"
	"github.com/cloudflare/p11bench/cli/list"
	"github.com/cloudflare/p11bench/cli/run"
	"github.com/cloudflare/p11bench/cli/version"
	"github.com/cloudflare/p11bench/log"
)

func main() {
	flag.IntVar(&log.Level, "loglevel", log.LevelInfo, "Log level (0 = DEBUG, 5 = FATAL)")
	cmds := map[string]*cli.Command{
		"run":     run.Command,
		"list":    list.Command,
		"version": version.Command,
	}
	cli.Start(cmds)
}
