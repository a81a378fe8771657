// Package version implements the version command.
package version

import (
	"fmt"
	"runtime"

	"github.com/cloudflare/p11bench/cli"
)

var (
	version = "dev"
)

// Usage text for 'p11bench version'
var versionUsageText = `p11bench version -- print out the version of p11bench

Usage of version:
	p11bench version
`

// FormatVersion returns the formatted version string.
func FormatVersion() string {
	return fmt.Sprintf("Version: %s\nRuntime: %s\n", version, runtime.Version())
}

// The main functionality of 'p11bench version' is to print out the version info.
func versionMain(args []string, c cli.Config) (err error) {
	fmt.Printf("%s", FormatVersion())
	return nil
}

// Command assembles the definition of Command 'version'
var Command = &cli.Command{UsageText: versionUsageText, Flags: nil, Main: versionMain}
