// Package list implements the list command.
package list

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/cloudflare/p11bench/cli"
	"github.com/cloudflare/p11bench/registry"
)

// Usage text of 'p11bench list'
var listUsageText = `p11bench list -- list the benchmarks and the key sizes they run with

Usage of list:
        p11bench list
`

// List writes the tests and the key sizes of their family to w.
func List(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "TEST\tKEY SIZES\tDESCRIPTION")
	for _, t := range registry.Tests() {
		sizes := "-"
		for _, k := range registry.KeySizes() {
			if t.Family == registry.Keyless || k.Family != t.Family {
				continue
			}
			if sizes == "-" {
				sizes = k.Name
			} else {
				sizes += "," + k.Name
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\n", t.Name, sizes, t.Description)
	}
	fmt.Fprintln(tw)
	fmt.Fprintln(tw, "KEY SIZE\tLABEL\tFAMILY")
	for _, k := range registry.KeySizes() {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", k.Name, k.Label, k.Family)
	}
	return tw.Flush()
}

func listMain(args []string, c cli.Config) error {
	return List(os.Stdout)
}

// Command assembles the definition of Command 'list'
var Command = &cli.Command{UsageText: listUsageText, Flags: nil, Main: listMain}
