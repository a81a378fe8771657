package cli

/*
p11bench is the command line tool to measure the latency of PKCS#11 token
operations.

Usage:
	p11bench command [-flags] arguments

The commands are defined in the cli subpackages and include

	run	 runs the selected benchmarks against a token
	list	 lists the benchmarks and key sizes
	version	 prints the current p11bench version

Use "p11bench [command] -help" to find out more about a command.
*/

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/cloudflare/p11bench/config"
	"github.com/cloudflare/p11bench/log"
)

// Command holds the implementation details of a p11bench command.
type Command struct {
	// The Usage Text
	UsageText string
	// Flags to look up in the global table
	Flags []string
	// Main runs the command, args are the arguments after flags
	Main func(args []string, c Config) error
}

// Config is a type to hold flag values used by p11bench commands.
type Config struct {
	ConfigFile     string
	URI            string
	Module         string
	TokenLabel     string
	PIN            string
	Threads        int
	Iterations     int
	Skip           int
	Payloads       string
	Tests          string
	KeySizes       string
	Vendor         string
	FindMaxObjects int
	MetricsAddress string
	CFG            *config.Config
}

// Parsed command name
var cmdName string

// registerFlags defines all p11bench command flags and associates their values with variables.
func registerFlags(c *Config, f *flag.FlagSet) {
	f.StringVar(&c.ConfigFile, "config", "", "path to configuration file")
	f.StringVar(&c.URI, "uri", "", "PKCS #11 URI naming the module, the token and the PIN")
	f.StringVar(&c.Module, "module", "", "path to the PKCS#11 module")
	f.StringVar(&c.TokenLabel, "token", "", "label of the token")
	f.StringVar(&c.PIN, "pin", "", "user PIN, overridden by "+config.EnvPIN)
	f.IntVar(&c.Threads, "threads", 1, "number of concurrent workers, one session each")
	f.IntVar(&c.Iterations, "iterations", 1000, "measured iterations per run")
	f.IntVar(&c.Skip, "skip", 0, "warm-up iterations run before measuring")
	f.StringVar(&c.Payloads, "payloads", "32", "comma separated payload sizes in bytes")
	f.StringVar(&c.Tests, "tests", "", "comma separated tests to run, all if empty")
	f.StringVar(&c.KeySizes, "keysizes", "", "comma separated key sizes to use, all if empty")
	f.StringVar(&c.Vendor, "vendor", "generic", "token vendor hint: generic or luna")
	f.IntVar(&c.FindMaxObjects, "find-maxobjs", 512, "largest object search corpus, overridden by "+config.EnvFindMaxObjects)
	f.StringVar(&c.MetricsAddress, "metrics-address", "", "address to serve prometheus metrics on during the run")
}

// usage is the p11bench usage heading. It will be appended with names of defined commands in cmds
// to form the final usage message of p11bench.
const usage = `Usage:
Available commands:
`

// printDefaultValue is a helper function to print out a user friendly
// usage message of a flag. It's useful since we want to write customized
// usage message on selected subsets of the global flag set. It is
// borrowed from standard library source code. Since flag value type is
// not exported, default string flag values are printed without
// quotes. The only exception is the empty string, which is printed as "".
func printDefaultValue(f *flag.Flag) {
	format := "  -%s=%s: %s\n"
	if f.DefValue == "" {
		format = "  -%s=%q: %s\n"
	}
	fmt.Fprintf(os.Stderr, format, f.Name, f.DefValue, f.Usage)
}

// SplitList splits a comma separated flag value, dropping empty items.
func SplitList(s string) []string {
	var items []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// ParseSizes parses a comma separated list of sizes.
func ParseSizes(s string) ([]int, error) {
	var sizes []int
	for _, item := range SplitList(s) {
		n, err := strconv.Atoi(item)
		if err != nil {
			return nil, fmt.Errorf("bad size '%s': %w", item, err)
		}
		sizes = append(sizes, n)
	}
	return sizes, nil
}

// Apply overrides the fields of cfg whose flags were set on f. Unset flags
// leave the file and environment values alone. A PKCS #11 URI is applied
// first, so the other flags override it.
func (c *Config) Apply(cfg *config.Config, f *flag.FlagSet) error {
	if c.URI != "" {
		if err := cfg.ParseURI(c.URI); err != nil {
			return err
		}
		if err := cfg.Env(); err != nil {
			return err
		}
	}
	var err error
	f.Visit(func(fl *flag.Flag) {
		switch fl.Name {
		case "module":
			cfg.Module = c.Module
		case "token":
			cfg.TokenLabel = c.TokenLabel
		case "pin":
			if _, ok := os.LookupEnv(config.EnvPIN); !ok {
				cfg.PIN = c.PIN
			}
		case "threads":
			cfg.Threads = c.Threads
		case "iterations":
			cfg.Iterations = c.Iterations
		case "skip":
			cfg.Skip = c.Skip
		case "payloads":
			var sizes []int
			if sizes, err = ParseSizes(c.Payloads); err == nil {
				cfg.Payloads = sizes
			}
		case "tests":
			cfg.Tests = SplitList(c.Tests)
		case "keysizes":
			cfg.KeySizes = SplitList(c.KeySizes)
		case "vendor":
			cfg.VendorString = c.Vendor
		case "find-maxobjs":
			if _, ok := os.LookupEnv(config.EnvFindMaxObjects); !ok {
				cfg.FindMaxObjects = c.FindMaxObjects
			}
		case "metrics-address":
			cfg.MetricsAddress = c.MetricsAddress
		}
	})
	return err
}

// Start is the entrance point of p11bench command line tools.
func Start(cmds map[string]*Command) {
	// benchFlagSet is the flag sets for p11bench.
	var benchFlagSet = flag.NewFlagSet("p11bench", flag.ExitOnError)
	var c Config

	registerFlags(&c, benchFlagSet)
	// Initial parse of command line arguments. By convention, only -h/-help is supported.
	flag.Parse()
	if flag.Usage == nil {
		flag.Usage = func() {
			fmt.Fprintf(os.Stderr, usage)
			for name := range cmds {
				fmt.Fprintf(os.Stderr, "%s\n", name)
			}
		}
	}

	if flag.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "No command is given.\n")
		flag.Usage()
		return
	}

	// Clip out the command name and args for the command
	cmdName = flag.Arg(0)
	args := flag.Args()[1:]
	cmd, found := cmds[cmdName]
	if !found {
		fmt.Fprintf(os.Stderr, "Command %s is not defined.\n", cmdName)
		flag.Usage()
		return
	}
	// The usage of each individual command is re-written to mention
	// flags defined and referenced only in that command.
	benchFlagSet.Usage = func() {
		fmt.Fprintf(os.Stderr, "%s", cmd.UsageText)
		for _, name := range cmd.Flags {
			if f := benchFlagSet.Lookup(name); f != nil {
				printDefaultValue(f)
			}
		}
	}

	// Parse all flags and take the rest as argument lists for the command
	benchFlagSet.Parse(args)
	args = benchFlagSet.Args()

	var err error
	c.CFG, err = config.LoadFile(c.ConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err = c.Apply(c.CFG, benchFlagSet); err != nil {
		fmt.Fprintf(os.Stderr, "Bad flag: %v\n", err)
		os.Exit(1)
	}

	if err := cmd.Main(args, c); err != nil {
		log.Errorf("%s: %v", cmdName, err)
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
