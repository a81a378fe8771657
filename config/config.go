// Package config contains the configuration logic for p11bench.
package config

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"os"
	"strconv"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/errors"
	"github.com/cloudflare/p11bench/log"
	"github.com/cloudflare/p11bench/registry"
	"github.com/cloudflare/p11bench/search"
)

// Environment variables overriding the configuration.
const (
	EnvPIN            = "P11BENCH_PIN"
	EnvFindMaxObjects = "P11BENCH_FIND_MAXOBJS"
)

// Config stores what a benchmark session needs: where the token is, how to
// log in and what to run against it.
type Config struct {
	Module     string `json:"module"`
	TokenLabel string `json:"token_label"`
	PIN        string `json:"pin"`

	Threads    int `json:"threads"`
	Iterations int `json:"iterations"`
	Skip       int `json:"skip"`
	// Payloads are payload sizes in bytes. The object search reads them as
	// corpus sizes.
	Payloads []int `json:"payloads"`

	// Tests and KeySizes select what runs; empty means everything.
	Tests    []string `json:"tests"`
	KeySizes []string `json:"key_sizes"`

	VendorString   string           `json:"vendor"`
	Vendor         benchmark.Vendor `json:"-"`
	FindMaxObjects int              `json:"find_max_objects"`

	MetricsAddress string `json:"metrics_address"`
}

// DefaultConfig returns a configuration running every test once per thread
// with a single 32-byte payload.
func DefaultConfig() *Config {
	return &Config{
		Threads:        1,
		Iterations:     1000,
		Payloads:       []int{32},
		FindMaxObjects: search.DefaultMaxObjects,
	}
}

// parse fills the fields that are not read directly from JSON.
func (c *Config) parse() error {
	v, err := benchmark.ParseVendor(c.VendorString)
	if err != nil {
		return err
	}
	c.Vendor = v
	return nil
}

// Env applies the environment overrides.
func (c *Config) Env() error {
	if pin, ok := os.LookupEnv(EnvPIN); ok {
		log.Debugf("PIN taken from %s", EnvPIN)
		c.PIN = pin
	}
	if s, ok := os.LookupEnv(EnvFindMaxObjects); ok {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New(errors.ConfigurationError, errors.InvalidConfig, fmt.Errorf("%s: %w", EnvFindMaxObjects, err))
		}
		log.Debugf("object search capped at %d objects by %s", n, EnvFindMaxObjects)
		c.FindMaxObjects = n
	}
	return nil
}

func invalid(format string, args ...interface{}) error {
	return errors.New(errors.ConfigurationError, errors.InvalidConfig, fmt.Errorf(format, args...))
}

// Valid ensures that Config is a valid configuration and resolves the vendor
// hint. It should be called once the file, the environment and the flags have
// been applied.
func (c *Config) Valid() error {
	log.Debugf("validating configuration")
	switch {
	case c.Module == "":
		return invalid("no PKCS#11 module given")
	case c.TokenLabel == "":
		return invalid("no token label given")
	case c.Threads < 1:
		return invalid("threads must be at least 1, got %d", c.Threads)
	case c.Iterations < 0:
		return invalid("iterations must not be negative, got %d", c.Iterations)
	case c.Skip < 0:
		return invalid("skip must not be negative, got %d", c.Skip)
	case c.FindMaxObjects < 0:
		return invalid("object search maximum must not be negative, got %d", c.FindMaxObjects)
	case c.FindMaxObjects > search.MaxObjects:
		return errors.New(errors.ConfigurationError, errors.CorpusTooLarge,
			fmt.Errorf("object search maximum %d exceeds %d", c.FindMaxObjects, search.MaxObjects))
	}
	for _, p := range c.Payloads {
		if p < 0 {
			return invalid("payload size must not be negative, got %d", p)
		}
	}
	for _, name := range c.Tests {
		if _, err := registry.LookupTest(name); err != nil {
			return err
		}
	}
	for _, name := range c.KeySizes {
		if _, err := registry.LookupKeySize(name); err != nil {
			return err
		}
	}
	if err := c.parse(); err != nil {
		return invalid("%v", err)
	}
	log.Debugf("configuration ok")
	return nil
}

// LoadFile attempts to load the configuration file stored at the path
// on top of the defaults, then applies the environment overrides.
func LoadFile(path string) (*Config, error) {
	log.Debugf("loading configuration file from %s", path)
	cfg := DefaultConfig()
	if path != "" {
		body, err := ioutil.ReadFile(path)
		if err != nil {
			return nil, errors.New(errors.ConfigurationError, errors.InvalidConfig, fmt.Errorf("read configuration file: %w", err))
		}
		if err = json.Unmarshal(body, cfg); err != nil {
			return nil, errors.New(errors.ConfigurationError, errors.InvalidConfig, fmt.Errorf("unmarshal configuration: %w", err))
		}
	}
	if err := cfg.Env(); err != nil {
		return nil, err
	}
	if err := cfg.parse(); err != nil {
		return nil, invalid("%v", err)
	}
	return cfg, nil
}
