// Package run implements the run command.
package run

import (
	"context"
	"crypto/rand"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/cli"
	"github.com/cloudflare/p11bench/config"
	"github.com/cloudflare/p11bench/errors"
	"github.com/cloudflare/p11bench/log"
	"github.com/cloudflare/p11bench/registry"
	"github.com/cloudflare/p11bench/token"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Usage text of 'p11bench run'
var runUsageText = `p11bench run -- run benchmarks against a PKCS#11 token

Usage of run:
        p11bench run {-uri pkcs11-uri | -module path -token label [-pin pin]} [-threads n]
                     [-iterations n] [-skip n] [-payloads sizes]
                     [-tests names] [-keysizes names] [-vendor hint]
                     [-find-maxobjs n] [-metrics-address addr] [-config file]

Each run prints one JSON object per line with the latency of every measured
iteration in milliseconds.

Flags:
`

// Flags used by 'p11bench run'
var runFlags = []string{"config", "uri", "module", "token", "pin", "threads", "iterations", "skip",
	"payloads", "tests", "keysizes", "vendor", "find-maxobjs", "metrics-address"}

// Report is the outcome of one run, as printed.
type Report struct {
	Test    string        `json:"test"`
	Label   string        `json:"label"`
	Payload int           `json:"payload"`
	Thread  int           `json:"thread"`
	Samples []float64     `json:"samples_ms"`
	Outcome string        `json:"outcome"`
	Error   *errors.Error `json:"error,omitempty"`
	// Teardown is set when the token was not left clean.
	Teardown string `json:"teardown_error,omitempty"`
}

func newReport(res benchmark.Result, payload int) Report {
	r := Report{
		Test:    res.Name,
		Label:   res.Label,
		Payload: payload,
		Thread:  res.ThreadIndex,
		Samples: make([]float64, len(res.Samples)),
		Outcome: res.Outcome.String(),
		Error:   res.Outcome.Err(),
	}
	for i, d := range res.Samples {
		r.Samples[i] = float64(d) / float64(time.Millisecond)
	}
	if res.Teardown != nil {
		r.Teardown = res.Teardown.Error()
	}
	return r
}

func mean(samples []time.Duration) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	var sum time.Duration
	for _, s := range samples {
		sum += s
	}
	return sum / time.Duration(len(samples))
}

// Bench runs every selected variant with every payload size on the sessions
// of pool and writes a report per result to w. A single thread uses the key
// labels as configured; several threads each use their own key, labelled
// with the thread index. Cancelling ctx stops before the next run.
func Bench(ctx context.Context, cfg *config.Config, pool *token.Pool, w io.Writer) error {
	variants, err := registry.Variants(cfg.Tests, cfg.KeySizes, registry.Options{
		Vendor:     cfg.Vendor,
		MaxObjects: cfg.FindMaxObjects,
	})
	if err != nil {
		return err
	}

	enc := json.NewEncoder(w)
	for _, v := range variants {
		for _, size := range cfg.Payloads {
			if err := ctx.Err(); err != nil {
				return err
			}
			payload := make([]byte, size)
			if _, err := rand.Read(payload); err != nil {
				return err
			}
			req := benchmark.Request{
				Payload:     payload,
				Iterations:  cfg.Iterations,
				Skip:        cfg.Skip,
				ThreadIndex: benchmark.NoThread,
			}

			var results []benchmark.Result
			if pool.Size() == 1 {
				req.Session = pool.Get()
				results = []benchmark.Result{benchmark.Execute(v.Clone(), req)}
				pool.Put(req.Session)
			} else {
				results = benchmark.RunThreads(ctx, pool, v, req)
			}

			for _, res := range results {
				log.Infof("%s/%s payload %d thread %d: %s, %d samples, mean %s",
					res.Name, res.Label, size, res.ThreadIndex, res.Outcome, len(res.Samples), mean(res.Samples))
				if err := enc.Encode(newReport(res, size)); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func serveMetrics(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		log.Infof("serving metrics on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Errorf("metrics server: %v", err)
		}
	}()
	return srv
}

// runMain opens the token, one session per thread, and runs the benchmarks.
func runMain(args []string, c cli.Config) error {
	cfg := c.CFG
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if err := cfg.Valid(); err != nil {
		return err
	}

	if cfg.MetricsAddress != "" {
		srv := serveMetrics(cfg.MetricsAddress)
		defer srv.Close()
	}

	tk, err := token.Open(cfg.Module, cfg.TokenLabel, cfg.PIN)
	if err != nil {
		return err
	}
	defer tk.Finalize()

	pool, err := token.NewPool(tk, cfg.Threads)
	if err != nil {
		return fmt.Errorf("open %d sessions: %w", cfg.Threads, err)
	}
	defer func() {
		if err := pool.Destroy(); err != nil {
			log.Warningf("closing sessions: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	return Bench(ctx, cfg, pool, os.Stdout)
}

// Command assembles the definition of Command 'run'
var Command = &cli.Command{UsageText: runUsageText, Flags: runFlags, Main: runMain}
