// Package random benchmarks the token's random number generator. The
// variants need no key.
package random

import (
	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
)

// Generate asks the token for as many random bytes as the payload holds.
type Generate struct {
	benchmark.Base
}

// NewGenerate returns the "rand" benchmark.
func NewGenerate(vendor benchmark.Vendor) *Generate {
	return &Generate{Base: benchmark.NewBase("rand", "", token.None, vendor)}
}

func (g *Generate) Prepare(s *token.Session, t benchmark.Target) error { return nil }

func (g *Generate) Run(s *token.Session, tm *benchmark.Timer) error {
	_, err := s.Ctx.GenerateRandom(s.Handle, len(g.Payload))
	return err
}

func (g *Generate) Clone() benchmark.Variant {
	return &Generate{Base: g.CloneBase()}
}

// Seed mixes the payload into the token's generator.
type Seed struct {
	benchmark.Base
}

// NewSeed returns the "seed" benchmark.
func NewSeed(vendor benchmark.Vendor) *Seed {
	return &Seed{Base: benchmark.NewBase("seed", "", token.None, vendor)}
}

func (sd *Seed) Prepare(s *token.Session, t benchmark.Target) error { return nil }

func (sd *Seed) Run(s *token.Session, tm *benchmark.Timer) error {
	return s.Ctx.SeedRandom(s.Handle, sd.Payload)
}

func (sd *Seed) Clone() benchmark.Variant {
	return &Seed{Base: sd.CloneBase()}
}
