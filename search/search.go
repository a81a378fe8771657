// Package search benchmarks object lookup. Prepare fills the token with a
// corpus of session keys sharing a label prefix, and every iteration looks
// one of them up by its full label.
package search

import (
	"fmt"
	"math/rand"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

const (
	// DefaultMaxObjects caps the corpus when no other maximum is set.
	DefaultMaxObjects = 512
	// MaxObjects is the largest corpus whose indexes fit the label suffix.
	MaxObjects = 999999

	suffixLen    = 6
	minTargets   = 512
	corpusKeyLen = 32
)

// FindObjects creates a corpus of as many AES keys as the payload has bytes
// and measures C_FindObjectsInit, C_FindObjects and C_FindObjectsFinal
// against a label matching exactly one of them.
type FindObjects struct {
	benchmark.Base
	maxObjects int

	corpus   []pkcs11.ObjectHandle
	targets  []int
	next     int
	template []*pkcs11.Attribute
	// label is the value of the CKA_LABEL attribute of template, rewritten
	// in place before every lookup.
	label []byte
}

// NewFindObjects returns the "findobjects" benchmark. The corpus labels
// start with label; maxObjects bounds the corpus size.
func NewFindObjects(label string, vendor benchmark.Vendor, maxObjects int) *FindObjects {
	return &FindObjects{
		Base:       benchmark.NewBase("findobjects", label, token.None, vendor),
		maxObjects: maxObjects,
	}
}

// IsPayloadSupported accepts a non-empty corpus no larger than the
// configured maximum, as long as that maximum fits the label suffix.
func (f *FindObjects) IsPayloadSupported(size int) bool {
	if f.maxObjects > MaxObjects {
		return false
	}
	return size > 0 && size <= f.maxObjects
}

// corpusLabel returns the label of object i of the corpus.
func corpusLabel(prefix string, i int) string {
	return fmt.Sprintf("%s-tmp-%0*d", prefix, suffixLen, i)
}

// setSuffix writes i as the last suffixLen decimal digits of b.
func setSuffix(b []byte, i int) {
	for j := len(b) - 1; j >= len(b)-suffixLen; j-- {
		b[j] = '0' + byte(i%10)
		i /= 10
	}
}

// plan returns at least n corpus indexes, made of successive pseudo-random
// permutations of [0, size).
func plan(r *rand.Rand, size, n int) []int {
	var targets []int
	for len(targets) < n {
		targets = append(targets, r.Perm(size)...)
	}
	return targets
}

func (f *FindObjects) Prepare(s *token.Session, t benchmark.Target) error {
	n := len(f.Payload)
	prefix := t.Label
	if prefix == "" {
		prefix = f.Name()
	}

	mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_AES_KEY_GEN, nil)}
	f.corpus = make([]pkcs11.ObjectHandle, 0, n)
	for i := 0; i < n; i++ {
		h, err := s.Ctx.GenerateKey(s.Handle, mech, token.SecretKeyTemplate(corpusLabel(prefix, i), pkcs11.CKK_AES, corpusKeyLen))
		if err != nil {
			return fmt.Errorf("create corpus object %d: %w", i, err)
		}
		f.corpus = append(f.corpus, h)
	}

	want := t.Iterations
	if want < minTargets {
		want = minTargets
	}
	// Workers get distinct but repeatable lookup orders.
	f.targets = plan(rand.New(rand.NewSource(int64(t.ThreadIndex)+2)), n, want)
	f.next = 0

	// The label attribute holds f.label itself, so Run only rewrites the
	// suffix.
	f.label = []byte(corpusLabel(prefix, 0))
	f.template = []*pkcs11.Attribute{
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_SECRET_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, f.label),
	}
	return nil
}

func (f *FindObjects) Run(s *token.Session, tm *benchmark.Timer) error {
	target := f.targets[f.next%len(f.targets)]
	f.next++
	setSuffix(f.label, target)

	if err := s.Ctx.FindObjectsInit(s.Handle, f.template); err != nil {
		return err
	}
	objs, _, err := s.Ctx.FindObjects(s.Handle, 2)
	if err != nil {
		s.Ctx.FindObjectsFinal(s.Handle)
		return err
	}
	if err = s.Ctx.FindObjectsFinal(s.Handle); err != nil {
		return err
	}

	switch len(objs) {
	case 0:
		return &token.NotFoundError{Class: token.SecretKey, Label: string(f.label)}
	case 1:
		return nil
	}
	return &token.AmbiguousError{Class: token.SecretKey, Label: string(f.label)}
}

// Teardown destroys the corpus, going on past failures. The first failure is
// returned.
func (f *FindObjects) Teardown(s *token.Session, t benchmark.Target) error {
	var first error
	for _, h := range f.corpus {
		if err := s.Ctx.DestroyObject(s.Handle, h); err != nil && first == nil {
			first = err
		}
	}
	f.corpus = nil
	return first
}

func (f *FindObjects) Clone() benchmark.Variant {
	return &FindObjects{Base: f.CloneBase(), maxObjects: f.maxObjects}
}
