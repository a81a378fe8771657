// Package derive benchmarks key derivation. Every iteration derives a fresh
// AES-128 session key from a key held by the token and destroys it before the
// next one, so a run leaves the token as it found it.
package derive

import (
	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// derivedKeyLen is the length of the derived AES key.
const derivedKeyLen = 16

// deriver holds what the derivation variants share: the base key, the
// mechanism built by Prepare and the key produced by the last Run.
type deriver struct {
	benchmark.Base

	key       pkcs11.ObjectHandle
	template  []*pkcs11.Attribute
	mechanism []*pkcs11.Mechanism

	derived    pkcs11.ObjectHandle
	hasDerived bool
}

func (d *deriver) prepare(t benchmark.Target, m *pkcs11.Mechanism) {
	d.key = t.Object
	d.template = token.SecretKeyTemplate(t.Label+"-derived", pkcs11.CKK_AES, derivedKeyLen)
	d.mechanism = []*pkcs11.Mechanism{m}
}

func (d *deriver) Run(s *token.Session, tm *benchmark.Timer) error {
	h, err := s.Ctx.DeriveKey(s.Handle, d.mechanism, d.key, d.template)
	if err != nil {
		return err
	}
	d.derived, d.hasDerived = h, true
	return nil
}

// Cleanup destroys the key derived by the last Run.
func (d *deriver) Cleanup(s *token.Session) error {
	if !d.hasDerived {
		return nil
	}
	d.hasDerived = false
	return s.Ctx.DestroyObject(s.Handle, d.derived)
}

func (d *deriver) Teardown(s *token.Session, t benchmark.Target) error {
	return d.Cleanup(s)
}
