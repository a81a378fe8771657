package oaep

import (
	"crypto/rand"
	"crypto/rsa"
	"fmt"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// Unwrap imports an AES key wrapped under an RSA key on every iteration and
// destroys it right after. The payload is the AES key material, so it must
// be 16, 24 or 32 bytes long.
type Unwrap struct {
	benchmark.Base
	hash Hash

	key       pkcs11.ObjectHandle
	wrapped   []byte
	template  []*pkcs11.Attribute
	mechanism []*pkcs11.Mechanism

	unwrapped    pkcs11.ObjectHandle
	hasUnwrapped bool
}

// NewUnwrap returns the "oaepunw" benchmark for SHA1, "oaepunwsha256" for
// SHA256.
func NewUnwrap(label string, vendor benchmark.Vendor, h Hash) *Unwrap {
	name := "oaepunw"
	if h == SHA256 {
		name = "oaepunwsha256"
	}
	return &Unwrap{
		Base: benchmark.NewBase(name, label, token.PrivateKey, vendor),
		hash: h,
	}
}

// IsPayloadSupported accepts AES key lengths only.
func (u *Unwrap) IsPayloadSupported(size int) bool {
	return size == 16 || size == 24 || size == 32
}

// Prepare wraps the payload in software with the public half of the key.
func (u *Unwrap) Prepare(s *token.Session, t benchmark.Target) error {
	u.key = t.Object
	pub, err := token.RSAPublicKey(s, u.key)
	if err != nil {
		return err
	}
	if len(u.Payload) > u.hash.MaxPayload((pub.N.BitLen()+7)/8) {
		return &benchmark.PayloadSizeError{Size: len(u.Payload)}
	}
	u.wrapped, err = rsa.EncryptOAEP(u.hash.goHash().New(), rand.Reader, pub, u.Payload, nil)
	if err != nil {
		return fmt.Errorf("wrap key material: %w", err)
	}
	u.template = token.SecretKeyTemplate(t.Label+"-unwrapped", pkcs11.CKK_AES, 0)
	u.mechanism = []*pkcs11.Mechanism{u.hash.mechanism()}
	return nil
}

func (u *Unwrap) Run(s *token.Session, tm *benchmark.Timer) error {
	h, err := s.Ctx.UnwrapKey(s.Handle, u.mechanism, u.key, u.wrapped, u.template)
	if err != nil {
		return err
	}
	u.unwrapped, u.hasUnwrapped = h, true
	return nil
}

// Cleanup destroys the key unwrapped by the last Run.
func (u *Unwrap) Cleanup(s *token.Session) error {
	if !u.hasUnwrapped {
		return nil
	}
	u.hasUnwrapped = false
	return s.Ctx.DestroyObject(s.Handle, u.unwrapped)
}

func (u *Unwrap) Teardown(s *token.Session, t benchmark.Target) error {
	return u.Cleanup(s)
}

func (u *Unwrap) Clone() benchmark.Variant {
	return &Unwrap{Base: u.CloneBase(), hash: u.hash}
}
