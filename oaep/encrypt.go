package oaep

import (
	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// Encrypt encrypts the payload with an RSA public key on every iteration.
// The size bound depends on the modulus, so it is known only once Prepare
// has read the key.
type Encrypt struct {
	benchmark.Base
	hash Hash

	key        pkcs11.ObjectHandle
	modulusLen int
	mechanism  []*pkcs11.Mechanism
}

// NewEncrypt returns the "oaep" benchmark for SHA1, "oaepsha256" for SHA256.
func NewEncrypt(label string, vendor benchmark.Vendor, h Hash) *Encrypt {
	name := "oaep"
	if h == SHA256 {
		name = "oaepsha256"
	}
	return &Encrypt{
		Base: benchmark.NewBase(name, label, token.PublicKey, vendor),
		hash: h,
	}
}

// IsPayloadSupported accepts every size until the modulus is known.
func (e *Encrypt) IsPayloadSupported(size int) bool {
	if e.modulusLen == 0 {
		return true
	}
	return size <= e.hash.MaxPayload(e.modulusLen)
}

func (e *Encrypt) Prepare(s *token.Session, t benchmark.Target) error {
	e.key = t.Object
	modulus, err := token.Attribute(s, e.key, pkcs11.CKA_MODULUS)
	if err != nil {
		return err
	}
	e.modulusLen = len(modulus)
	if !e.IsPayloadSupported(len(e.Payload)) {
		return &benchmark.PayloadSizeError{Size: len(e.Payload)}
	}
	e.mechanism = []*pkcs11.Mechanism{e.hash.mechanism()}
	return nil
}

func (e *Encrypt) Run(s *token.Session, tm *benchmark.Timer) error {
	if err := s.Ctx.EncryptInit(s.Handle, e.mechanism, e.key); err != nil {
		return err
	}
	_, err := s.Ctx.Encrypt(s.Handle, e.Payload)
	return err
}

func (e *Encrypt) Clone() benchmark.Variant {
	return &Encrypt{Base: e.CloneBase(), hash: e.hash}
}
