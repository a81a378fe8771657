// Package mac benchmarks HMAC computation with C_Sign.
package mac

import (
	"bytes"

	"github.com/ThalesIgnite/crypto11"
	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// HMAC signs the whole payload on every iteration. HMAC takes messages of any
// length.
type HMAC struct {
	benchmark.Base
	mech     uint
	keyTypes []uint

	key       pkcs11.ObjectHandle
	mechanism []*pkcs11.Mechanism
}

func keyTypes(params []crypto11.SymmetricGenParams) []uint {
	var types []uint
	for _, p := range params {
		types = append(types, p.KeyType)
	}
	return types
}

func newHMAC(name, label string, vendor benchmark.Vendor, mech uint, types []uint) *HMAC {
	return &HMAC{
		Base:     benchmark.NewBase(name, label, token.SecretKey, vendor),
		mech:     mech,
		keyTypes: types,
	}
}

// NewSHA1 returns the "hmacsha1" benchmark.
func NewSHA1(label string, vendor benchmark.Vendor) *HMAC {
	return newHMAC("hmacsha1", label, vendor, pkcs11.CKM_SHA_1_HMAC, keyTypes(crypto11.CipherHMACSHA1.GenParams))
}

// NewSHA256 returns the "hmacsha256" benchmark.
func NewSHA256(label string, vendor benchmark.Vendor) *HMAC {
	return newHMAC("hmacsha256", label, vendor, pkcs11.CKM_SHA256_HMAC, keyTypes(crypto11.CipherHMACSHA256.GenParams))
}

// NewSHA512 returns the "hmacsha512" benchmark.
func NewSHA512(label string, vendor benchmark.Vendor) *HMAC {
	return newHMAC("hmacsha512", label, vendor, pkcs11.CKM_SHA512_HMAC, keyTypes(crypto11.CipherHMACSHA512.GenParams))
}

// Prepare checks that the key is of a type usable with the HMAC mechanism.
func (h *HMAC) Prepare(s *token.Session, t benchmark.Target) error {
	h.key = t.Object
	value, err := token.Attribute(s, h.key, pkcs11.CKA_KEY_TYPE)
	if err != nil {
		return err
	}
	ok := false
	for _, want := range h.keyTypes {
		if bytes.Equal(value, pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, want).Value) {
			ok = true
		}
	}
	if !ok {
		return pkcs11.Error(pkcs11.CKR_KEY_TYPE_INCONSISTENT)
	}
	h.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(h.mech, nil)}
	return nil
}

func (h *HMAC) Run(s *token.Session, tm *benchmark.Timer) error {
	if err := s.Ctx.SignInit(s.Handle, h.mechanism, h.key); err != nil {
		return err
	}
	_, err := s.Ctx.Sign(s.Handle, h.Payload)
	return err
}

func (h *HMAC) Clone() benchmark.Variant {
	return &HMAC{
		Base:     h.CloneBase(),
		mech:     h.mech,
		keyTypes: append([]uint(nil), h.keyTypes...),
	}
}
