// Package sign benchmarks signature generation with private keys held by the
// token. The message is hashed once in Prepare, outside the token, so only
// the signature itself is measured.
package sign

import (
	"crypto"
	"crypto/sha256"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// from src/pkg/crypto/rsa/pkcs1v15.go
var hashPrefixes = map[crypto.Hash][]byte{
	crypto.SHA1:   {0x30, 0x21, 0x30, 0x09, 0x06, 0x05, 0x2b, 0x0e, 0x03, 0x02, 0x1a, 0x05, 0x00, 0x04, 0x14},
	crypto.SHA256: {0x30, 0x31, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x01, 0x05, 0x00, 0x04, 0x20},
	crypto.SHA384: {0x30, 0x41, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x02, 0x05, 0x00, 0x04, 0x30},
	crypto.SHA512: {0x30, 0x51, 0x30, 0x0d, 0x06, 0x09, 0x60, 0x86, 0x48, 0x01, 0x65, 0x03, 0x04, 0x02, 0x03, 0x05, 0x00, 0x04, 0x40},
}

type scheme int

const (
	pkcs1v15 scheme = iota
	pss
	ecdsa
)

// Signer signs the same precomputed SHA-256 digest on every iteration.
type Signer struct {
	benchmark.Base
	scheme scheme

	key       pkcs11.ObjectHandle
	data      []byte
	mechanism []*pkcs11.Mechanism
}

func newSigner(name, label string, vendor benchmark.Vendor, sc scheme) *Signer {
	return &Signer{
		Base:   benchmark.NewBase(name, label, token.PrivateKey, vendor),
		scheme: sc,
	}
}

// NewRSA returns the "rsa" benchmark, RSA PKCS #1 v1.5 signatures.
func NewRSA(label string, vendor benchmark.Vendor) *Signer {
	return newSigner("rsa", label, vendor, pkcs1v15)
}

// NewRSAPSS returns the "rsapss" benchmark.
func NewRSAPSS(label string, vendor benchmark.Vendor) *Signer {
	return newSigner("rsapss", label, vendor, pss)
}

// NewECDSA returns the "ecdsa" benchmark.
func NewECDSA(label string, vendor benchmark.Vendor) *Signer {
	return newSigner("ecdsa", label, vendor, ecdsa)
}

func (sg *Signer) Prepare(s *token.Session, t benchmark.Target) error {
	sg.key = t.Object
	digest := sha256.Sum256(sg.Payload)

	switch sg.scheme {
	case pkcs1v15:
		// The token does the padding with CKM_RSA_PKCS, but the DigestInfo
		// prefix is ours to add.
		prefix := hashPrefixes[crypto.SHA256]
		sg.data = make([]byte, 0, len(prefix)+len(digest))
		sg.data = append(sg.data, prefix...)
		sg.data = append(sg.data, digest[:]...)
		sg.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS, nil)}
	case pss:
		sg.data = digest[:]
		params := pkcs11.NewPSSParams(pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256, sha256.Size)
		sg.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_PSS, params)}
	case ecdsa:
		sg.data = digest[:]
		sg.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(pkcs11.CKM_ECDSA, nil)}
	}
	return nil
}

func (sg *Signer) Run(s *token.Session, tm *benchmark.Timer) error {
	if err := s.Ctx.SignInit(s.Handle, sg.mechanism, sg.key); err != nil {
		return err
	}
	_, err := s.Ctx.Sign(s.Handle, sg.data)
	return err
}

func (sg *Signer) Clone() benchmark.Variant {
	return &Signer{Base: sg.CloneBase(), scheme: sg.scheme}
}
