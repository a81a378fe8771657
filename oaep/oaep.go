// Package oaep benchmarks RSA-OAEP: encryption with a public key, and
// unwrapping of AES keys with a private key.
package oaep

import (
	"crypto"
	_ "crypto/sha1" // for crypto.SHA1
	_ "crypto/sha256"

	"github.com/miekg/pkcs11"
)

// Hash selects the OAEP hash and mask generation function.
type Hash int

// Supported OAEP hashes.
const (
	SHA1 Hash = iota
	SHA256
)

func (h Hash) params() (hashAlg, mgf uint) {
	if h == SHA256 {
		return pkcs11.CKM_SHA256, pkcs11.CKG_MGF1_SHA256
	}
	return pkcs11.CKM_SHA_1, pkcs11.CKG_MGF1_SHA1
}

// goHash returns the Go hash matching h.
func (h Hash) goHash() crypto.Hash {
	if h == SHA256 {
		return crypto.SHA256
	}
	return crypto.SHA1
}

// MaxPayload returns the largest message OAEP can carry with a modulus of
// modulusLen bytes: k - 2*hLen - 2.
func (h Hash) MaxPayload(modulusLen int) int {
	return modulusLen - 2*h.goHash().Size() - 2
}

func (h Hash) mechanism() *pkcs11.Mechanism {
	hashAlg, mgf := h.params()
	return pkcs11.NewMechanism(pkcs11.CKM_RSA_PKCS_OAEP, pkcs11.NewOAEPParams(hashAlg, mgf, pkcs11.CKZ_DATA_SPECIFIED, nil))
}
