package derive

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// ECDH derives a key from an EC private key on the token and the public key
// of a peer generated in software, on the same curve.
type ECDH struct {
	deriver
	params *pkcs11.ECDH1DeriveParams
}

// NewECDH returns the "ecdh" benchmark.
func NewECDH(label string, vendor benchmark.Vendor) *ECDH {
	return &ECDH{deriver: deriver{
		Base: benchmark.NewBase("ecdh", label, token.PrivateKey, vendor),
	}}
}

func (e *ECDH) Prepare(s *token.Session, t benchmark.Target) error {
	curve, err := token.Curve(s, t.Object)
	if err != nil {
		return err
	}
	peer, err := ecdsa.GenerateKey(curve, rand.Reader)
	if err != nil {
		return fmt.Errorf("generate peer key: %w", err)
	}
	// The derived key is the raw shared secret truncated to its length.
	e.params = pkcs11.NewECDH1DeriveParams(pkcs11.CKD_NULL, nil, elliptic.Marshal(curve, peer.X, peer.Y))
	e.prepare(t, pkcs11.NewMechanism(pkcs11.CKM_ECDH1_DERIVE, e.params))
	return nil
}

func (e *ECDH) Clone() benchmark.Variant {
	return &ECDH{deriver: deriver{Base: e.CloneBase()}}
}
