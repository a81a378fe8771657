// Package cipher benchmarks single-shot symmetric encryption: AES in CBC, ECB
// and GCM modes and triple-DES in CBC and ECB modes.
package cipher

import (
	"crypto/rand"

	"github.com/ThalesIgnite/crypto11"
	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

type mode int

const (
	cbc mode = iota
	ecb
	gcm
)

const (
	gcmIVLen     = 12
	lunaGCMIVLen = 16
	gcmTagBits   = 128
)

// Cipher encrypts the payload with a secret key on every iteration. The IV,
// when the mode has one, is drawn once in Prepare and reused.
type Cipher struct {
	benchmark.Base
	mode      mode
	mech      uint
	blockSize int

	key       pkcs11.ObjectHandle
	iv        []byte
	gcmParams *pkcs11.GCMParams
	mechanism []*pkcs11.Mechanism
}

func newCipher(name, label string, vendor benchmark.Vendor, m mode, mech uint, blockSize int) *Cipher {
	return &Cipher{
		Base:      benchmark.NewBase(name, label, token.SecretKey, vendor),
		mode:      m,
		mech:      mech,
		blockSize: blockSize,
	}
}

// NewAESCBC returns the "aescbc" benchmark.
func NewAESCBC(label string, vendor benchmark.Vendor) *Cipher {
	return newCipher("aescbc", label, vendor, cbc, crypto11.CipherAES.CBCMech, crypto11.CipherAES.BlockSize)
}

// NewAESECB returns the "aesecb" benchmark.
func NewAESECB(label string, vendor benchmark.Vendor) *Cipher {
	return newCipher("aesecb", label, vendor, ecb, crypto11.CipherAES.ECBMech, crypto11.CipherAES.BlockSize)
}

// NewAESGCM returns the "aesgcm" benchmark.
func NewAESGCM(label string, vendor benchmark.Vendor) *Cipher {
	return newCipher("aesgcm", label, vendor, gcm, crypto11.CipherAES.GCMMech, crypto11.CipherAES.BlockSize)
}

// NewDES3CBC returns the "des3cbc" benchmark.
func NewDES3CBC(label string, vendor benchmark.Vendor) *Cipher {
	return newCipher("des3cbc", label, vendor, cbc, crypto11.CipherDES3.CBCMech, crypto11.CipherDES3.BlockSize)
}

// NewDES3ECB returns the "des3ecb" benchmark.
func NewDES3ECB(label string, vendor benchmark.Vendor) *Cipher {
	return newCipher("des3ecb", label, vendor, ecb, crypto11.CipherDES3.ECBMech, crypto11.CipherDES3.BlockSize)
}

// IsPayloadSupported accepts whole blocks in CBC and ECB modes and any size
// in GCM mode.
func (c *Cipher) IsPayloadSupported(size int) bool {
	if c.mode == gcm {
		return size >= 0
	}
	return size%c.blockSize == 0
}

func (c *Cipher) Prepare(s *token.Session, t benchmark.Target) error {
	c.key = t.Object

	switch c.mode {
	case cbc:
		c.iv = make([]byte, c.blockSize)
		if _, err := rand.Read(c.iv); err != nil {
			return err
		}
		c.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(c.mech, c.iv)}
	case ecb:
		c.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(c.mech, nil)}
	case gcm:
		if c.Vendor == benchmark.Luna {
			// The firmware generates the IV itself and writes it back into
			// a buffer of its own size.
			c.iv = make([]byte, lunaGCMIVLen)
		} else {
			c.iv = make([]byte, gcmIVLen)
			if _, err := rand.Read(c.iv); err != nil {
				return err
			}
		}
		c.gcmParams = pkcs11.NewGCMParams(c.iv, nil, gcmTagBits)
		c.mechanism = []*pkcs11.Mechanism{pkcs11.NewMechanism(c.mech, c.gcmParams)}
	}
	return nil
}

func (c *Cipher) Run(s *token.Session, tm *benchmark.Timer) error {
	if err := s.Ctx.EncryptInit(s.Handle, c.mechanism, c.key); err != nil {
		return err
	}
	_, err := s.Ctx.Encrypt(s.Handle, c.Payload)
	return err
}

func (c *Cipher) Teardown(s *token.Session, t benchmark.Target) error {
	if c.gcmParams != nil {
		c.gcmParams.Free()
		c.gcmParams = nil
	}
	c.mechanism = nil
	return nil
}

func (c *Cipher) Clone() benchmark.Variant {
	return &Cipher{
		Base:      c.CloneBase(),
		mode:      c.mode,
		mech:      c.mech,
		blockSize: c.blockSize,
	}
}
