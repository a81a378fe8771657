// Package token is the thin layer between the benchmarks and a PKCS #11
// module: it loads the module, opens and logs in sessions on the token with
// a given label, and offers the few object helpers the benchmarks share.
// See http://docs.oasis-open.org/pkcs11/pkcs11-base/v2.40/pkcs11-base-v2.40.html
// for details of the Cryptoki PKCS#11 API.
package token

import (
	"github.com/miekg/pkcs11"
)

// Ctx defines the subset of pkcs11.Ctx's methods that we use, so we can inject
// a different Ctx for testing.
type Ctx interface {
	Initialize() error
	Finalize() error
	GetSlotList(tokenPresent bool) ([]uint, error)
	GetTokenInfo(slotID uint) (pkcs11.TokenInfo, error)
	OpenSession(slotID uint, flags uint) (pkcs11.SessionHandle, error)
	CloseSession(sh pkcs11.SessionHandle) error
	Login(sh pkcs11.SessionHandle, userType uint, pin string) error
	Logout(sh pkcs11.SessionHandle) error

	FindObjectsInit(sh pkcs11.SessionHandle, temp []*pkcs11.Attribute) error
	FindObjects(sh pkcs11.SessionHandle, max int) ([]pkcs11.ObjectHandle, bool, error)
	FindObjectsFinal(sh pkcs11.SessionHandle) error
	GetAttributeValue(sh pkcs11.SessionHandle, o pkcs11.ObjectHandle, a []*pkcs11.Attribute) ([]*pkcs11.Attribute, error)

	EncryptInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Encrypt(sh pkcs11.SessionHandle, message []byte) ([]byte, error)
	SignInit(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, o pkcs11.ObjectHandle) error
	Sign(sh pkcs11.SessionHandle, message []byte) ([]byte, error)

	GenerateKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, temp []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	WrapKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, wrappingkey, key pkcs11.ObjectHandle) ([]byte, error)
	UnwrapKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, unwrappingkey pkcs11.ObjectHandle, wrappedkey []byte, a []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	DeriveKey(sh pkcs11.SessionHandle, m []*pkcs11.Mechanism, basekey pkcs11.ObjectHandle, a []*pkcs11.Attribute) (pkcs11.ObjectHandle, error)
	DestroyObject(sh pkcs11.SessionHandle, oh pkcs11.ObjectHandle) error

	SeedRandom(sh pkcs11.SessionHandle, seed []byte) error
	GenerateRandom(sh pkcs11.SessionHandle, length int) ([]byte, error)
}

// Session is one logged-in PKCS#11 session. A Session is used by a single
// benchmark worker at a time.
type Session struct {
	Ctx    Ctx
	Handle pkcs11.SessionHandle
}

// Class is the class of object (CKA_CLASS) a benchmark operates on.
type Class uint

// Object classes used by the benchmarks. None means the benchmark does not
// need an existing object.
const (
	SecretKey  = Class(pkcs11.CKO_SECRET_KEY)
	PublicKey  = Class(pkcs11.CKO_PUBLIC_KEY)
	PrivateKey = Class(pkcs11.CKO_PRIVATE_KEY)
	None       = ^Class(0)
)

func (c Class) String() string {
	switch c {
	case SecretKey:
		return "secret key"
	case PublicKey:
		return "public key"
	case PrivateKey:
		return "private key"
	case None:
		return "none"
	}
	return "unknown"
}
