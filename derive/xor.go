package derive

import (
	"unsafe"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

// xorData is the string XORed with the base key.
var xorData = []byte{
	0x00, 0xff, 0x00, 0xff, 0x00, 0xff, 0x00, 0xff,
	0x00, 0xff, 0x00, 0xff, 0x00, 0xff, 0x00, 0xff,
}

// ulongBytes returns n laid out as a CK_ULONG. Go's uint has the size of a C
// unsigned long on the platforms PKCS#11 modules ship for.
func ulongBytes(n uint) []byte {
	b := make([]byte, unsafe.Sizeof(n))
	*(*uint)(unsafe.Pointer(&b[0])) = n
	return b
}

func concat(slices ...[]byte) []byte {
	n := 0
	for _, slice := range slices {
		n += len(slice)
	}
	r := make([]byte, n)
	n = 0
	for _, slice := range slices {
		n += copy(r[n:], slice)
	}
	return r
}

// XOR derives a key by XORing a secret key with a fixed string.
type XOR struct {
	deriver
	// data is referenced by address from the mechanism parameter and must
	// live as long as the variant.
	data []byte
}

// NewXOR returns the "xorder" benchmark.
func NewXOR(label string, vendor benchmark.Vendor) *XOR {
	return &XOR{deriver: deriver{
		Base: benchmark.NewBase("xorder", label, token.SecretKey, vendor),
	}}
}

func (x *XOR) Prepare(s *token.Session, t benchmark.Target) error {
	x.data = append([]byte(nil), xorData...)
	// CK_KEY_DERIVATION_STRING_DATA: pointer to the data, then its length.
	params := concat(
		ulongBytes(uint(uintptr(unsafe.Pointer(&x.data[0])))),
		ulongBytes(uint(len(x.data))),
	)
	x.prepare(t, pkcs11.NewMechanism(pkcs11.CKM_XOR_BASE_AND_DATA, params))
	return nil
}

func (x *XOR) Clone() benchmark.Variant {
	return &XOR{deriver: deriver{Base: x.CloneBase()}}
}
