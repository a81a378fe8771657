// Package registry names the benchmarks and the keys they run against.
//
// A key size names a key on the token by label and tells which family it
// belongs to. Each test accepts the key sizes of one family, or needs no key
// at all.
package registry

import (
	"fmt"
	"sort"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/cipher"
	"github.com/cloudflare/p11bench/derive"
	"github.com/cloudflare/p11bench/errors"
	"github.com/cloudflare/p11bench/mac"
	"github.com/cloudflare/p11bench/oaep"
	"github.com/cloudflare/p11bench/random"
	"github.com/cloudflare/p11bench/search"
	"github.com/cloudflare/p11bench/sign"
)

// Family is a kind of key.
type Family int

// Key families.
const (
	Keyless Family = iota
	AES
	DES3
	RSA
	EC
	HMAC
	XOR
)

var familyNames = map[Family]string{
	Keyless: "none",
	AES:     "aes",
	DES3:    "des3",
	RSA:     "rsa",
	EC:      "ec",
	HMAC:    "hmac",
	XOR:     "xor",
}

func (f Family) String() string {
	return familyNames[f]
}

// KeySize names a key on the token.
type KeySize struct {
	Name   string
	Label  string
	Family Family
}

var keySizes = []KeySize{
	{"aes128", "aes-128", AES},
	{"aes192", "aes-192", AES},
	{"aes256", "aes-256", AES},
	{"des3", "des3", DES3},
	{"rsa2048", "rsa-2048", RSA},
	{"rsa3072", "rsa-3072", RSA},
	{"rsa4096", "rsa-4096", RSA},
	{"p256", "ecc-p256", EC},
	{"p384", "ecc-p384", EC},
	{"p521", "ecc-p521", EC},
	{"hmac160", "hmac-160", HMAC},
	{"hmac256", "hmac-256", HMAC},
	{"hmac512", "hmac-512", HMAC},
	{"xor128", "xor-128", XOR},
}

// Options are passed to every constructor.
type Options struct {
	Vendor benchmark.Vendor
	// MaxObjects bounds the corpus of the object search.
	MaxObjects int
}

// Test is a benchmark that can be asked for by name.
type Test struct {
	Name        string
	Description string
	Family      Family
	New         func(label string, o Options) benchmark.Variant
}

// findLabel prefixes the labels of the object search corpus.
const findLabel = "p11bench-find"

var tests = map[string]Test{}

func register(name, description string, family Family, f func(label string, o Options) benchmark.Variant) {
	tests[name] = Test{Name: name, Description: description, Family: family, New: f}
}

func init() {
	register("aescbc", "AES-CBC encryption", AES, func(l string, o Options) benchmark.Variant { return cipher.NewAESCBC(l, o.Vendor) })
	register("aesecb", "AES-ECB encryption", AES, func(l string, o Options) benchmark.Variant { return cipher.NewAESECB(l, o.Vendor) })
	register("aesgcm", "AES-GCM encryption", AES, func(l string, o Options) benchmark.Variant { return cipher.NewAESGCM(l, o.Vendor) })
	register("des3cbc", "DES3-CBC encryption", DES3, func(l string, o Options) benchmark.Variant { return cipher.NewDES3CBC(l, o.Vendor) })
	register("des3ecb", "DES3-ECB encryption", DES3, func(l string, o Options) benchmark.Variant { return cipher.NewDES3ECB(l, o.Vendor) })
	register("hmacsha1", "HMAC-SHA1", HMAC, func(l string, o Options) benchmark.Variant { return mac.NewSHA1(l, o.Vendor) })
	register("hmacsha256", "HMAC-SHA256", HMAC, func(l string, o Options) benchmark.Variant { return mac.NewSHA256(l, o.Vendor) })
	register("hmacsha512", "HMAC-SHA512", HMAC, func(l string, o Options) benchmark.Variant { return mac.NewSHA512(l, o.Vendor) })
	register("rsa", "RSA PKCS#1 v1.5 signature", RSA, func(l string, o Options) benchmark.Variant { return sign.NewRSA(l, o.Vendor) })
	register("rsapss", "RSA-PSS signature", RSA, func(l string, o Options) benchmark.Variant { return sign.NewRSAPSS(l, o.Vendor) })
	register("ecdsa", "ECDSA signature", EC, func(l string, o Options) benchmark.Variant { return sign.NewECDSA(l, o.Vendor) })
	register("oaep", "RSA-OAEP encryption with SHA1", RSA, func(l string, o Options) benchmark.Variant { return oaep.NewEncrypt(l, o.Vendor, oaep.SHA1) })
	register("oaepsha256", "RSA-OAEP encryption with SHA256", RSA, func(l string, o Options) benchmark.Variant { return oaep.NewEncrypt(l, o.Vendor, oaep.SHA256) })
	register("oaepunw", "RSA-OAEP key unwrapping with SHA1", RSA, func(l string, o Options) benchmark.Variant { return oaep.NewUnwrap(l, o.Vendor, oaep.SHA1) })
	register("oaepunwsha256", "RSA-OAEP key unwrapping with SHA256", RSA, func(l string, o Options) benchmark.Variant { return oaep.NewUnwrap(l, o.Vendor, oaep.SHA256) })
	register("ecdh", "ECDH key derivation", EC, func(l string, o Options) benchmark.Variant { return derive.NewECDH(l, o.Vendor) })
	register("xorder", "XOR key derivation", XOR, func(l string, o Options) benchmark.Variant { return derive.NewXOR(l, o.Vendor) })
	register("rand", "random number generation", Keyless, func(l string, o Options) benchmark.Variant { return random.NewGenerate(o.Vendor) })
	register("seed", "random generator seeding", Keyless, func(l string, o Options) benchmark.Variant { return random.NewSeed(o.Vendor) })
	register("findobjects", "object search", Keyless, func(l string, o Options) benchmark.Variant {
		max := o.MaxObjects
		if max == 0 {
			max = search.DefaultMaxObjects
		}
		return search.NewFindObjects(findLabel, o.Vendor, max)
	})
}

// Tests returns every test, sorted by name.
func Tests() []Test {
	var all []Test
	for _, t := range tests {
		all = append(all, t)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].Name < all[j].Name })
	return all
}

// KeySizes returns every key size.
func KeySizes() []KeySize {
	return append([]KeySize(nil), keySizes...)
}

// LookupTest returns the test called name.
func LookupTest(name string) (Test, error) {
	t, ok := tests[name]
	if !ok {
		return Test{}, errors.New(errors.ConfigurationError, errors.InvalidConfig, fmt.Errorf("unknown test '%s'", name))
	}
	return t, nil
}

// LookupKeySize returns the key size called name.
func LookupKeySize(name string) (KeySize, error) {
	for _, k := range keySizes {
		if k.Name == name {
			return k, nil
		}
	}
	return KeySize{}, errors.New(errors.ConfigurationError, errors.InvalidConfig, fmt.Errorf("unknown key size '%s'", name))
}

// Variants returns one variant per test and key size of the test's family.
// Tests that need no key give a single variant. Tests with no key size of
// their family are skipped. An empty list of tests means all of them, an
// empty list of key sizes all of them.
func Variants(testNames, keySizeNames []string, o Options) ([]benchmark.Variant, error) {
	var selected []Test
	if len(testNames) == 0 {
		selected = Tests()
	}
	for _, name := range testNames {
		t, err := LookupTest(name)
		if err != nil {
			return nil, err
		}
		selected = append(selected, t)
	}

	var sizes []KeySize
	if len(keySizeNames) == 0 {
		sizes = KeySizes()
	}
	for _, name := range keySizeNames {
		k, err := LookupKeySize(name)
		if err != nil {
			return nil, err
		}
		sizes = append(sizes, k)
	}

	var variants []benchmark.Variant
	for _, t := range selected {
		if t.Family == Keyless {
			variants = append(variants, t.New("", o))
			continue
		}
		for _, k := range sizes {
			if k.Family == t.Family {
				variants = append(variants, t.New(k.Label, o))
			}
		}
	}
	return variants, nil
}
