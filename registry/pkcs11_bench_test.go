//go:build pkcs11
// +build pkcs11

package registry

import (
	"flag"
	"testing"
	"time"

	"github.com/ThalesIgnite/crypto11"
	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token"
	"github.com/miekg/pkcs11"
)

var module = flag.String("module", "", "Path to PKCS11 module")
var tokenLabel = flag.String("tokenLabel", "", "Token label")
var pin = flag.String("pin", "", "PIN")

// sessionKeys are generated for the benchmark and vanish with the session.
var sessionKeys = []struct {
	size    string
	params  crypto11.SymmetricGenParams
	bits    int
	derive  bool
	signing bool
}{
	{"aes128", crypto11.CipherAES.GenParams[0], 128, false, false},
	{"aes256", crypto11.CipherAES.GenParams[0], 256, false, false},
	{"des3", crypto11.CipherDES3.GenParams[0], 0, false, false},
	{"hmac256", crypto11.CipherHMACSHA256.GenParams[len(crypto11.CipherHMACSHA256.GenParams)-1], 256, false, true},
	{"xor128", crypto11.CipherHMACSHA256.GenParams[len(crypto11.CipherHMACSHA256.GenParams)-1], 128, true, false},
}

func generateKeys(b *testing.B, s *token.Session) {
	for _, k := range sessionKeys {
		ks, err := LookupKeySize(k.size)
		if err != nil {
			b.Fatal(err)
		}
		template := token.SecretKeyTemplate(ks.Label, k.params.KeyType, k.bits/8)
		template = append(template,
			pkcs11.NewAttribute(pkcs11.CKA_SIGN, k.signing),
			pkcs11.NewAttribute(pkcs11.CKA_VERIFY, k.signing),
			pkcs11.NewAttribute(pkcs11.CKA_DERIVE, k.derive),
		)
		mech := []*pkcs11.Mechanism{pkcs11.NewMechanism(k.params.GenMech, nil)}
		if _, err := s.Ctx.GenerateKey(s.Handle, mech, template); err != nil {
			b.Fatalf("generate %s: %v", ks.Label, err)
		}
	}
}

// BenchmarkToken runs the symmetric, random and search benchmarks against a
// real token, on session keys it creates first. To run (with SoftHSM):
// go test -tags pkcs11 -bench=. ./registry/ \
//   -module /usr/lib/softhsm/libsofthsm2.so -tokenLabel "softhsm token" \
//   -pin 1234
func BenchmarkToken(b *testing.B) {
	if *module == "" || *tokenLabel == "" || *pin == "" {
		b.Fatal("Must pass all flags: module, tokenLabel and pin")
		return
	}

	tk, err := token.Open(*module, *tokenLabel, *pin)
	if err != nil {
		b.Fatal(err)
	}
	defer tk.Finalize()
	s, err := tk.NewSession()
	if err != nil {
		b.Fatal(err)
	}
	defer tk.CloseSession(s)
	generateKeys(b, s)

	tests := []string{"aescbc", "aesecb", "aesgcm", "des3cbc", "hmacsha256", "xorder", "rand", "findobjects"}
	variants, err := Variants(tests, []string{"aes128", "aes256", "des3", "hmac256", "xor128"}, Options{})
	if err != nil {
		b.Fatal(err)
	}
	for _, v := range variants {
		v := v
		b.Run(v.Name()+"/"+v.Label(), func(b *testing.B) {
			res := benchmark.Execute(v.Clone(), benchmark.Request{
				Session:     s,
				Payload:     make([]byte, 64),
				Iterations:  b.N,
				Skip:        10,
				ThreadIndex: benchmark.NoThread,
			})
			if res.Outcome.Kind() != benchmark.Ok {
				b.Fatalf("%s", res.Outcome)
			}
			if res.Teardown != nil {
				b.Error(res.Teardown)
			}
			var total time.Duration
			for _, d := range res.Samples {
				total += d
			}
			if len(res.Samples) > 0 {
				b.ReportMetric(float64(total)/float64(len(res.Samples)), "token-ns/op")
			}
		})
	}
}
