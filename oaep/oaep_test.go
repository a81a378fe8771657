package oaep

import (
	"crypto/rand"
	"crypto/rsa"
	"testing"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/token/tokentest"
	"github.com/jmhodges/clock"
	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func addPublicKey(fake *tokentest.Token, label string, modulusLen int) pkcs11.ObjectHandle {
	modulus := make([]byte, modulusLen)
	modulus[0] = 0xc5
	return fake.AddObject(
		pkcs11.NewAttribute(pkcs11.CKA_CLASS, pkcs11.CKO_PUBLIC_KEY),
		pkcs11.NewAttribute(pkcs11.CKA_KEY_TYPE, pkcs11.CKK_RSA),
		pkcs11.NewAttribute(pkcs11.CKA_LABEL, label),
		pkcs11.NewAttribute(pkcs11.CKA_MODULUS, modulus),
	)
}

func TestMaxPayload(t *testing.T) {
	assert.Equal(t, 190, SHA256.MaxPayload(256))
	assert.Equal(t, 214, SHA1.MaxPayload(256))
}

func TestEncryptBoundKnownAfterPrepare(t *testing.T) {
	fake := tokentest.New("bench", "1234")
	s := fake.Session(t)
	h := addPublicKey(fake, "rsa-2048", 256)

	e := NewEncrypt("rsa-2048", benchmark.Generic, SHA256)
	// Optimistic until the modulus is known.
	assert.True(t, e.IsPayloadSupported(191))
	assert.True(t, e.IsPayloadSupported(4096))

	e.SetPayload(make([]byte, 190))
	require.NoError(t, e.Prepare(s, benchmark.Target{Object: h, HasObject: true}))
	assert.True(t, e.IsPayloadSupported(190))
	assert.False(t, e.IsPayloadSupported(191))
}

func TestEncryptRejectsInPrepare(t *testing.T) {
	fake := tokentest.New("bench", "1234")
	addPublicKey(fake, "rsa-2048", 256)

	res := benchmark.Execute(NewEncrypt("rsa-2048", benchmark.Generic, SHA256), benchmark.Request{
		Session:     fake.Session(t),
		Payload:     make([]byte, 191),
		Iterations:  10,
		ThreadIndex: benchmark.NoThread,
		Clock:       clock.NewFake(),
	})
	assert.Equal(t, benchmark.PayloadUnsupported(191), res.Outcome)
	assert.Equal(t, 0, fake.Calls("Encrypt"))
}

func TestEncrypt(t *testing.T) {
	fake := tokentest.New("bench", "1234")
	addPublicKey(fake, "rsa-2048", 256)

	res := benchmark.Execute(NewEncrypt("rsa-2048", benchmark.Generic, SHA1), benchmark.Request{
		Session:     fake.Session(t),
		Payload:     make([]byte, 214),
		Iterations:  10,
		Skip:        3,
		ThreadIndex: benchmark.NoThread,
		Clock:       clock.NewFake(),
	})
	require.Equal(t, benchmark.OK(), res.Outcome)
	assert.Len(t, res.Samples, 10)
	assert.Equal(t, 13, fake.Calls("Encrypt"))
	assert.Equal(t, uint(pkcs11.CKM_RSA_PKCS_OAEP), fake.Mechanisms("EncryptInit")[0].Mechanism)
}

func TestUnwrapPayloadSizes(t *testing.T) {
	u := NewUnwrap("rsa-2048", benchmark.Generic, SHA1)
	for size := 0; size <= 48; size++ {
		want := size == 16 || size == 24 || size == 32
		assert.Equal(t, want, u.IsPayloadSupported(size), "size %d", size)
	}
}

func TestUnwrapDestroysEveryKey(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	fake := tokentest.New("bench", "1234")
	fake.AddRSAKey("rsa-1024-0", priv)
	before := fake.ObjectCount()

	res := benchmark.Execute(NewUnwrap("rsa-1024", benchmark.Generic, SHA256), benchmark.Request{
		Session:     fake.Session(t),
		Payload:     make([]byte, 32),
		Iterations:  25,
		Skip:        5,
		ThreadIndex: 0,
		Clock:       clock.NewFake(),
	})
	require.Equal(t, benchmark.OK(), res.Outcome)
	require.NoError(t, res.Teardown)
	assert.Equal(t, 30, fake.Calls("UnwrapKey"))
	assert.Equal(t, 30, fake.Calls("DestroyObject"))
	assert.Equal(t, before, fake.ObjectCount())
}

func TestUnwrapFailureStillDestroys(t *testing.T) {
	priv, err := rsa.GenerateKey(rand.Reader, 1024)
	require.NoError(t, err)
	fake := tokentest.New("bench", "1234")
	fake.AddRSAKey("rsa-1024", priv)
	before := fake.ObjectCount()
	fake.FailAfter("DestroyObject", 3, pkcs11.Error(pkcs11.CKR_DEVICE_ERROR))

	res := benchmark.Execute(NewUnwrap("rsa-1024", benchmark.Generic, SHA1), benchmark.Request{
		Session:     fake.Session(t),
		Payload:     make([]byte, 16),
		Iterations:  10,
		ThreadIndex: benchmark.NoThread,
		Clock:       clock.NewFake(),
	})
	assert.Equal(t, benchmark.Transport(pkcs11.CKR_DEVICE_ERROR), res.Outcome)
	assert.Len(t, res.Samples, 4)
	// The key whose destruction failed is not retried by teardown.
	assert.Equal(t, before+1, fake.ObjectCount())
}
