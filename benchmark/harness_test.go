package benchmark

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/cloudflare/p11bench/errors"
	"github.com/cloudflare/p11bench/token"
	"github.com/cloudflare/p11bench/token/tokentest"
	"github.com/jmhodges/clock"
	"github.com/miekg/pkcs11"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	tokenLabel = "bench"
	pin        = "1234"
)

// stubVariant costs a fixed time per Run on a fake clock, part of which is
// spent with the timer suspended.
type stubVariant struct {
	Base
	fc       clock.FakeClock
	cost     time.Duration
	excluded time.Duration
	maxSize  int

	failRunAt   int
	runErr      error
	prepareErr  error
	cleanupErr  error
	teardownErr error

	prepares, runs, cleanups, teardowns int
	target                              Target
}

func newStub(fc clock.FakeClock, class token.Class) *stubVariant {
	return &stubVariant{
		Base:    NewBase("stub", "key", class, Generic),
		fc:      fc,
		cost:    2 * time.Millisecond,
		maxSize: -1,
	}
}

func (v *stubVariant) IsPayloadSupported(size int) bool {
	return v.maxSize < 0 || size <= v.maxSize
}

func (v *stubVariant) Prepare(s *token.Session, t Target) error {
	v.prepares++
	v.target = t
	return v.prepareErr
}

func (v *stubVariant) Run(s *token.Session, tm *Timer) error {
	v.runs++
	if v.failRunAt > 0 && v.runs >= v.failRunAt {
		return v.runErr
	}
	tm.Suspend()
	v.fc.Add(v.excluded)
	tm.Resume()
	v.fc.Add(v.cost)
	return nil
}

func (v *stubVariant) Cleanup(s *token.Session) error {
	v.cleanups++
	return v.cleanupErr
}

func (v *stubVariant) Teardown(s *token.Session, t Target) error {
	v.teardowns++
	return v.teardownErr
}

func (v *stubVariant) Clone() Variant {
	c := *v
	c.Base = v.CloneBase()
	c.prepares, c.runs, c.cleanups, c.teardowns = 0, 0, 0, 0
	return &c
}

func TestExecuteOK(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	s := fake.Session(t)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	v.excluded = 5 * time.Millisecond

	okBefore := testutil.ToFloat64(outcomesTotal.WithLabelValues("stub", "ok"))
	res := Execute(v, Request{
		Session:     s,
		Payload:     make([]byte, 64),
		Iterations:  100,
		Skip:        10,
		ThreadIndex: NoThread,
		Clock:       fc,
	})

	require.Equal(t, OK(), res.Outcome)
	require.NoError(t, res.Teardown)
	assert.Equal(t, 110, res.Calls)
	require.Len(t, res.Samples, 100)
	for _, sample := range res.Samples {
		assert.Equal(t, 2*time.Millisecond, sample)
	}
	assert.Equal(t, 1, v.prepares)
	assert.Equal(t, 110, v.cleanups)
	assert.Equal(t, 1, v.teardowns)
	assert.Equal(t, 110, v.target.Iterations)
	assert.False(t, v.target.HasObject)
	assert.Len(t, v.Payload, 64)
	assert.Equal(t, okBefore+1, testutil.ToFloat64(outcomesTotal.WithLabelValues("stub", "ok")))
}

func TestExecuteCopiesPayload(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	payload := []byte{1, 2, 3}

	Execute(v, Request{Session: fake.Session(t), Payload: payload, Iterations: 1, ThreadIndex: NoThread, Clock: fc})
	payload[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, v.Payload)
}

func TestExecuteResolvesObject(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	s := fake.Session(t)
	h := fake.AddSecretKey("key-3", pkcs11.CKK_AES, 16)
	fc := clock.NewFake()
	v := newStub(fc, token.SecretKey)

	res := Execute(v, Request{Session: s, Iterations: 1, ThreadIndex: 3, Clock: fc})
	require.Equal(t, OK(), res.Outcome)
	assert.Equal(t, "key-3", res.Label)
	assert.True(t, v.target.HasObject)
	assert.Equal(t, h, v.target.Object)
	assert.Equal(t, 3, v.target.ThreadIndex)
}

func TestExecuteZeroThreadIndexIsWorkerZero(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	s := fake.Session(t)
	fake.AddSecretKey("key", pkcs11.CKK_AES, 16)
	h := fake.AddSecretKey("key-0", pkcs11.CKK_AES, 16)
	fc := clock.NewFake()
	v := newStub(fc, token.SecretKey)

	res := Execute(v, Request{Session: s, Iterations: 1, Clock: fc})
	require.Equal(t, OK(), res.Outcome)
	assert.Equal(t, "key-0", res.Label)
	assert.Equal(t, 0, res.ThreadIndex)
	assert.Equal(t, h, v.target.Object)

	v = newStub(fc, token.SecretKey)
	res = Execute(v, Request{Session: s, Iterations: 1, ThreadIndex: NoThread, Clock: fc})
	require.Equal(t, OK(), res.Outcome)
	assert.Equal(t, "key", res.Label)
	assert.NotEqual(t, h, v.target.Object)
}

func TestExecuteObjectNotFound(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fake.AddSecretKey("key", pkcs11.CKK_AES, 16)
	fc := clock.NewFake()
	v := newStub(fc, token.SecretKey)

	res := Execute(v, Request{Session: fake.Session(t), Iterations: 10, ThreadIndex: 0, Clock: fc})
	assert.Equal(t, NotFound("key-0"), res.Outcome)
	assert.Empty(t, res.Samples)
	assert.Equal(t, 0, v.prepares)
	assert.Equal(t, 0, v.teardowns)
}

func TestExecuteAmbiguousObject(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fake.AddSecretKey("key", pkcs11.CKK_AES, 16)
	fake.AddSecretKey("key", pkcs11.CKK_AES, 32)
	fc := clock.NewFake()
	v := newStub(fc, token.SecretKey)

	res := Execute(v, Request{Session: fake.Session(t), Iterations: 10, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, Ambiguous("key"), res.Outcome)
	assert.Equal(t, 0, v.prepares)
}

func TestExecutePayloadRejectedBeforePrepare(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	v.maxSize = 512

	res := Execute(v, Request{Session: fake.Session(t), Payload: make([]byte, 600), Iterations: 10, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, PayloadUnsupported(600), res.Outcome)
	assert.Equal(t, 0, v.prepares)
	assert.Equal(t, 0, v.runs)
	assert.Equal(t, 0, v.teardowns)
	assert.Equal(t, 0, res.Calls)
}

func TestExecuteRunErrorKeepsSamples(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	// Two warm-up calls, then five measured ones before the failure.
	v.failRunAt = 8
	v.runErr = pkcs11.Error(pkcs11.CKR_DEVICE_ERROR)

	res := Execute(v, Request{Session: fake.Session(t), Iterations: 100, Skip: 2, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, Transport(pkcs11.CKR_DEVICE_ERROR), res.Outcome)
	assert.Len(t, res.Samples, 5)
	assert.Equal(t, 8, res.Calls)
	assert.Equal(t, 1, v.teardowns)
	assert.NoError(t, res.Teardown)
}

func TestExecuteWarmUpError(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	v.failRunAt = 1
	v.runErr = pkcs11.Error(pkcs11.CKR_KEY_HANDLE_INVALID)

	res := Execute(v, Request{Session: fake.Session(t), Iterations: 10, Skip: 5, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, Transport(pkcs11.CKR_KEY_HANDLE_INVALID), res.Outcome)
	assert.Empty(t, res.Samples)
	assert.Equal(t, 1, v.teardowns)
}

func TestExecutePrepareErrorStillTearsDown(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	v.prepareErr = &PayloadSizeError{Size: 191}

	res := Execute(v, Request{Session: fake.Session(t), Payload: make([]byte, 191), Iterations: 10, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, PayloadUnsupported(191), res.Outcome)
	assert.Equal(t, 0, v.runs)
	assert.Equal(t, 1, v.teardowns)
}

func TestExecuteCleanupErrorAborts(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	v.cleanupErr = pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)

	res := Execute(v, Request{Session: fake.Session(t), Iterations: 10, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, Transport(pkcs11.CKR_OBJECT_HANDLE_INVALID), res.Outcome)
	// The sample of the iteration was taken before its cleanup failed.
	assert.Len(t, res.Samples, 1)
	assert.Equal(t, 1, v.teardowns)
}

func TestExecuteTeardownErrorReported(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	v.teardownErr = pkcs11.Error(pkcs11.CKR_OBJECT_HANDLE_INVALID)

	res := Execute(v, Request{Session: fake.Session(t), Iterations: 3, ThreadIndex: NoThread, Clock: fc})
	assert.Equal(t, OK(), res.Outcome)
	assert.Len(t, res.Samples, 3)
	require.Error(t, res.Teardown)

	var e *errors.Error
	require.True(t, stderrors.As(res.Teardown, &e))
	assert.Equal(t, errors.TeardownError, e.Category())
}

func TestExecuteTwiceIsIdempotent(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	s := fake.Session(t)
	fc := clock.NewFake()
	v := newStub(fc, token.None)
	req := Request{Session: s, Iterations: 20, Skip: 2, ThreadIndex: NoThread, Clock: fc}

	first := Execute(v.Clone(), req)
	count := fake.ObjectCount()
	second := Execute(v.Clone(), req)
	assert.Equal(t, first.Samples, second.Samples)
	assert.Equal(t, count, fake.ObjectCount())
}

func TestRunThreads(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	for _, label := range []string{"key-0", "key-1", "key-2"} {
		fake.AddSecretKey(label, pkcs11.CKK_AES, 16)
	}
	tk, err := token.Attach(fake, tokenLabel, pin, clock.NewFake())
	require.NoError(t, err)
	pool, err := token.NewPool(tk, 3)
	require.NoError(t, err)
	defer pool.Destroy()

	proto := newStub(nil, token.SecretKey)
	results := RunThreads(context.Background(), pool, &clockedStub{proto}, Request{Iterations: 5, Skip: 1})
	require.Len(t, results, 3)
	for i, res := range results {
		assert.Equal(t, i, res.ThreadIndex)
		assert.Equal(t, ThreadedLabel("key", i), res.Label)
		assert.Equal(t, OK(), res.Outcome)
		assert.Len(t, res.Samples, 5)
	}
	// The prototype itself is never run.
	assert.Equal(t, 0, proto.runs)
}

func TestRunThreadsCancelled(t *testing.T) {
	fake := tokentest.New(tokenLabel, pin)
	tk, err := token.Attach(fake, tokenLabel, pin, clock.NewFake())
	require.NoError(t, err)
	pool, err := token.NewPool(tk, 2)
	require.NoError(t, err)
	defer pool.Destroy()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	results := RunThreads(ctx, pool, &clockedStub{newStub(nil, token.None)}, Request{Iterations: 5})
	for _, res := range results {
		assert.Equal(t, Transport(pkcs11.CKR_FUNCTION_CANCELED), res.Outcome)
		assert.Empty(t, res.Samples)
	}
}

// clockedStub gives each clone its own fake clock, so concurrent workers
// never share one.
type clockedStub struct {
	*stubVariant
}

func (v *clockedStub) Clone() Variant {
	c := v.stubVariant.Clone().(*stubVariant)
	c.fc = clock.NewFake()
	return &clockedStub{c}
}

func TestThreadedLabel(t *testing.T) {
	assert.Equal(t, "rsa-2048", ThreadedLabel("rsa-2048", NoThread))
	assert.Equal(t, "rsa-2048-0", ThreadedLabel("rsa-2048", 0))
	assert.Equal(t, "rsa-2048-12", ThreadedLabel("rsa-2048", 12))
	assert.Equal(t, "", ThreadedLabel("", 3))
}

func TestParseVendor(t *testing.T) {
	v, err := ParseVendor("")
	require.NoError(t, err)
	assert.Equal(t, Generic, v)
	v, err = ParseVendor("Luna")
	require.NoError(t, err)
	assert.Equal(t, Luna, v)
	_, err = ParseVendor("acme")
	assert.Error(t, err)
}

func TestBaseClone(t *testing.T) {
	b := NewBase("aescbc", "aes-128", token.SecretKey, Luna)
	b.SetPayload([]byte{1, 2})
	c := b.CloneBase()
	c.Payload[0] = 7
	assert.Equal(t, byte(1), b.Payload[0])
	assert.Equal(t, Luna, c.Vendor)
	assert.Equal(t, "aes-128", c.Label())
}
