package run

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/cloudflare/p11bench/benchmark"
	"github.com/cloudflare/p11bench/cli"
	"github.com/cloudflare/p11bench/config"
	"github.com/cloudflare/p11bench/token"
	"github.com/cloudflare/p11bench/token/tokentest"
	"github.com/jmhodges/clock"
	"github.com/miekg/pkcs11"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPool(t *testing.T, fake *tokentest.Token, n int) *token.Pool {
	t.Helper()
	tk, err := token.Attach(fake, "bench", "1234", clock.NewFake())
	require.NoError(t, err)
	pool, err := token.NewPool(tk, n)
	require.NoError(t, err)
	t.Cleanup(func() { pool.Destroy() })
	return pool
}

func decode(t *testing.T, out *bytes.Buffer) []Report {
	t.Helper()
	var reports []Report
	dec := json.NewDecoder(out)
	for dec.More() {
		var r Report
		require.NoError(t, dec.Decode(&r))
		reports = append(reports, r)
	}
	return reports
}

func TestBench(t *testing.T) {
	fake := tokentest.New("bench", "1234")
	fake.AddSecretKey("aes-128", pkcs11.CKK_AES, 16)
	cfg := config.DefaultConfig()
	cfg.Tests = []string{"aescbc"}
	cfg.KeySizes = []string{"aes128", "aes256"}
	cfg.Payloads = []int{32, 20}
	cfg.Iterations = 5

	var out bytes.Buffer
	require.NoError(t, Bench(context.Background(), cfg, newPool(t, fake, 1), &out))
	reports := decode(t, &out)
	require.Len(t, reports, 4)

	assert.Equal(t, "aescbc", reports[0].Test)
	assert.Equal(t, "aes-128", reports[0].Label)
	assert.Equal(t, benchmark.NoThread, reports[0].Thread)
	assert.Equal(t, "ok", reports[0].Outcome)
	assert.Len(t, reports[0].Samples, 5)
	assert.Nil(t, reports[0].Error)

	assert.Equal(t, `payload_size_unsupported(20)`, reports[1].Outcome)
	require.NotNil(t, reports[1].Error)
	assert.Equal(t, 3100, reports[1].Error.ErrorCode)

	assert.Equal(t, `object_not_found("aes-256")`, reports[2].Outcome)
	require.NotNil(t, reports[2].Error)
	assert.Equal(t, 2100, reports[2].Error.ErrorCode)
}

func TestBenchThreads(t *testing.T) {
	fake := tokentest.New("bench", "1234")
	for _, label := range []string{"hmac-256-0", "hmac-256-1", "hmac-256-2"} {
		fake.AddSecretKey(label, pkcs11.CKK_GENERIC_SECRET, 32)
	}
	cfg := config.DefaultConfig()
	cfg.Tests = []string{"hmacsha256"}
	cfg.KeySizes = []string{"hmac256"}
	cfg.Iterations = 4
	cfg.Skip = 1

	var out bytes.Buffer
	require.NoError(t, Bench(context.Background(), cfg, newPool(t, fake, 3), &out))
	reports := decode(t, &out)
	require.Len(t, reports, 3)
	for i, r := range reports {
		assert.Equal(t, i, r.Thread)
		assert.Equal(t, "ok", r.Outcome)
		assert.Len(t, r.Samples, 4)
	}
	assert.Equal(t, 15, fake.Calls("Sign"))
}

func TestBenchCancelled(t *testing.T) {
	fake := tokentest.New("bench", "1234")
	cfg := config.DefaultConfig()
	cfg.Tests = []string{"rand"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	err := Bench(ctx, cfg, newPool(t, fake, 1), &out)
	assert.Equal(t, context.Canceled, err)
	assert.Zero(t, out.Len())
}

func TestNewReport(t *testing.T) {
	r := newReport(benchmark.Result{
		Name:        "rand",
		ThreadIndex: 2,
		Samples:     []time.Duration{1500 * time.Microsecond, 2 * time.Millisecond},
		Outcome:     benchmark.Transport(pkcs11.CKR_DEVICE_ERROR),
	}, 64)
	assert.Equal(t, []float64{1.5, 2}, r.Samples)
	require.NotNil(t, r.Error)
	assert.Equal(t, uint(pkcs11.CKR_DEVICE_ERROR), r.Error.TokenCode)
	assert.Equal(t, 64, r.Payload)
}

func TestRunMainInvalidConfig(t *testing.T) {
	cfg := config.DefaultConfig()
	assert.Error(t, runMain(nil, cli.Config{CFG: cfg}))
}
