package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimal = `
sources:
  - name: a
    url: http://localhost:9101/quote
    probe: {input: SOL, output: USDC}
`

func TestParseAppliesDefaults(t *testing.T) {
	c, err := Parse([]byte(minimal))
	require.NoError(t, err)

	assert.Equal(t, "development", c.Environment)
	assert.Equal(t, 8080, c.Server.Port)
	assert.Equal(t, 5, c.Breaker.FailureThreshold)
	assert.Equal(t, 30*time.Second, c.Breaker.ResetTimeout)
	assert.Equal(t, 3, c.Retry.MaxRetries)
	assert.True(t, c.Retry.Jitter)
	assert.Equal(t, 2*time.Second, c.QuoteCache.TTL)
	assert.Equal(t, 1500*time.Millisecond, c.QuoteCache.PredictionRefresh)
	assert.Equal(t, 0.1, c.Health.ErrorThreshold)
	assert.Equal(t, "swapquote.health", c.Kafka.HealthTopic)

	require.Len(t, c.Sources, 1)
	assert.True(t, c.Sources[0].Enabled)
	assert.Equal(t, "1", c.Sources[0].Probe.Amount)
}

func TestParseKeepsExplicitZeroValues(t *testing.T) {
	c, err := Parse([]byte(`
retry:
  max_retries: 0
  jitter: false
sources:
  - name: a
    url: http://localhost:9101/quote
    probe: {input: SOL, output: USDC}
    enabled: false
`))
	require.NoError(t, err)
	assert.Equal(t, 0, c.Retry.MaxRetries)
	assert.False(t, c.Retry.Jitter)
	assert.False(t, c.Sources[0].Enabled)
}

func TestParseRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"no sources": `environment: development`,
		"duplicate names": `
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL, output: USDC}}
  - {name: a, url: "http://y/q", probe: {input: SOL, output: USDC}}
`,
		"bad url": `
sources:
  - {name: a, url: "not a url", probe: {input: SOL, output: USDC}}
`,
		"half probe": `
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL}}
`,
		"no probe": `
sources:
  - {name: a, url: "http://x/q"}
`,
		"same probe assets": `
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL, output: SOL}}
`,
		"zero error threshold": `
health: {error_threshold: 0}
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL, output: USDC}}
`,
		"kafka without brokers": `
kafka: {enabled: true}
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL, output: USDC}}
`,
		"publish without kafka": `
health: {publish: true}
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL, output: USDC}}
`,
		"bad log level": `
log: {level: loud}
sources:
  - {name: a, url: "http://x/q", probe: {input: SOL, output: USDC}}
`,
	}
	for name, doc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			assert.Error(t, err)
		})
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(minimal), 0o600))

	t.Setenv("SWAPQUOTE_ENV", "staging")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	c, err := LoadWithEnv(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, "debug", c.Log.Level)
	assert.True(t, c.Redis.Enabled)
	assert.Equal(t, "redis:6379", c.Redis.Addr)
	assert.True(t, c.Kafka.Enabled)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, c.Kafka.Brokers)
}

func TestLoadSampleConfig(t *testing.T) {
	c, err := Load(filepath.Join("..", "..", "config", "config.yaml"))
	require.NoError(t, err)
	assert.Len(t, c.Sources, 2)
	assert.Equal(t, 200*time.Millisecond, c.Retry.InitialDelay)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
