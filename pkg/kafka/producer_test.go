package kafka

import (
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer()
	assert.EqualError(t, err, "brokers are required")
}

func TestNewProducerAppliesOptions(t *testing.T) {
	p, err := NewProducer(WithBrokers([]string{"localhost:9092"}), WithCompression("lz4"), WithAsync(true), WithMaxAttempts(5))
	require.NoError(t, err)
	defer p.Close()

	assert.Equal(t, "lz4", p.comp)
	assert.True(t, p.writer.Async)
	assert.Equal(t, 5, p.writer.MaxAttempts)
	assert.Equal(t, kafka.Lz4, p.writer.Compression)
}

func TestParseCompressionFallsBackToGzip(t *testing.T) {
	assert.Equal(t, kafka.Gzip, parseCompression("bogus"))
	assert.Equal(t, kafka.Zstd, parseCompression("zstd"))
}
