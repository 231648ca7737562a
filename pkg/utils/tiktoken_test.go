package utils

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenCounter_CountTokens(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	count := counter.CountTokens("Hello, world!")
	assert.Greater(t, count, 0)
	assert.Less(t, count, 10)

	assert.Equal(t, 0, counter.CountTokens(""))
}

func TestTokenCounter_FallbackWithoutCodec(t *testing.T) {
	counter := &TokenCounter{}

	text := strings.Repeat("a", 400)
	assert.Equal(t, 100, counter.CountTokens(text))
}

func TestCountTokensSimple(t *testing.T) {
	count := CountTokensSimple("The quick brown fox jumps over the lazy dog")
	assert.Greater(t, count, 5)
}

func TestTokenCounter_ValidateTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	assert.True(t, counter.ValidateTokenLimit("short text", 100))
	assert.False(t, counter.ValidateTokenLimit(strings.Repeat("word ", 500), 10))
}

func TestTokenCounter_TruncateToTokenLimit(t *testing.T) {
	counter, err := NewTokenCounter("gpt-4")
	require.NoError(t, err)

	short := "already short"
	assert.Equal(t, short, counter.TruncateToTokenLimit(short, 100))

	long := strings.Repeat("some repeated text ", 200)
	truncated := counter.TruncateToTokenLimit(long, 50)
	assert.Less(t, len(truncated), len(long))
	assert.True(t, strings.HasSuffix(truncated, "..."))
}
