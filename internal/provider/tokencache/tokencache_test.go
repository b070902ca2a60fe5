package tokencache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCache_EmptyByDefault(t *testing.T) {
	c := New()
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_SetThenGetReturnsToken(t *testing.T) {
	c := New()
	c.Set("tok", time.Minute)

	tok, ok := c.Get()
	assert.True(t, ok)
	assert.Equal(t, "tok", tok)
}

func TestCache_ExpiresAfterTTL(t *testing.T) {
	c := New()
	c.Set("tok", time.Millisecond)

	time.Sleep(10 * time.Millisecond)
	_, ok := c.Get()
	assert.False(t, ok)
}

func TestCache_TTLShorterThanRenewBufferIsNotReducedBelowItself(t *testing.T) {
	c := New()
	c.Set("tok", time.Second) // shorter than renewBuffer's 5s, so left untouched

	tok, ok := c.Get()
	assert.True(t, ok, "a TTL shorter than the renew buffer must not be reduced below zero")
	assert.Equal(t, "tok", tok)
}

func TestCache_ClearDiscardsToken(t *testing.T) {
	c := New()
	c.Set("tok", time.Minute)
	c.Clear()

	_, ok := c.Get()
	assert.False(t, ok)
}
