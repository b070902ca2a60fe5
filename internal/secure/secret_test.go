package secure

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewResolvedSecret_RoundTripsPlaintext(t *testing.T) {
	s, err := NewResolvedSecret([]byte("super-secret-data"))
	require.NoError(t, err)
	defer s.Destroy()

	var got string
	require.NoError(t, s.Use(func(plaintext []byte) error {
		got = string(plaintext)
		return nil
	}))
	assert.Equal(t, "super-secret-data", got)
}

func TestNewResolvedSecret_HandlesEmptyAndBinaryData(t *testing.T) {
	for _, data := range [][]byte{{}, {0x00, 0xFF, 0x10, 0x20}} {
		s, err := NewResolvedSecret(data)
		require.NoError(t, err)
		require.NoError(t, s.Use(func(plaintext []byte) error {
			assert.Equal(t, data, plaintext)
			return nil
		}))
		s.Destroy()
	}
}

func TestUse_ReturnsSameValueAcrossMultipleCalls(t *testing.T) {
	s, err := NewResolvedSecret([]byte("test-secret"))
	require.NoError(t, err)
	defer s.Destroy()

	for i := 0; i < 3; i++ {
		require.NoError(t, s.Use(func(plaintext []byte) error {
			assert.Equal(t, "test-secret", string(plaintext))
			return nil
		}))
	}
}

func TestDestroy_IsIdempotent(t *testing.T) {
	s, err := NewResolvedSecret([]byte("secret-to-destroy"))
	require.NoError(t, err)
	assert.NotPanics(t, func() {
		s.Destroy()
		s.Destroy()
	})
}

func TestUse_AfterDestroySeesNoPlaintext(t *testing.T) {
	s, err := NewResolvedSecret([]byte("sensitive-data-to-wipe"))
	require.NoError(t, err)
	s.Destroy()

	require.NoError(t, s.Use(func(plaintext []byte) error {
		assert.Empty(t, plaintext, "a destroyed secret must not expose its plaintext")
		return nil
	}))
}

func TestFingerprint_IsStableAndDoesNotLeakPlaintext(t *testing.T) {
	a, err := NewResolvedSecret([]byte("p4ss"))
	require.NoError(t, err)
	defer a.Destroy()
	b, err := NewResolvedSecret([]byte("p4ss"))
	require.NoError(t, err)
	defer b.Destroy()
	c, err := NewResolvedSecret([]byte("different"))
	require.NoError(t, err)
	defer c.Destroy()

	assert.Equal(t, a.Fingerprint(), b.Fingerprint(), "identical plaintext must fingerprint identically")
	assert.NotEqual(t, a.Fingerprint(), c.Fingerprint())
	assert.NotContains(t, a.Fingerprint(), "p4ss")
}

func TestUse_ConcurrentCallsAllSeePlaintext(t *testing.T) {
	s, err := NewResolvedSecret([]byte("concurrent-secret"))
	require.NoError(t, err)
	defer s.Destroy()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, s.Use(func(plaintext []byte) error {
				assert.Equal(t, "concurrent-secret", string(plaintext))
				return nil
			}))
		}()
	}
	wg.Wait()
}
