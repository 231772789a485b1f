package canon

import (
	"crypto/sha256"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashWithDomain(t *testing.T) {
	data := []byte(`{"a":1}`)

	h := sha256.New()
	h.Write([]byte(DomainTransaction))
	h.Write([]byte{0})
	h.Write(data)
	want := hex.EncodeToString(h.Sum(nil))

	assert.Equal(t, want, HashWithDomain(DomainTransaction, data))
	assert.Len(t, want, 64)
}

func TestHashWithDomainSeparatesDomains(t *testing.T) {
	data := []byte("payload")
	assert.NotEqual(t,
		HashWithDomain(DomainTransaction, data),
		HashWithDomain(DomainManifest, data))
}

func TestDigestIgnoresKeyOrder(t *testing.T) {
	a, err := Digest(DomainTransaction, map[string]any{"from": "A", "to": "B"})
	require.NoError(t, err)
	b, err := Digest(DomainTransaction, Object{"to": "B", "from": "A"})
	require.NoError(t, err)
	assert.Equal(t, a, b)

	_, err = Digest(DomainTransaction, map[string]any{"x": 1.5})
	require.Error(t, err)
}
