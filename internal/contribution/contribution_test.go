package contribution

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateDeterministic(t *testing.T) {
	g, err := NewGenerator("device-1")
	require.NoError(t, err)

	a := g.Generate("call-1@10.0.0.1")
	assert.Len(t, a, 2*Size)
	assert.Equal(t, a, g.Generate("call-1@10.0.0.1"))
	assert.NotEqual(t, a, g.Generate("call-2@10.0.0.1"))

	other, err := NewGenerator("device-2")
	require.NoError(t, err)
	assert.NotEqual(t, a, other.Generate("call-1@10.0.0.1"))
}

func TestGenerateMatchesHMAC(t *testing.T) {
	g, err := NewGenerator("secret")
	require.NoError(t, err)

	key := sha1.Sum([]byte("secret"))
	mac := hmac.New(sha1.New, key[:])
	mac.Write([]byte("abc"))
	assert.Equal(t, hex.EncodeToString(mac.Sum(nil)[:16]), g.Generate("abc"))
}

func TestEmptyDeviceID(t *testing.T) {
	_, err := NewGenerator("")
	assert.Error(t, err)
}
