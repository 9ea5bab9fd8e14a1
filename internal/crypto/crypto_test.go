package crypto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeadersAtIsDeterministic(t *testing.T) {
	auth := &HMACAuth{Key: "key-1", Secret: "c2VjcmV0"} // base64("secret")

	a := auth.HeadersAt("POST", "/orders", `{"symbol":"BTC/USDT"}`, 1_700_000_000)
	b := auth.HeadersAt("POST", "/orders", `{"symbol":"BTC/USDT"}`, 1_700_000_000)
	assert.Equal(t, a, b)
	assert.Equal(t, "key-1", a["X-API-KEY"])
	assert.Equal(t, "1700000000", a["X-API-TIMESTAMP"])
	assert.NotEmpty(t, a["X-API-SIGNATURE"])

	// Changing any signed component changes the signature.
	c := auth.HeadersAt("POST", "/orders", `{"symbol":"ETH/USDT"}`, 1_700_000_000)
	assert.NotEqual(t, a["X-API-SIGNATURE"], c["X-API-SIGNATURE"])
}

func TestStringRedactsCredentials(t *testing.T) {
	auth := &HMACAuth{Key: "supersecretkey", Secret: "topsecretvalue"}
	s := auth.String()
	assert.NotContains(t, s, "supersecretkey")
	assert.NotContains(t, s, "topsecretvalue")
	assert.Contains(t, s, "supe****")
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("venue-api-secret", "hunter2")
	require.NoError(t, err)

	got, err := DecryptSecret(blob, "hunter2")
	require.NoError(t, err)
	assert.Equal(t, "venue-api-secret", got)

	_, err = DecryptSecret(blob, "wrong-password")
	assert.Error(t, err)
}

func TestLoadSecretPrefersRaw(t *testing.T) {
	got, err := LoadSecret(SecretConfig{RawSecret: "raw"})
	require.NoError(t, err)
	assert.Equal(t, "raw", got)

	_, err = LoadSecret(SecretConfig{})
	assert.Error(t, err)
}
