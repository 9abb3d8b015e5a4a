package dtls

import (
	"testing"

	piondtls "github.com/pion/dtls/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCipherSuite(t *testing.T) {
	suite, err := ParseCipherSuite("aes128_sha256")
	require.NoError(t, err)
	assert.Equal(t, AES128_SHA256, suite)
	assert.Equal(t, piondtls.TLS_PSK_WITH_AES_128_CBC_SHA256, suite.ID())

	suite, err = ParseCipherSuite(" ECDHE_AES128_SHA256 ")
	require.NoError(t, err)
	assert.Equal(t, piondtls.TLS_ECDHE_PSK_WITH_AES_128_CBC_SHA256, suite.ID())

	_, err = ParseCipherSuite("RSA_AES128")
	require.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestCredentialsAreCopied(t *testing.T) {
	creds, err := NewCredentials("dev1", "s3cret", AES128_CCM8)
	require.NoError(t, err)

	id := creds.Identity()
	id[0] = 'X'
	secret := creds.Secret()
	secret[0] = 'X'

	assert.Equal(t, []byte("dev1"), creds.Identity())
	assert.Equal(t, []byte("s3cret"), creds.Secret())
	assert.Equal(t, "AES128_CCM8", creds.Suite().String())
}

func TestMaskKey(t *testing.T) {
	assert.Equal(t, "***", maskKey("dev1"))
	assert.Equal(t, "sens...-042", maskKey("sensor-node-042"))
}

func TestMaskedIdentity(t *testing.T) {
	short, err := NewCredentials("dev1", "s3cret", AES128_SHA256)
	require.NoError(t, err)
	assert.Equal(t, "***", short.MaskedIdentity())

	long, err := NewCredentials("sensor-node-042", "s3cret", AES128_SHA256)
	require.NoError(t, err)
	assert.Equal(t, "sens...-042", long.MaskedIdentity())
}
