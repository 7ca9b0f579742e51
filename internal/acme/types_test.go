package acme

import (
	"crypto/ecdsa"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-acme/lego/v4/certcrypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChallengeValidation(t *testing.T) {
	ch := Challenge{Type: ChallengeTypeDNS01, Token: "token"}

	assert.Equal(t, "_acme-challenge.example.com", ch.ValidationDomainName("example.com."))
	// RFC 8555 8.4: base64url(sha256(keyAuthorization))，无填充
	assert.Equal(t, "BBQUgcxf5weD7GT5jGRqmNsvAZXUWBoqPngIzDdoBFs", ch.Validation("token.key"))
	assert.NotContains(t, ch.Validation("anything"), "=")
}

func TestDNSChallenges(t *testing.T) {
	authz := Authorization{Challenges: []Challenge{
		{Type: "http-01", URL: "h"},
		{Type: "dns-01", URL: "d"},
		{Type: "tls-alpn-01", URL: "t"},
	}}

	got := authz.DNSChallenges()
	require.Len(t, got, 1)
	assert.Equal(t, "d", got[0].URL)
}

func TestFullChain(t *testing.T) {
	c := &Certificate{Certificate: []byte("LEAF"), IssuerCertificate: []byte("ISSUER\n")}
	assert.Equal(t, "LEAF\nISSUER\n", string(c.FullChain()))

	c = &Certificate{Certificate: []byte("LEAF\n")}
	assert.Equal(t, "LEAF\n", string(c.FullChain()))
}

func TestLoadAccountKey(t *testing.T) {
	key, err := LoadAccountKey("")
	require.NoError(t, err)
	assert.IsType(t, &ecdsa.PrivateKey{}, key)

	dir := t.TempDir()
	key, err = LoadAccountKey(filepath.Join(dir, "missing.pem"))
	require.NoError(t, err)
	require.NotNil(t, key)

	path := filepath.Join(dir, "account.pem")
	require.NoError(t, os.WriteFile(path, certcrypto.PEMEncode(key), 0o600))
	loaded, err := LoadAccountKey(path)
	require.NoError(t, err)
	assert.True(t, key.(*ecdsa.PrivateKey).Equal(loaded))

	require.NoError(t, os.WriteFile(path, []byte("garbage"), 0o600))
	_, err = LoadAccountKey(path)
	assert.Error(t, err)
}

func TestParseKeyType(t *testing.T) {
	kt, err := ParseKeyType("")
	require.NoError(t, err)
	assert.Equal(t, certcrypto.RSA2048, kt)

	kt, err = ParseKeyType("EC256")
	require.NoError(t, err)
	assert.Equal(t, certcrypto.EC256, kt)

	_, err = ParseKeyType("dsa")
	assert.Error(t, err)
}
