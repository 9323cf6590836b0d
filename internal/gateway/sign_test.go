// README: Verifier tests with a generated key and a local certificate server.
package gateway

import (
	"context"
	"crypto"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type signingFixture struct {
	key      *rsa.PrivateKey
	certURL  string
	verifier *Verifier
}

func newSigningFixture(t *testing.T) *signingFixture {
	t.Helper()

	key, err := rsa.GenerateKey(rand.Reader, 2048)
	require.NoError(t, err)

	template := x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "gateway notification signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, &template, &template, &key.PublicKey, key)
	require.NoError(t, err)
	certPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})

	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(certPEM)
	}))
	t.Cleanup(ts.Close)

	return &signingFixture{
		key:      key,
		certURL:  ts.URL + "/cert.pem",
		verifier: NewVerifier(ts.URL),
	}
}

// sign builds the detached compact JWS a provider would attach.
func (f *signingFixture) sign(t *testing.T, body []byte, x5u string) string {
	t.Helper()

	header, err := json.Marshal(map[string]string{"alg": "RS256", "x5u": x5u})
	require.NoError(t, err)

	protected := base64.RawURLEncoding.EncodeToString(header)
	signingInput := protected + "." + base64.RawURLEncoding.EncodeToString(body)
	digest := sha256.Sum256([]byte(signingInput))
	sig, err := rsa.SignPKCS1v15(rand.Reader, f.key, crypto.SHA256, digest[:])
	require.NoError(t, err)

	return protected + ".." + base64.RawURLEncoding.EncodeToString(sig)
}

func TestVerifyAcceptsValidSignature(t *testing.T) {
	f := newSigningFixture(t)
	body := []byte("tr_id=TR-1234&tr_status=TRUE")

	sig := f.sign(t, body, f.certURL)
	assert.NoError(t, f.verifier.Verify(context.Background(), body, sig))
}

func TestVerifyRejectsTamperedBody(t *testing.T) {
	f := newSigningFixture(t)
	body := []byte("tr_id=TR-1234&tr_status=TRUE")

	sig := f.sign(t, body, f.certURL)
	tampered := []byte("tr_id=TR-1234&tr_status=FALSE")
	err := f.verifier.Verify(context.Background(), tampered, sig)
	assert.ErrorIs(t, err, ErrBadSignature)
}

func TestVerifyRejectsUntrustedCertURL(t *testing.T) {
	f := newSigningFixture(t)
	body := []byte("tr_id=TR-1234&tr_status=TRUE")

	// Valid signature, but the certificate lives outside the pinned
	// prefix: it must never even be fetched.
	sig := f.sign(t, body, "https://evil.example/cert.pem")
	err := f.verifier.Verify(context.Background(), body, sig)
	assert.ErrorIs(t, err, ErrUntrustedCert)
}

func TestVerifyRejectsMalformedHeader(t *testing.T) {
	f := newSigningFixture(t)
	body := []byte("tr_id=TR-1234&tr_status=TRUE")

	for _, sig := range []string{
		"",
		"only-one-part",
		"a.b",                 // payload not detached
		"notb64!..c",          // protected header not base64url
		"YWJj..sig",           // header not JSON
	} {
		err := f.verifier.Verify(context.Background(), body, sig)
		assert.Error(t, err, "signature %q should be rejected", sig)
	}
}
