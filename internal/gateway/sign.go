// README: Webhook notification verification: detached JWS over the raw body, certificate pinned to a trusted URL prefix.
package gateway

import (
	"context"
	"crypto"
	"crypto/rsa"
	"crypto/sha256"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"encoding/pem"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

var (
	ErrBadSignature  = errors.New("notification signature invalid")
	ErrUntrustedCert = errors.New("notification certificate from untrusted source")
)

// Verifier checks inbound notifications before any transaction state is
// touched. The signature header carries a detached compact JWS
// (protected..signature); the protected header's x5u names the signing
// certificate, which must live under the configured trusted prefix.
type Verifier struct {
	trustedPrefix string
	http          *http.Client
}

func NewVerifier(trustedPrefix string) *Verifier {
	return &Verifier{
		trustedPrefix: trustedPrefix,
		http:          &http.Client{Timeout: 10 * time.Second},
	}
}

type protectedHeader struct {
	Alg string `json:"alg"`
	X5U string `json:"x5u"`
}

// Verify returns nil only when the signature over the raw body checks
// out against the certificate named in the header.
func (v *Verifier) Verify(ctx context.Context, rawBody []byte, signatureHeader string) error {
	parts := strings.Split(signatureHeader, ".")
	if len(parts) != 3 || parts[1] != "" {
		return errors.Wrap(ErrBadSignature, "malformed detached JWS")
	}

	headerRaw, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return errors.Wrap(ErrBadSignature, "protected header not base64url")
	}
	var hdr protectedHeader
	if err := json.Unmarshal(headerRaw, &hdr); err != nil {
		return errors.Wrap(ErrBadSignature, "protected header not JSON")
	}
	if !strings.HasPrefix(hdr.X5U, v.trustedPrefix) {
		return ErrUntrustedCert
	}

	sig, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return errors.Wrap(ErrBadSignature, "signature not base64url")
	}

	pub, err := v.fetchKey(ctx, hdr.X5U)
	if err != nil {
		return err
	}

	signingInput := parts[0] + "." + base64.RawURLEncoding.EncodeToString(rawBody)
	digest := sha256.Sum256([]byte(signingInput))
	if err := rsa.VerifyPKCS1v15(pub, crypto.SHA256, digest[:], sig); err != nil {
		return ErrBadSignature
	}
	return nil
}

func (v *Verifier) fetchKey(ctx context.Context, certURL string) (*rsa.PublicKey, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, certURL, nil)
	if err != nil {
		return nil, errors.Wrap(ErrUntrustedCert, err.Error())
	}
	resp, err := v.http.Do(req)
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Wrapf(ErrUnavailable, "certificate endpoint returned %d", resp.StatusCode)
	}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrap(ErrUnavailable, err.Error())
	}

	block, _ := pem.Decode(raw)
	if block == nil {
		return nil, errors.Wrap(ErrUntrustedCert, "no PEM block in certificate response")
	}
	cert, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, errors.Wrap(ErrUntrustedCert, err.Error())
	}
	pub, ok := cert.PublicKey.(*rsa.PublicKey)
	if !ok {
		return nil, errors.Wrap(ErrUntrustedCert, "certificate does not carry an RSA key")
	}
	return pub, nil
}
