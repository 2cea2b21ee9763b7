package binding

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/pem"
)

// HeaderClientCertificate carries the client certificate forwarded by a
// TLS-terminating proxy, PEM-encoded.
const HeaderClientCertificate = "X-Client-Certificate"

// Certificate binds tokens to a client TLS certificate. The binding
// reference is the base64url SHA-256 thumbprint of the DER certificate,
// per RFC 8705.
type Certificate struct{}

func NewCertificate() *Certificate { return &Certificate{} }

func (*Certificate) Type() string { return "certificate" }

func (*Certificate) IsValidBinding(req *Request, ref string) bool {
	if req == nil || ref == "" {
		return false
	}
	raw := req.Headers.Get(HeaderClientCertificate)
	if raw == "" {
		return false
	}
	block, _ := pem.Decode([]byte(raw))
	if block == nil {
		return false
	}
	got := Thumbprint(block.Bytes)
	return subtle.ConstantTimeCompare([]byte(got), []byte(ref)) == 1
}

// Thumbprint computes the RFC 8705 certificate thumbprint for DER bytes.
func Thumbprint(der []byte) string {
	sum := sha256.Sum256(der)
	return base64.RawURLEncoding.EncodeToString(sum[:])
}
