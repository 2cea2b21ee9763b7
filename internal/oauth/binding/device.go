package binding

import (
	"crypto/subtle"

	"github.com/aussiebroadwan/regrant/pkg/cryptox"
)

// HeaderDeviceSecret carries the device's binding secret on token
// requests from bound clients.
const HeaderDeviceSecret = "X-Device-Secret"

// Device binds tokens to a client device secret. The binding reference
// stored with the token is the fingerprint of the secret; the request
// must present the original secret to match it.
type Device struct{}

func NewDevice() *Device { return &Device{} }

func (*Device) Type() string { return "device" }

func (*Device) IsValidBinding(req *Request, ref string) bool {
	if req == nil || ref == "" {
		return false
	}
	secret := req.Headers.Get(HeaderDeviceSecret)
	if secret == "" {
		return false
	}
	got := cryptox.FingerprintToken(secret)
	return subtle.ConstantTimeCompare([]byte(got), []byte(ref)) == 1
}

// Reference computes the binding reference recorded at issuance for a
// device secret.
func (*Device) Reference(secret string) string {
	return cryptox.FingerprintToken(secret)
}
