package binding

import (
	"encoding/pem"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	t.Parallel()

	reg := NewRegistry(NewDevice())

	t.Run("resolves registered binder", func(t *testing.T) {
		b, err := reg.Resolve("device")
		require.NoError(t, err)
		require.Equal(t, "device", b.Type())
	})

	t.Run("unknown type errors", func(t *testing.T) {
		_, err := reg.Resolve("dpop")
		require.Error(t, err)
	})

	t.Run("register adds a binder", func(t *testing.T) {
		reg.Register(NewCertificate())
		b, err := reg.Resolve("certificate")
		require.NoError(t, err)
		require.Equal(t, "certificate", b.Type())
	})
}

func TestDeviceBinding(t *testing.T) {
	t.Parallel()

	d := NewDevice()
	secret := "device-secret-value"
	ref := d.Reference(secret)

	request := func(secret string) *Request {
		h := http.Header{}
		if secret != "" {
			h.Set(HeaderDeviceSecret, secret)
		}
		return &Request{Headers: h}
	}

	t.Run("matching secret validates", func(t *testing.T) {
		require.True(t, d.IsValidBinding(request(secret), ref))
	})

	t.Run("wrong secret rejected", func(t *testing.T) {
		require.False(t, d.IsValidBinding(request("other-secret"), ref))
	})

	t.Run("missing header rejected", func(t *testing.T) {
		require.False(t, d.IsValidBinding(request(""), ref))
	})

	t.Run("nil request rejected", func(t *testing.T) {
		require.False(t, d.IsValidBinding(nil, ref))
	})

	t.Run("empty reference rejected", func(t *testing.T) {
		require.False(t, d.IsValidBinding(request(secret), ""))
	})
}

func TestCertificateBinding(t *testing.T) {
	t.Parallel()

	c := NewCertificate()

	der := []byte{0x30, 0x82, 0x01, 0x0a, 0x02, 0x01, 0x01}
	pemBytes := string(pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der}))
	ref := Thumbprint(der)

	request := func(cert string) *Request {
		h := http.Header{}
		if cert != "" {
			h.Set(HeaderClientCertificate, cert)
		}
		return &Request{Headers: h}
	}

	t.Run("matching certificate validates", func(t *testing.T) {
		require.True(t, c.IsValidBinding(request(pemBytes), ref))
	})

	t.Run("wrong thumbprint rejected", func(t *testing.T) {
		require.False(t, c.IsValidBinding(request(pemBytes), "other-thumbprint"))
	})

	t.Run("garbage pem rejected", func(t *testing.T) {
		require.False(t, c.IsValidBinding(request("not-a-pem"), ref))
	})

	t.Run("missing header rejected", func(t *testing.T) {
		require.False(t, c.IsValidBinding(request(""), ref))
	})
}
