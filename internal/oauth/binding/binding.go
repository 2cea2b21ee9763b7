// Package binding validates token bindings: proof that the party
// presenting a refresh token still holds the client context (device,
// certificate) the token was bound to at issuance.
package binding

import (
	"fmt"
	"net/http"
)

// Request carries the transport-level material binders inspect.
type Request struct {
	Headers    http.Header
	RemoteAddr string
}

// TokenBinder validates one binding type.
type TokenBinder interface {
	// Type is the registry key, matched against the binding type recorded
	// with the token.
	Type() string

	// IsValidBinding reports whether the request proves possession of the
	// binding identified by ref.
	IsValidBinding(req *Request, ref string) bool
}

// Registry resolves binders by type.
type Registry struct {
	binders map[string]TokenBinder
}

func NewRegistry(binders ...TokenBinder) *Registry {
	r := &Registry{binders: make(map[string]TokenBinder)}
	for _, b := range binders {
		r.binders[b.Type()] = b
	}
	return r
}

func (r *Registry) Register(b TokenBinder) {
	r.binders[b.Type()] = b
}

// Resolve returns the binder for the given type.
func (r *Registry) Resolve(bindingType string) (TokenBinder, error) {
	b, ok := r.binders[bindingType]
	if !ok {
		return nil, fmt.Errorf("binding: no binder registered for type %q", bindingType)
	}
	return b, nil
}
