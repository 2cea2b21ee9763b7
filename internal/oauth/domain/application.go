package domain

import "time"

// Application is the registered client application metadata this core
// reads. Zero validity values fall back to the global defaults; a nil
// RenewRefreshToken inherits the global rotation policy.
type Application struct {
	ClientID   string
	Name       string
	SecretHash string // empty for public clients

	IssuerType           string        // issuer registry key; empty selects the default issuer
	AccessTokenValidity  time.Duration // 0 = use global default
	RefreshTokenValidity time.Duration // 0 = use global default
	RenewRefreshToken    *bool         // nil = use global default
	BindingType          string        // empty = no binding configured
	ValidateBinding      bool

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Confidential reports whether the application must authenticate with a
// client secret.
func (a Application) Confidential() bool {
	return a.SecretHash != ""
}
