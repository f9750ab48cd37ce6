package channel

import (
	"context"
	"time"
)

// ExpiryLeeway is how early a token is treated as expired.
const ExpiryLeeway = 30 * time.Second

// Credential is one tenant's API session with the channel manager.
type Credential struct {
	ID           int64
	Name         string
	ClientID     string
	ClientSecret string
	TokenURL     string
	AccessToken  string
	RefreshToken string
	ExpiresAt    *time.Time
	UpdatedAt    time.Time
}

// NeedsRefresh reports whether the access token must be rotated before a call.
func (c *Credential) NeedsRefresh(now time.Time) bool {
	if c.AccessToken == "" {
		return true
	}
	if c.ExpiresAt == nil {
		return false
	}
	return !now.Add(ExpiryLeeway).Before(*c.ExpiresAt)
}

// CanRefresh reports whether enough is known to obtain a new token.
func (c *Credential) CanRefresh() bool {
	return c.RefreshToken != "" && c.TokenURL != ""
}

// Rotate stores a freshly issued token. An empty refresh token keeps the old one.
func (c *Credential) Rotate(accessToken, refreshToken string, expiresAt *time.Time, now time.Time) {
	c.AccessToken = accessToken
	if refreshToken != "" {
		c.RefreshToken = refreshToken
	}
	c.ExpiresAt = expiresAt
	c.UpdatedAt = now
}

// CredentialRepository defines the interface for credential persistence
type CredentialRepository interface {
	// Get retrieves a credential by ID
	Get(ctx context.Context, id int64) (*Credential, error)

	// SaveTokens persists a rotated token pair
	SaveTokens(ctx context.Context, c *Credential) error
}
