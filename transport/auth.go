package transport

import (
	"context"
	"errors"
	"sync"
)

//go:generate go run github.com/maxbrunsfeld/counterfeiter/v6 -o ../mocks/token_provider.go . TokenProvider

// TokenProvider supplies and stores the bearer tokens attached to
// requests. Implementations are provided by the embedding application
// (secure storage, keychain, ...).
type TokenProvider interface {
	GetToken() string
	GetRefreshToken() string
	SetTokens(token, refreshToken string)
	ClearTokens()
}

// RefreshFunc exchanges a refresh token for a new token pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (newToken, newRefreshToken string, err error)

// ErrNoRefreshToken is returned when a refresh is required but no refresh
// token is available.
var ErrNoRefreshToken = errors.New("no refresh token available")

// WithTokenAuth enables bearer authentication. refresh is invoked on a
// 401; concurrent 401s share a single refresh call and replay with the
// new token once it resolves.
func WithTokenAuth(tokens TokenProvider, refresh RefreshFunc) Option {
	return func(c *Client) error {
		if tokens == nil {
			return errors.New("token provider cannot be nil")
		}
		c.tokens = tokens
		c.refresh = refresh
		return nil
	}
}

func (c *Client) canRefresh() bool {
	return c.tokens != nil && c.refresh != nil
}

// refreshTokens performs the single-flight token refresh. However many
// requests hit a 401 while a refresh is in flight, exactly one refresh
// call runs; the rest wait on it. A failed refresh clears all tokens and
// rejects every waiter.
func (c *Client) refreshTokens(ctx context.Context) error {
	_, err, _ := c.flight.Do("token-refresh", func() (any, error) {
		refreshToken := c.tokens.GetRefreshToken()
		if refreshToken == "" {
			c.tokens.ClearTokens()
			return nil, ErrNoRefreshToken
		}

		token, newRefresh, err := c.refresh(ctx, refreshToken)
		if err != nil {
			c.logger.Warn("token refresh failed", "error", err)
			c.tokens.ClearTokens()
			return nil, err
		}

		c.tokens.SetTokens(token, newRefresh)
		c.logger.Debug("token refreshed")
		return nil, nil
	})

	return err
}

// Compile-time check that MemoryTokens implements TokenProvider.
var _ TokenProvider = (*MemoryTokens)(nil)

// MemoryTokens is an in-process TokenProvider for applications that keep
// tokens in memory only, and for tests.
type MemoryTokens struct {
	mu           sync.RWMutex
	token        string
	refreshToken string
}

// NewMemoryTokens creates a provider preloaded with the given pair.
func NewMemoryTokens(token, refreshToken string) *MemoryTokens {
	return &MemoryTokens{token: token, refreshToken: refreshToken}
}

func (m *MemoryTokens) GetToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.token
}

func (m *MemoryTokens) GetRefreshToken() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.refreshToken
}

func (m *MemoryTokens) SetTokens(token, refreshToken string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = token
	if refreshToken != "" {
		m.refreshToken = refreshToken
	}
}

func (m *MemoryTokens) ClearTokens() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.token = ""
	m.refreshToken = ""
}
