// Package auth holds the client-side auth session: the access/refresh
// token pair and the refresh machinery behind the token provider
// contract consumed by the API client.
package auth

import (
	"context"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"

	"github.com/hearthhub/hearthhub/internal/domain"
)

// TokenPair is an access/refresh token pair issued by the auth server.
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// RefreshFunc exchanges a refresh token for a new token pair.
type RefreshFunc func(ctx context.Context, refreshToken string) (TokenPair, error)

// Session holds the current token pair. It implements the token
// provider contract: GetToken returns "" once the access token is
// expired, which makes dependent requests fail closed until a refresh
// succeeds.
type Session struct {
	mu sync.Mutex

	access    string
	refresh   string
	expiresAt time.Time

	refreshFn  RefreshFunc
	skew       time.Duration
	refreshing bool
	refreshed  chan struct{}

	log zerolog.Logger
	now func() time.Time // test hook
}

// NewSession creates a session. refreshFn is invoked by RefreshToken;
// skew is subtracted from the token expiry so refreshes happen before
// the server starts rejecting the token.
func NewSession(refreshFn RefreshFunc, skew time.Duration, log zerolog.Logger) *Session {
	if skew == 0 {
		skew = 30 * time.Second
	}
	return &Session{
		refreshFn: refreshFn,
		skew:      skew,
		log:       log.With().Str("component", "auth").Logger(),
		now:       time.Now,
	}
}

// SetTokens installs a token pair, reading the access token's expiry
// from its JWT exp claim. Tokens that do not parse as JWTs are kept with
// no known expiry.
func (s *Session) SetTokens(pair TokenPair) {
	expiresAt := tokenExpiry(pair.AccessToken)

	s.mu.Lock()
	s.access = pair.AccessToken
	s.refresh = pair.RefreshToken
	s.expiresAt = expiresAt
	s.mu.Unlock()
}

// Clear drops the session. All subsequent requests fail closed.
func (s *Session) Clear() {
	s.mu.Lock()
	s.access = ""
	s.refresh = ""
	s.expiresAt = time.Time{}
	s.mu.Unlock()
}

// GetToken returns the current access token, or "" when the session is
// absent or expired past the skew window.
func (s *Session) GetToken() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.access == "" {
		return ""
	}
	if !s.expiresAt.IsZero() && s.now().After(s.expiresAt.Add(-s.skew)) {
		return ""
	}
	return s.access
}

// Authenticated reports whether a usable access token is present.
func (s *Session) Authenticated() bool {
	return s.GetToken() != ""
}

// RefreshToken exchanges the refresh token for a new pair. Concurrent
// callers collapse into a single refresh; late callers wait for its
// outcome rather than issuing their own exchange.
func (s *Session) RefreshToken(ctx context.Context) error {
	s.mu.Lock()
	if s.refresh == "" {
		s.mu.Unlock()
		return domain.NewError(domain.CodeUnauthorized, "no refresh token")
	}
	if s.refreshing {
		waitCh := s.refreshed
		s.mu.Unlock()
		select {
		case <-waitCh:
		case <-ctx.Done():
			return domain.NewError(domain.CodeNetwork, ctx.Err().Error())
		}
		if s.GetToken() == "" {
			return domain.NewError(domain.CodeUnauthorized, "token refresh failed")
		}
		return nil
	}
	s.refreshing = true
	s.refreshed = make(chan struct{})
	refreshToken := s.refresh
	s.mu.Unlock()

	pair, err := s.refreshFn(ctx, refreshToken)

	s.mu.Lock()
	s.refreshing = false
	done := s.refreshed
	var expiresAt time.Time
	if err == nil {
		expiresAt = tokenExpiry(pair.AccessToken)
		s.access = pair.AccessToken
		s.refresh = pair.RefreshToken
		s.expiresAt = expiresAt
	} else {
		s.access = ""
		s.expiresAt = time.Time{}
	}
	s.mu.Unlock()
	close(done)

	if err != nil {
		s.log.Warn().Err(err).Msg("token refresh failed")
		return domain.NewError(domain.CodeUnauthorized, "token refresh failed")
	}
	s.log.Debug().Time("expires_at", expiresAt).Msg("token refreshed")
	return nil
}

// tokenExpiry extracts the exp claim without verifying the signature.
// The client only schedules refreshes with it; the server remains the
// authority on token validity.
func tokenExpiry(token string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}
