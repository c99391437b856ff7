package service

import (
	"context"
	"crypto/subtle"
	"time"

	"fotofeed-core/internal/core/ports"
	"fotofeed-core/pkg/apperror"

	"github.com/rs/zerolog"
)

// OpsAuth implements ports.OpsAuthService against the single configured
// operator credential pair.
type OpsAuth struct {
	username     string
	passwordHash string
	hasher       ports.HashService
	tokens       ports.TokenService
	log          zerolog.Logger
}

// NewOpsAuth creates a new OpsAuth service.
func NewOpsAuth(username, passwordHash string, hasher ports.HashService, tokens ports.TokenService, log zerolog.Logger) *OpsAuth {
	return &OpsAuth{
		username:     username,
		passwordHash: passwordHash,
		hasher:       hasher,
		tokens:       tokens,
		log:          log,
	}
}

// Login verifies the operator credentials and issues a JWT. Both the
// username comparison and the Argon2 verification run on every attempt to
// keep response timing independent of which check failed.
func (s *OpsAuth) Login(ctx context.Context, username, password string) (string, time.Time, error) {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1

	passOK, err := s.hasher.Verify(password, s.passwordHash)
	if err != nil {
		passOK = false
	}

	if !userOK || !passOK {
		s.log.Warn().Str("username", username).Msg("failed ops login attempt")
		return "", time.Time{}, apperror.ErrInvalidCredentials()
	}

	token, expiresAt, err := s.tokens.Generate(s.username)
	if err != nil {
		return "", time.Time{}, apperror.InternalError(err)
	}

	s.log.Info().Str("username", s.username).Msg("operator logged in")
	return token, expiresAt, nil
}
