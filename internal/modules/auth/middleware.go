// Package auth trusts tokens issued by the external auth provider. Tokens are
// HS256 signed with a secret shared with the provider; the subject claim is
// the user id.
package auth

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/eskrenkovic/meetup-sessions/internal/modules/core"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrMissingToken = errors.New("missing bearer token")
	ErrInvalidToken = errors.New("invalid token")
)

type Config struct {
	Secret []byte
	Issuer string
}

type Verifier struct {
	config Config
}

func NewVerifier(config Config) (*Verifier, error) {
	if len(config.Secret) == 0 {
		return nil, errors.New("auth: empty token secret")
	}

	return &Verifier{config: config}, nil
}

// Verify parses token and returns the user id carried in its subject.
func (v *Verifier) Verify(token string) (uuid.UUID, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.config.Issuer))
	}

	var claims jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.config.Secret, nil
	}, opts...)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil || userID == uuid.Nil {
		return uuid.Nil, fmt.Errorf("%w: subject is not a user id", ErrInvalidToken)
	}

	return userID, nil
}

// Sign issues a token for userID. The service itself only verifies tokens;
// Sign exists for tooling and tests.
func (v *Verifier) Sign(userID uuid.UUID, ttl time.Duration) (string, error) {
	now := time.Now()

	claims := jwt.RegisteredClaims{
		Subject:   userID.String(),
		Issuer:    v.config.Issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.config.Secret)
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingToken
	}

	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", fmt.Errorf("%w: malformed authorization header", ErrInvalidToken)
	}

	return strings.TrimSpace(token), nil
}

func AuthenticationMiddleware(verifier *Verifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := bearerToken(r)
			if err != nil {
				core.WriteUnauthorized(w, r, err)
				return
			}

			userID, err := verifier.Verify(token)
			if err != nil {
				core.Logger(r.Context()).Debug("rejected token", zap.Error(err))
				core.WriteUnauthorized(w, r, ErrInvalidToken)
				return
			}

			ctx := core.WithSession(r.Context(), core.ContextSession{UserID: userID})
			ctx = core.WithLogger(ctx, core.Logger(ctx).With(zap.Stringer("user_id", userID)))

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
