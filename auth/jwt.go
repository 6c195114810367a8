package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"
)

// Claims holds JWT token claims.
type Claims struct {
	Name              string `json:"name,omitempty"`
	PreferredUsername string `json:"preferred_username,omitempty"`
	Email             string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) displayName() string {
	for _, name := range []string{c.Name, c.PreferredUsername, c.Email} {
		if name != "" {
			return name
		}
	}
	return c.Subject
}

// JWTVerifier validates JWTs signed with a shared HMAC secret or with keys
// published at a JWKS endpoint.
type JWTVerifier struct {
	keyfunc jwt.Keyfunc
	methods []string
	cancel  context.CancelFunc
	logger  *slog.Logger
}

func NewHMACVerifier(secret string, logger *slog.Logger) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("JWT secret cannot be empty")
	}
	key := []byte(secret)
	return &JWTVerifier{
		keyfunc: func(*jwt.Token) (interface{}, error) { return key, nil },
		methods: []string{"HS256", "HS384", "HS512"},
		cancel:  func() {},
		logger:  logger,
	}, nil
}

// NewJWKSVerifier fetches public keys from jwksURL. Keys are cached and
// refreshed in the background until Close.
func NewJWKSVerifier(ctx context.Context, jwksURL string, logger *slog.Logger) (*JWTVerifier, error) {
	if jwksURL == "" {
		return nil, errors.New("JWKS URL cannot be empty")
	}

	ctx, cancel := context.WithCancel(ctx)
	jwks, err := keyfunc.NewDefaultCtx(ctx, []string{jwksURL})
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create JWKS client: %w", err)
	}

	logger.Info("JWT verifier initialized", "jwks_url", jwksURL)
	return &JWTVerifier{
		keyfunc: jwks.Keyfunc,
		methods: []string{"RS256", "ES256"},
		cancel:  cancel,
		logger:  logger,
	}, nil
}

func (v *JWTVerifier) Verify(_ context.Context, tokenString string) (Identity, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc, jwt.WithValidMethods(v.methods))
	if err != nil || !token.Valid {
		v.logger.Debug("token rejected", "error", err)
		return Identity{}, ErrUnauthorized
	}
	if claims.Subject == "" {
		v.logger.Debug("token missing subject claim")
		return Identity{}, ErrUnauthorized
	}
	return Identity{UserID: claims.Subject, Name: claims.displayName()}, nil
}

func (v *JWTVerifier) Close() error {
	v.cancel()
	return nil
}

// SignHMAC issues an HS256 token for userID, accepted by NewHMACVerifier(secret).
func SignHMAC(secret, userID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		Name: name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Issuer:    "collab",
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
