package identity

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	mathrand "math/rand"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/goliatone/go-errors"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour

	refreshTokenBytes = 32
)

// TokenConfig configures the TokenService.
type TokenConfig struct {
	SigningKey []byte
	Issuer     string
	Audience   []string
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// TokenService mints signed access tokens and opaque refresh tokens.
type TokenService struct {
	signingKey []byte
	issuer     string
	audience   jwt.ClaimStrings
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
	logger     Logger

	entropyMu sync.Mutex
	entropy   *ulid.MonotonicEntropy
}

// NewTokenService creates a new TokenService instance
func NewTokenService(cfg TokenConfig, opts ...Option) *TokenService {
	o := buildOptions("identity.tokens", opts)

	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = DefaultAccessTokenTTL
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = DefaultRefreshTokenTTL
	}

	return &TokenService{
		signingKey: cfg.SigningKey,
		issuer:     cfg.Issuer,
		audience:   jwt.ClaimStrings(cfg.Audience),
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		now:        o.now,
		logger:     o.logger,
		entropy:    ulid.Monotonic(mathrand.New(mathrand.NewSource(time.Now().UnixNano())), 0),
	}
}

// AccessTTL returns the lifetime of access tokens.
func (ts *TokenService) AccessTTL() time.Duration {
	return ts.accessTTL
}

// IssueAccessToken signs an access token for account.
func (ts *TokenService) IssueAccessToken(account *Account) (string, time.Time, error) {
	if account == nil {
		return "", time.Time{}, errors.New("account must not be nil", errors.CategoryInternal)
	}

	now := ts.now()
	expiresAt := now.Add(ts.accessTTL)
	claims := &AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    ts.issuer,
			Subject:   account.Email,
			Audience:  ts.audience,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			ID:        uuid.NewString(),
		},
		AccountID: account.ID.String(),
		Email:     account.Email,
		Roles:     account.Roles.Strings(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(ts.signingKey)
	if err != nil {
		return "", time.Time{}, errors.Wrap(err, errors.CategoryInternal, "failed to sign JWT")
	}

	return signed, expiresAt, nil
}

// Validate parses and validates an access token string.
func (ts *TokenService) Validate(tokenString string) (*AccessClaims, error) {
	parserOptions := []jwt.ParserOption{
		jwt.WithTimeFunc(ts.now),
		jwt.WithExpirationRequired(),
	}
	if ts.issuer != "" {
		parserOptions = append(parserOptions, jwt.WithIssuer(ts.issuer))
	}
	// the parser checks a single audience, the first one configured
	if len(ts.audience) > 0 {
		parserOptions = append(parserOptions, jwt.WithAudience(ts.audience[0]))
	}

	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			ts.logger.Error("token validate encountered unexpected signing method", "alg", t.Header["alg"])
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return ts.signingKey, nil
	}, parserOptions...)

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrInvalidToken.Clone().WithMetadata(map[string]any{"reason": "expired"})
		}
		clone := ErrTokenMalformed.Clone()
		clone.Source = err
		return nil, clone
	}

	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrTokenMalformed
	}

	return claims, nil
}

// NewRefreshToken returns the plain token handed to the caller and the record
// to persist, which only carries its hash.
func (ts *TokenService) NewRefreshToken(accountID uuid.UUID) (string, *RefreshToken, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", nil, errors.Wrap(err, errors.CategoryInternal, "failed to generate refresh token")
	}

	plain := base64.RawURLEncoding.EncodeToString(buf)
	now := ts.now()

	return plain, &RefreshToken{
		ID:        ts.newID(now),
		TokenHash: HashRefreshToken(plain),
		AccountID: accountID,
		ExpiresAt: now.Add(ts.refreshTTL),
		CreatedAt: now,
	}, nil
}

func (ts *TokenService) newID(now time.Time) string {
	ts.entropyMu.Lock()
	defer ts.entropyMu.Unlock()
	return ulid.MustNew(ulid.Timestamp(now), ts.entropy).String()
}

// HashRefreshToken returns the lookup key of a plain refresh token.
func HashRefreshToken(plain string) string {
	sum := sha256.Sum256([]byte(plain))
	return hex.EncodeToString(sum[:])
}
