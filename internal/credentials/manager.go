// Package credentials hashes passwords and issues and validates signed,
// time-limited session tokens.
package credentials

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrExpiredToken   = errors.New("credentials: token expired")
	ErrMalformedToken = errors.New("credentials: token malformed")
	ErrInvalidSubject = errors.New("credentials: token subject does not exist")
)

const headerKeyID = "kid"

// IdentityChecker reports whether an identity still exists.
type IdentityChecker interface {
	IdentityExists(ctx context.Context, id int) (bool, error)
}

// Claims is the explicit token payload. Only the registered claims below are
// read; anything else in the token is ignored.
type Claims struct {
	jwt.RegisteredClaims
}

// Options tunes a Manager. Zero values pick the defaults.
type Options struct {
	BcryptCost int
	Now        func() time.Time
}

// Manager is safe for concurrent use. All of its fields are set at
// construction and never written again.
type Manager struct {
	keyring    *Keyring
	identities IdentityChecker
	cost       int
	now        func() time.Time
	dummyHash  []byte
}

// NewManager constructs a Manager. identities is consulted on every token
// validation so tokens of deleted accounts stop working immediately.
func NewManager(keyring *Keyring, identities IdentityChecker, opts Options) (*Manager, error) {
	if keyring == nil {
		return nil, errors.New("credentials: keyring is required")
	}
	if identities == nil {
		return nil, errors.New("credentials: identity checker is required")
	}
	cost := opts.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		return nil, fmt.Errorf("credentials: bcrypt cost %d out of range", cost)
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	dummy, err := bcrypt.GenerateFromPassword([]byte(uuid.NewString()), cost)
	if err != nil {
		return nil, fmt.Errorf("credentials: init dummy hash: %w", err)
	}

	return &Manager{
		keyring:    keyring,
		identities: identities,
		cost:       cost,
		now:        now,
		dummyHash:  dummy,
	}, nil
}

// HashPassword returns a salted bcrypt hash of password.
func (m *Manager) HashPassword(password string) (string, error) {
	hashed, err := bcrypt.GenerateFromPassword([]byte(password), m.cost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hashed), nil
}

// VerifyPassword reports whether password matches storedHash.
func (m *Manager) VerifyPassword(password, storedHash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(storedHash), []byte(password)) == nil
}

// BurnVerification performs one bcrypt comparison whose result is discarded.
// Callers use it when there is no stored hash to check against so that the
// response time does not reveal whether an account exists.
func (m *Manager) BurnVerification(password string) {
	_ = bcrypt.CompareHashAndPassword(m.dummyHash, []byte(password))
}

// IssueToken signs a token for identityID that expires after ttl.
func (m *Manager) IssueToken(identityID int, ttl time.Duration) (string, error) {
	if identityID < 1 {
		return "", fmt.Errorf("issue token: invalid identity id %d", identityID)
	}
	if ttl <= 0 {
		return "", errors.New("issue token: ttl must be positive")
	}

	now := m.now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.Itoa(identityID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}

	kid, secret := m.keyring.signingKey()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header[headerKeyID] = kid
	return token.SignedString(secret)
}

// ValidateToken verifies tokenString and returns the identity it names.
//
// It fails with ErrMalformedToken when the signature, algorithm, key id or
// claim structure is wrong, ErrExpiredToken when the expiry has passed, and
// ErrInvalidSubject when the identity no longer exists.
func (m *Manager) ValidateToken(ctx context.Context, tokenString string) (int, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return 0, fmt.Errorf("%w: empty token", ErrMalformedToken)
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, m.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedToken, err)
	}

	identityID, err := strconv.Atoi(strings.TrimSpace(claims.Subject))
	if err != nil || identityID < 1 {
		return 0, fmt.Errorf("%w: invalid subject", ErrMalformedToken)
	}
	if claims.IssuedAt == nil {
		return 0, fmt.Errorf("%w: missing iat", ErrMalformedToken)
	}
	if claims.ExpiresAt == nil {
		return 0, fmt.Errorf("%w: missing exp", ErrMalformedToken)
	}
	if claims.ExpiresAt.Before(claims.IssuedAt.Time) {
		return 0, fmt.Errorf("%w: exp before iat", ErrMalformedToken)
	}
	if strings.TrimSpace(claims.ID) == "" {
		return 0, fmt.Errorf("%w: missing jti", ErrMalformedToken)
	}

	if m.now().After(claims.ExpiresAt.Time) {
		return 0, ErrExpiredToken
	}

	exists, err := m.identities.IdentityExists(ctx, identityID)
	if err != nil {
		return 0, fmt.Errorf("check token subject: %w", err)
	}
	if !exists {
		return 0, ErrInvalidSubject
	}
	return identityID, nil
}

func (m *Manager) keyFunc(token *jwt.Token) (any, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, errors.New("invalid signing method")
	}
	kid, ok := token.Header[headerKeyID].(string)
	if !ok || kid == "" {
		return nil, errors.New("missing key id")
	}
	secret, ok := m.keyring.lookup(kid)
	if !ok {
		return nil, fmt.Errorf("unknown key id %q", kid)
	}
	return secret, nil
}
