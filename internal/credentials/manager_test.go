package credentials

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type identitySet map[int]bool

func (s identitySet) IdentityExists(_ context.Context, id int) (bool, error) {
	return s[id], nil
}

type failingIdentities struct{}

func (failingIdentities) IdentityExists(context.Context, int) (bool, error) {
	return false, errors.New("db down")
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestManager(t *testing.T, identities IdentityChecker, clock *fakeClock, retired ...Key) *Manager {
	t.Helper()
	keyring, err := NewKeyring(Key{ID: "v2", Secret: []byte("active-secret")}, retired...)
	require.NoError(t, err)
	m, err := NewManager(keyring, identities, Options{BcryptCost: bcrypt.MinCost, Now: clock.Now})
	require.NoError(t, err)
	return m
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)}
}

func TestHashAndVerifyPassword(t *testing.T) {
	m := newTestManager(t, identitySet{}, newClock())

	hash, err := m.HashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, "hunter2hunter2", hash)

	assert.True(t, m.VerifyPassword("hunter2hunter2", hash))
	assert.False(t, m.VerifyPassword("hunter2hunter3", hash))
	assert.False(t, m.VerifyPassword("hunter2hunter2", "not-a-hash"))

	other, err := m.HashPassword("hunter2hunter2")
	require.NoError(t, err)
	assert.NotEqual(t, hash, other, "hashes must be salted")
}

func TestTokenRoundTrip(t *testing.T) {
	clock := newClock()
	m := newTestManager(t, identitySet{7: true}, clock)

	token, err := m.IssueToken(7, time.Hour)
	require.NoError(t, err)

	id, err := m.ValidateToken(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, 7, id)

	clock.Advance(time.Hour)
	id, err = m.ValidateToken(context.Background(), token)
	require.NoError(t, err, "token is valid up to and including exp")
	assert.Equal(t, 7, id)

	clock.Advance(time.Second)
	_, err = m.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrExpiredToken)
}

func TestTokenCarriesExplicitClaims(t *testing.T) {
	m := newTestManager(t, identitySet{3: true}, newClock())

	token, err := m.IssueToken(3, 30*time.Minute)
	require.NoError(t, err)

	var claims Claims
	parsed, _, err := jwt.NewParser().ParseUnverified(token, &claims)
	require.NoError(t, err)

	assert.Equal(t, "v2", parsed.Header["kid"])
	assert.Equal(t, "HS256", parsed.Header["alg"])
	assert.Equal(t, "3", claims.Subject)
	assert.NotEmpty(t, claims.ID)
	require.NotNil(t, claims.IssuedAt)
	require.NotNil(t, claims.ExpiresAt)
	assert.Equal(t, 30*time.Minute, claims.ExpiresAt.Sub(claims.IssuedAt.Time))
}

func TestValidateTokenMalformed(t *testing.T) {
	clock := newClock()
	m := newTestManager(t, identitySet{1: true}, clock)

	good, err := m.IssueToken(1, time.Hour)
	require.NoError(t, err)

	sign := func(method jwt.SigningMethod, kid string, key any, claims jwt.Claims) string {
		tok := jwt.NewWithClaims(method, claims)
		if kid != "" {
			tok.Header["kid"] = kid
		}
		s, err := tok.SignedString(key)
		require.NoError(t, err)
		return s
	}
	now := clock.Now()
	valid := jwt.RegisteredClaims{
		Subject:   "1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
		ID:        "jti-1",
	}
	noSubject := valid
	noSubject.Subject = ""
	badSubject := valid
	badSubject.Subject = "abc"
	noExp := valid
	noExp.ExpiresAt = nil
	noIat := valid
	noIat.IssuedAt = nil
	noJTI := valid
	noJTI.ID = ""

	parts := strings.Split(good, ".")
	tampered := parts[0] + "." + parts[1] + "." + strings.Repeat("A", len(parts[2]))

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"garbage", "not.a.token"},
		{"tampered signature", tampered},
		{"wrong secret", sign(jwt.SigningMethodHS256, "v2", []byte("other"), valid)},
		{"unknown kid", sign(jwt.SigningMethodHS256, "v9", []byte("active-secret"), valid)},
		{"missing kid", sign(jwt.SigningMethodHS256, "", []byte("active-secret"), valid)},
		{"wrong alg", sign(jwt.SigningMethodHS512, "v2", []byte("active-secret"), valid)},
		{"none alg", sign(jwt.SigningMethodNone, "v2", jwt.UnsafeAllowNoneSignatureType, valid)},
		{"missing subject", sign(jwt.SigningMethodHS256, "v2", []byte("active-secret"), noSubject)},
		{"non numeric subject", sign(jwt.SigningMethodHS256, "v2", []byte("active-secret"), badSubject)},
		{"missing exp", sign(jwt.SigningMethodHS256, "v2", []byte("active-secret"), noExp)},
		{"missing iat", sign(jwt.SigningMethodHS256, "v2", []byte("active-secret"), noIat)},
		{"missing jti", sign(jwt.SigningMethodHS256, "v2", []byte("active-secret"), noJTI)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := m.ValidateToken(context.Background(), tt.token)
			assert.ErrorIs(t, err, ErrMalformedToken)
		})
	}
}

func TestValidateTokenInvalidSubject(t *testing.T) {
	identities := identitySet{5: true}
	m := newTestManager(t, identities, newClock())

	token, err := m.IssueToken(5, time.Hour)
	require.NoError(t, err)

	delete(identities, 5)
	_, err = m.ValidateToken(context.Background(), token)
	assert.ErrorIs(t, err, ErrInvalidSubject)
}

func TestValidateTokenLookupFailure(t *testing.T) {
	m := newTestManager(t, failingIdentities{}, newClock())

	token, err := m.IssueToken(5, time.Hour)
	require.NoError(t, err)

	_, err = m.ValidateToken(context.Background(), token)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInvalidSubject)
	assert.NotErrorIs(t, err, ErrMalformedToken)
}

func TestRetiredKeyStillVerifies(t *testing.T) {
	clock := newClock()
	identities := identitySet{9: true}

	oldRing, err := NewKeyring(Key{ID: "v1", Secret: []byte("old-secret")})
	require.NoError(t, err)
	oldManager, err := NewManager(oldRing, identities, Options{BcryptCost: bcrypt.MinCost, Now: clock.Now})
	require.NoError(t, err)
	oldToken, err := oldManager.IssueToken(9, time.Hour)
	require.NoError(t, err)

	rotated := newTestManager(t, identities, clock, Key{ID: "v1", Secret: []byte("old-secret")})
	id, err := rotated.ValidateToken(context.Background(), oldToken)
	require.NoError(t, err)
	assert.Equal(t, 9, id)

	unrotated := newTestManager(t, identities, clock)
	_, err = unrotated.ValidateToken(context.Background(), oldToken)
	assert.ErrorIs(t, err, ErrMalformedToken)
}

func TestIssueTokenRejectsBadInput(t *testing.T) {
	m := newTestManager(t, identitySet{}, newClock())

	_, err := m.IssueToken(0, time.Hour)
	assert.Error(t, err)
	_, err = m.IssueToken(1, 0)
	assert.Error(t, err)
}

func TestNewKeyringValidation(t *testing.T) {
	_, err := NewKeyring(Key{ID: "", Secret: []byte("x")})
	assert.Error(t, err)
	_, err = NewKeyring(Key{ID: "v1"})
	assert.Error(t, err)
	_, err = NewKeyring(Key{ID: "v1", Secret: []byte("a")}, Key{ID: "v1", Secret: []byte("b")})
	assert.Error(t, err)

	ring, err := KeyringFromSecrets("v2", "new", map[string]string{"v1": "old"})
	require.NoError(t, err)
	assert.Equal(t, "v2", ring.ActiveID())
}

func TestValidateTokenConcurrent(t *testing.T) {
	identities := identitySet{}
	for i := 1; i <= 20; i++ {
		identities[i] = true
	}
	m := newTestManager(t, identities, newClock())

	tokens := make([]string, 20)
	for i := range tokens {
		tok, err := m.IssueToken(i+1, time.Hour)
		require.NoError(t, err)
		tokens[i] = tok
	}

	var wg sync.WaitGroup
	for round := 0; round < 10; round++ {
		for i, tok := range tokens {
			wg.Add(1)
			go func(want int, tok string) {
				defer wg.Done()
				got, err := m.ValidateToken(context.Background(), tok)
				assert.NoError(t, err)
				assert.Equal(t, want, got)
			}(i+1, tok)
		}
	}
	wg.Wait()
}
