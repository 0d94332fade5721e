package auth

import (
	"crypto/subtle"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/StewartGolf/CartBox/internal/errs"
)

const DefaultTokenTTL = 30 * time.Minute

// Guard issues and verifies short-lived admin tokens signed with a shared
// secret. Tokens are stateless, there is no revocation list.
type Guard struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewGuard(secret string, ttl time.Duration) *Guard {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &Guard{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// WithClock overrides the time source, for tests.
func (g *Guard) WithClock(now func() time.Time) *Guard {
	g.now = now
	return g
}

func (g *Guard) TTL() time.Duration {
	return g.ttl
}

// IssueToken returns a signed HS256 token carrying issue time, expiry and a
// random nonce.
func (g *Guard) IssueToken() (string, error) {
	now := g.now()
	claims := jwt.MapClaims{
		"iat": jwt.NewNumericDate(now),
		"exp": jwt.NewNumericDate(now.Add(g.ttl)),
		"jti": uuid.NewString(),
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(g.secret)
	if err != nil {
		return "", errs.Wrap(errs.KindUnauthorized, err, "sign admin token")
	}
	return signed, nil
}

// VerifyToken checks the signature and expiry of a token issued by
// IssueToken.
func (g *Guard) VerifyToken(tokenString string) error {
	token, err := jwt.Parse(tokenString,
		func(*jwt.Token) (any, error) { return g.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(g.now),
	)
	if err != nil {
		return errs.Wrap(errs.KindUnauthorized, err, "verify admin token")
	}
	if !token.Valid {
		return errs.New(errs.KindUnauthorized, "invalid admin token")
	}
	return nil
}

// VerifySecret accepts the raw shared secret as a fallback credential for
// non-browser admin tooling.
func (g *Guard) VerifySecret(candidate string) error {
	if len(g.secret) == 0 ||
		subtle.ConstantTimeCompare([]byte(candidate), g.secret) != 1 {
		return errs.New(errs.KindUnauthorized, "invalid admin secret")
	}
	return nil
}
