package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/dukerupert/budgetbell/internal/model"
)

// ErrUnauthorized is returned for any missing, malformed or invalid credential.
var ErrUnauthorized = errors.New("unauthorized")

// RoleService marks tokens minted for the scheduler.
const RoleService = "service"

const issuer = "budgetbell"

// Claims are the JWT claims budgetbell issues and accepts.
type Claims struct {
	jwt.RegisteredClaims
	Role   string `json:"role,omitempty"`
	Locale string `json:"locale,omitempty"`
}

// UserLookup loads the account behind a user token.
type UserLookup interface {
	GetByID(ctx context.Context, id int64) (*model.User, error)
}

// Resolver turns bearer credentials into a Caller.
type Resolver struct {
	secret     []byte
	users      UserLookup
	cronSecret []byte
}

// NewResolver creates a resolver. cronSecretHash is a bcrypt hash of the
// shared secret accepted in X-Cron-Secret; empty disables that path.
func NewResolver(secret string, users UserLookup, cronSecretHash string) *Resolver {
	return &Resolver{secret: []byte(secret), users: users, cronSecret: []byte(cronSecretHash)}
}

// Issue signs a token. An empty role yields a user token whose subject is
// the user id.
func (r *Resolver) Issue(userID int64, role string, ttl time.Duration) (string, error) {
	if len(r.secret) == 0 {
		return "", errors.New("jwt secret not configured")
	}
	now := time.Now()
	subject := strconv.FormatInt(userID, 10)
	if role == RoleService {
		subject = "scheduler"
	}
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
		Role: role,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// BearerToken extracts the token from an "Authorization: Bearer ..." value.
func BearerToken(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// Resolve validates a bearer token and returns its caller. User tokens are
// checked against the user store, which also supplies the locale.
func (r *Resolver) Resolve(ctx context.Context, token string) (Caller, error) {
	if len(r.secret) == 0 || token == "" {
		return Caller{}, ErrUnauthorized
	}

	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		return r.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil || !parsed.Valid {
		return Caller{}, ErrUnauthorized
	}

	if claims.Role == RoleService {
		return Caller{Service: true}, nil
	}

	userID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil || userID <= 0 {
		return Caller{}, ErrUnauthorized
	}
	c := Caller{UserID: userID, Locale: claims.Locale}
	if r.users != nil {
		u, err := r.users.GetByID(ctx, userID)
		if err != nil {
			return Caller{}, ErrUnauthorized
		}
		c.Locale = u.Locale
	}
	return c, nil
}

// CheckCronSecret reports whether secret matches the configured hash.
func (r *Resolver) CheckCronSecret(secret string) bool {
	if len(r.cronSecret) == 0 || secret == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword(r.cronSecret, []byte(secret)) == nil
}

// HashSecret returns a bcrypt hash suitable for the cron secret setting.
func HashSecret(secret string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash secret: %w", err)
	}
	return string(h), nil
}
