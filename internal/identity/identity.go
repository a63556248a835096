package identity

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Kind discriminates caller identities.
type Kind int

const (
	// KindAnonymous marks a caller identified only by a hashed IP.
	KindAnonymous Kind = iota
	// KindUser marks an authenticated user.
	KindUser
)

// Identity is the resolved caller identity for one request. It is derived
// per call and never persisted.
type Identity struct {
	Kind   Kind
	UserID uint64
	Key    string
}

// guestToken is the sentinel bearer value for explicitly anonymous callers.
const guestToken = "guest"

// defaultIPHashSalt is used when no salt is configured.
const defaultIPHashSalt = "usagegate-ip-salt"

// Resolver resolves caller identities from request credentials.
type Resolver struct {
	secret []byte
	salt   string
}

// NewResolver constructs a Resolver. An empty salt falls back to the
// built-in constant.
func NewResolver(jwtSecret, ipHashSalt string) *Resolver {
	if strings.TrimSpace(ipHashSalt) == "" {
		ipHashSalt = defaultIPHashSalt
	}
	return &Resolver{secret: []byte(jwtSecret), salt: ipHashSalt}
}

// Resolve maps an authorization header and remote IP to an identity.
// Invalid or missing credentials degrade to an anonymous identity; this
// never returns an error.
func (r *Resolver) Resolve(authorization, remoteIP string) Identity {
	token := bearerToken(authorization)
	if token != "" && token != guestToken && len(r.secret) > 0 {
		if userID, ok := r.parseUserToken(token); ok {
			return Identity{Kind: KindUser, UserID: userID}
		}
	}
	return Identity{Kind: KindAnonymous, Key: r.HashIP(remoteIP)}
}

// HashIP returns the salted hash key for a remote IP.
func (r *Resolver) HashIP(remoteIP string) string {
	sum := sha256.Sum256([]byte(r.salt + strings.TrimSpace(remoteIP)))
	return hex.EncodeToString(sum[:])
}

// bearerToken extracts the bearer credential from an authorization header.
func bearerToken(authorization string) string {
	authorization = strings.TrimSpace(authorization)
	if authorization == "" {
		return ""
	}
	token := strings.TrimPrefix(authorization, "Bearer ")
	if token == authorization {
		return ""
	}
	return strings.TrimSpace(token)
}

// userClaims carries the subject user id of an issued token.
type userClaims struct {
	jwt.RegisteredClaims
}

// parseUserToken validates an HS256 user token and returns its user id.
func (r *Resolver) parseUserToken(token string) (uint64, bool) {
	var claims userClaims
	parsed, errParse := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrSignatureInvalid
		}
		return r.secret, nil
	})
	if errParse != nil || !parsed.Valid {
		return 0, false
	}
	userID, errAtoi := strconv.ParseUint(strings.TrimSpace(claims.Subject), 10, 64)
	if errAtoi != nil || userID == 0 {
		return 0, false
	}
	return userID, true
}
