// internal/auth/auth.go
package auth

import (
	"crypto/subtle"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
	"golang.org/x/crypto/bcrypt"

	"github.com/Jsackitey1/AgroMesh-sub000/internal/data"
)

const issuer = "agromesh-gateway"

// Config holds authentication configuration
type Config struct {
	JWTSecret     string   `mapstructure:"jwt_secret"`
	JWTExpiration int      `mapstructure:"jwt_expiration"` // in minutes
	APIKeys       []string `mapstructure:"api_keys"`
	AllowedUsers  []User   `mapstructure:"users"`
	// SharedVisibility lets any authenticated session follow any node and
	// the all-owners alert feed. Off by default: node and alert topics are
	// limited to their owner.
	SharedVisibility bool `mapstructure:"shared_visibility"`
}

type User struct {
	Username     string `mapstructure:"username"`
	PasswordHash string `mapstructure:"password_hash"`
	Role         string `mapstructure:"role"`
}

// Claims represents JWT claims
type Claims struct {
	Username string `json:"username"`
	Role     string `json:"role"`
	jwt.StandardClaims
}

// NodeOwners resolves the owner of a node for topic scoping.
type NodeOwners interface {
	NodeOwner(nodeID string) (string, bool)
}

// Gateway authenticates HTTP callers and real-time handshakes and decides
// which topics a session may follow.
type Gateway struct {
	config Config
	owners NodeOwners
	now    func() time.Time
}

func NewGateway(cfg Config, owners NodeOwners) *Gateway {
	return &Gateway{config: cfg, owners: owners, now: time.Now}
}

func (g *Gateway) SharedVisibility() bool { return g.config.SharedVisibility }

// GenerateJWT creates a new JWT token for a user
func (g *Gateway) GenerateJWT(username, role string) (string, time.Time, error) {
	now := g.now()
	expiresAt := now.Add(time.Duration(g.config.JWTExpiration) * time.Minute)

	claims := &Claims{
		Username: username,
		Role:     role,
		StandardClaims: jwt.StandardClaims{
			Subject:   username,
			ExpiresAt: expiresAt.Unix(),
			IssuedAt:  now.Unix(),
			Issuer:    issuer,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(g.config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}

// ValidateJWT parses the token and checks signature, method and expiry.
func (g *Gateway) ValidateJWT(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, fmt.Errorf("%w: missing token", data.ErrAuthentication)
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(g.config.JWTSecret), nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", data.ErrAuthentication, err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("%w: invalid token", data.ErrAuthentication)
	}
	if claims.Username == "" {
		return nil, fmt.Errorf("%w: token has no username", data.ErrAuthentication)
	}
	if claims.ExpiresAt == 0 || g.now().Unix() >= claims.ExpiresAt {
		return nil, fmt.Errorf("%w: token expired", data.ErrAuthentication)
	}
	return claims, nil
}

// ValidateAPIKey checks if the provided API key is valid
func (g *Gateway) ValidateAPIKey(apiKey string) bool {
	if apiKey == "" {
		return false
	}
	for _, validKey := range g.config.APIKeys {
		if subtle.ConstantTimeCompare([]byte(apiKey), []byte(validKey)) == 1 {
			return true
		}
	}
	return false
}

// AuthenticateUser checks a password against the configured bcrypt hash and
// returns the user's role.
func (g *Gateway) AuthenticateUser(username, password string) (string, error) {
	for _, user := range g.config.AllowedUsers {
		if user.Username != username {
			continue
		}
		if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
			return "", fmt.Errorf("%w: invalid credentials", data.ErrAuthentication)
		}
		return user.Role, nil
	}
	return "", fmt.Errorf("%w: invalid credentials", data.ErrAuthentication)
}

// HashPassword creates a bcrypt hash from a password
func HashPassword(password string, cost int) (string, error) {
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	b, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	return string(b), err
}
