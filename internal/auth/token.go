package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/golang-jwt/jwt/v5"

	"ms-railway/internal/models"
)

var (
	ErrMissingToken = errors.New("authorization header is missing")
	ErrInvalidToken = errors.New("invalid token")
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(ctx context.Context, raw string) (Identity, error)
}

// ExtractTokenFromRequest extracts a JWT token from an HTTP request's Authorization header
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", ErrMissingToken
	}

	// Bearer token format: "Bearer {token}"
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return parts[1], nil
}

// Claims covers both our own tokens (role) and Keycloak tokens (realm_access).
type Claims struct {
	Role        string `json:"role,omitempty"`
	RealmAccess struct {
		Roles []string `json:"roles"`
	} `json:"realm_access,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) identity() (Identity, error) {
	if c.Subject == "" {
		return Identity{}, fmt.Errorf("%w: subject claim not found in token", ErrInvalidToken)
	}
	id := Identity{UserID: c.Subject, Role: models.RolePassenger}
	if strings.EqualFold(c.Role, string(models.RoleAdmin)) {
		id.Role = models.RoleAdmin
	}
	for _, r := range c.RealmAccess.Roles {
		if strings.EqualFold(r, string(models.RoleAdmin)) {
			id.Role = models.RoleAdmin
		}
	}
	return id, nil
}

// HMACVerifier checks HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	issuer string
}

func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *HMACVerifier) Verify(_ context.Context, raw string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired()}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (interface{}, error) {
		return v.secret, nil
	}, opts...)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return claims.identity()
}

// Sign issues a token for id. Used by tooling and tests.
func (v *HMACVerifier) Sign(id Identity, claims jwt.RegisteredClaims) (string, error) {
	claims.Subject = id.UserID
	if claims.Issuer == "" {
		claims.Issuer = v.issuer
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &Claims{Role: string(id.Role), RegisteredClaims: claims})
	return token.SignedString(v.secret)
}

// OIDCVerifier checks tokens against an OpenID Connect issuer such as Keycloak.
type OIDCVerifier struct {
	verifier *oidc.IDTokenVerifier
}

// NewOIDCVerifier fetches the issuer's discovery document. An empty clientID
// skips the audience check.
func NewOIDCVerifier(ctx context.Context, issuer, clientID string) (*OIDCVerifier, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider for %s: %w", issuer, err)
	}
	return &OIDCVerifier{verifier: provider.Verifier(&oidc.Config{
		ClientID:          clientID,
		SkipClientIDCheck: clientID == "",
	})}, nil
}

func (v *OIDCVerifier) Verify(ctx context.Context, raw string) (Identity, error) {
	idToken, err := v.verifier.Verify(ctx, raw)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	var claims Claims
	if err := idToken.Claims(&claims); err != nil {
		return Identity{}, fmt.Errorf("%w: failed to parse claims: %v", ErrInvalidToken, err)
	}
	claims.Subject = idToken.Subject
	return claims.identity()
}
