package authorization

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	gocache "github.com/patrickmn/go-cache"

	"caff_back/failure"
)

const (
	realmKeyCacheKey = "realm_public_key"
	realmKeyTTL      = time.Hour
	realmFetchLimit  = 1 << 20
)

// Resolver turns a bearer credential into an identity.
type Resolver interface {
	Resolve(ctx context.Context, bearer string) (*Identity, error)
}

// KeycloakResolver verifies RS256 access tokens issued by a Keycloak realm.
// When an HS256 secret is configured, tokens signed with it are accepted too.
type KeycloakResolver struct {
	realmURL   string
	hmacSecret []byte
	client     *http.Client
	keys       *gocache.Cache
	now        func() time.Time
}

// ResolverOption configures a KeycloakResolver.
type ResolverOption func(*KeycloakResolver)

// WithHTTPClient replaces the client used to fetch the realm key.
func WithHTTPClient(client *http.Client) ResolverOption {
	return func(r *KeycloakResolver) {
		if client != nil {
			r.client = client
		}
	}
}

// WithHS256Secret accepts HS256 tokens signed with secret.
func WithHS256Secret(secret string) ResolverOption {
	return func(r *KeycloakResolver) {
		if secret != "" {
			r.hmacSecret = []byte(secret)
		}
	}
}

// WithClock overrides the time source used for expiry checks.
func WithClock(now func() time.Time) ResolverOption {
	return func(r *KeycloakResolver) {
		if now != nil {
			r.now = now
		}
	}
}

// NewKeycloakResolver builds a resolver for the given realm URL, e.g.
// https://sso.example.com/realms/caff.
func NewKeycloakResolver(realmURL string, opts ...ResolverOption) (*KeycloakResolver, error) {
	r := &KeycloakResolver{
		realmURL: strings.TrimSuffix(strings.TrimSpace(realmURL), "/"),
		client:   &http.Client{Timeout: 10 * time.Second},
		keys:     gocache.New(realmKeyTTL, 2*realmKeyTTL),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.realmURL == "" && len(r.hmacSecret) == 0 {
		return nil, errors.New("authorization: KEYCLOAK_REALM_URL or AUTH_HS256_SECRET is required")
	}
	return r, nil
}

type realmAccess struct {
	Roles []string `json:"roles"`
}

type accessClaims struct {
	PreferredUsername string      `json:"preferred_username"`
	Name              string      `json:"name"`
	RealmAccess       realmAccess `json:"realm_access"`
	jwt.RegisteredClaims
}

// Resolve verifies bearer and maps its claims onto an Identity. Every
// verification failure is reported as failure.Unauthorized.
func (r *KeycloakResolver) Resolve(ctx context.Context, bearer string) (*Identity, error) {
	raw := strings.TrimSpace(bearer)
	if raw == "" {
		return nil, failure.Newf(failure.Unauthorized, "missing bearer token")
	}

	var claims accessClaims
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodRS256.Alg(), jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(r.now),
	)
	_, err := parser.ParseWithClaims(raw, &claims, func(token *jwt.Token) (interface{}, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodRSA:
			return r.realmPublicKey(ctx)
		case *jwt.SigningMethodHMAC:
			if len(r.hmacSecret) == 0 {
				return nil, errors.New("HS256 tokens are not accepted")
			}
			return r.hmacSecret, nil
		default:
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			r.keys.Delete(realmKeyCacheKey)
		}
		return nil, failure.New(failure.Unauthorized, fmt.Errorf("invalid token: %w", err))
	}

	subject := strings.TrimSpace(claims.Subject)
	if subject == "" {
		return nil, failure.Newf(failure.Unauthorized, "token has no subject")
	}

	name := strings.TrimSpace(claims.PreferredUsername)
	if name == "" {
		name = strings.TrimSpace(claims.Name)
	}
	if name == "" {
		name = subject
	}

	role := RoleUser
	for _, candidate := range claims.RealmAccess.Roles {
		if parsed, ok := ParseRole(candidate); ok && parsed == RoleAdmin {
			role = RoleAdmin
			break
		}
	}

	return &Identity{SubjectID: subject, Name: name, Role: role}, nil
}

type realmDescriptor struct {
	Realm     string `json:"realm"`
	PublicKey string `json:"public_key"`
}

func (r *KeycloakResolver) realmPublicKey(ctx context.Context) (interface{}, error) {
	if cached, ok := r.keys.Get(realmKeyCacheKey); ok {
		return cached, nil
	}
	if r.realmURL == "" {
		return nil, errors.New("RS256 tokens require KEYCLOAK_REALM_URL")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.realmURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build realm request: %w", err)
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch realm key: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch realm key: unexpected status %d", resp.StatusCode)
	}

	var desc realmDescriptor
	if err := json.NewDecoder(io.LimitReader(resp.Body, realmFetchLimit)).Decode(&desc); err != nil {
		return nil, fmt.Errorf("decode realm descriptor: %w", err)
	}
	encoded := strings.TrimSpace(desc.PublicKey)
	if encoded == "" {
		return nil, errors.New("realm descriptor has no public_key")
	}

	pem := "-----BEGIN PUBLIC KEY-----\n" + encoded + "\n-----END PUBLIC KEY-----\n"
	key, err := jwt.ParseRSAPublicKeyFromPEM([]byte(pem))
	if err != nil {
		return nil, fmt.Errorf("parse realm public key: %w", err)
	}

	r.keys.SetDefault(realmKeyCacheKey, key)
	return key, nil
}

// BearerToken extracts the credential from an Authorization header value.
func BearerToken(header string) string {
	header = strings.TrimSpace(header)
	if len(header) < 7 || !strings.EqualFold(header[:7], "bearer ") {
		return ""
	}
	return strings.TrimSpace(header[7:])
}
