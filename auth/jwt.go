package auth

import (
	"crypto/rsa"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims represents JWT token claims
type Claims struct {
	Sub               string      `json:"sub"`
	Iss               string      `json:"iss"`
	Aud               interface{} `json:"aud"`
	Exp               int64       `json:"exp"`
	Iat               int64       `json:"iat"`
	Email             string      `json:"email"`
	EmailVerified     bool        `json:"email_verified"`
	PreferredUsername string      `json:"preferred_username"`
	Name              string      `json:"name"`
	jwt.RegisteredClaims
}

// JWKS represents the JSON Web Key Set response from the identity provider
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// JWK represents a JSON Web Key
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
	Alg string `json:"alg"`
}

// JWTValidator validates bearer tokens and resolves the effective principal.
// Beyond signature checks it enforces an optional user allow-list and honors
// the X-Service-Account delegation header for trusted services.
type JWTValidator struct {
	secret          []byte
	allowedIssuers  []string
	allowedUsers    map[string]struct{}
	trustedServices map[string]struct{}
	jwksURL         string
}

// NewJWTValidator creates a new JWT validator. Empty allow-lists disable the
// corresponding check.
func NewJWTValidator(secret string, allowedIssuers, allowedUsers, trustedServices []string) *JWTValidator {
	jwksURL := os.Getenv("JWKS_URL")
	if jwksURL == "" {
		jwksURL = "http://localhost:8081/realms/master/protocol/openid-connect/certs"
	}

	return &JWTValidator{
		secret:          []byte(secret),
		allowedIssuers:  allowedIssuers,
		allowedUsers:    toSet(allowedUsers),
		trustedServices: toSet(trustedServices),
		jwksURL:         jwksURL,
	}
}

func toSet(values []string) map[string]struct{} {
	if len(values) == 0 {
		return nil
	}
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}

// ValidateToken validates a JWT token string and returns claims
func (v *JWTValidator) ValidateToken(tokenString string) (*Claims, error) {
	tokenString = strings.TrimPrefix(tokenString, "Bearer ")

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); ok {
			kid, ok := token.Header["kid"].(string)
			if !ok {
				return nil, errors.New("token missing kid header")
			}
			return v.getRSAPublicKey(kid)
		}
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); ok {
			return v.secret, nil
		}
		return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid token claims")
	}

	if claims.Exp > 0 && time.Now().Unix() > claims.Exp {
		return nil, errors.New("token has expired")
	}

	if len(v.allowedIssuers) > 0 {
		validIssuer := false
		for _, allowedIss := range v.allowedIssuers {
			if claims.Iss == allowedIss {
				validIssuer = true
				break
			}
		}
		if !validIssuer {
			return nil, fmt.Errorf("invalid issuer: %s", claims.Iss)
		}
	}

	if v.allowedUsers != nil {
		if !v.userAllowed(claims) {
			return nil, fmt.Errorf("user '%s' is not in the allow-list", principalOf(claims))
		}
	}

	return claims, nil
}

func (v *JWTValidator) userAllowed(claims *Claims) bool {
	for _, candidate := range []string{claims.Sub, claims.Email, claims.PreferredUsername} {
		if candidate == "" {
			continue
		}
		if _, ok := v.allowedUsers[candidate]; ok {
			return true
		}
	}
	return false
}

func principalOf(claims *Claims) string {
	if claims.Email != "" {
		return claims.Email
	}
	return claims.Sub
}

// ResolveEffectiveUser returns the uploaded_by principal for a request. A
// trusted service may delegate through the X-Service-Account header value;
// for everyone else the header is ignored and the JWT subject wins.
func (v *JWTValidator) ResolveEffectiveUser(claims *Claims, serviceAccountHeader string) string {
	subject := principalOf(claims)

	if serviceAccountHeader == "" || v.trustedServices == nil {
		return subject
	}
	if _, trusted := v.trustedServices[claims.Sub]; !trusted {
		return subject
	}
	return serviceAccountHeader
}

// getRSAPublicKey fetches the RSA public key from the JWKS endpoint
func (v *JWTValidator) getRSAPublicKey(kid string) (*rsa.PublicKey, error) {
	resp, err := http.Get(v.jwksURL)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch JWKS: %w", err)
	}
	defer resp.Body.Close()

	var jwks JWKS
	if err := json.NewDecoder(resp.Body).Decode(&jwks); err != nil {
		return nil, fmt.Errorf("failed to decode JWKS: %w", err)
	}

	for _, key := range jwks.Keys {
		if key.Kid == kid && key.Kty == "RSA" {
			return v.parseRSAPublicKey(key)
		}
	}

	return nil, fmt.Errorf("no RSA key found with kid: %s", kid)
}

// parseRSAPublicKey converts JWK to RSA public key
func (v *JWTValidator) parseRSAPublicKey(jwk JWK) (*rsa.PublicKey, error) {
	nBytes, err := base64.RawURLEncoding.DecodeString(jwk.N)
	if err != nil {
		return nil, fmt.Errorf("failed to decode modulus: %w", err)
	}

	eBytes, err := base64.RawURLEncoding.DecodeString(jwk.E)
	if err != nil {
		return nil, fmt.Errorf("failed to decode exponent: %w", err)
	}

	n := big.NewInt(0).SetBytes(nBytes)
	e := big.NewInt(0).SetBytes(eBytes)

	return &rsa.PublicKey{
		N: n,
		E: int(e.Int64()),
	}, nil
}
