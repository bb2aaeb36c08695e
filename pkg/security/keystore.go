package security

import (
	"context"
	"crypto/rsa"
	"crypto/x509"
	"encoding/json"
	"encoding/pem"
	"fmt"
	"strings"

	"github.com/berthcare/berthcare/pkg/config"
)

// KeyPair holds one RSA signing key addressed by kid.
type KeyPair struct {
	Kid     string
	Private *rsa.PrivateKey
	Public  *rsa.PublicKey
}

// KeySet holds the active signing key plus prior keys kept for verification
// during rotation. It is built once at init and read lock-free afterwards.
type KeySet struct {
	activeKid string
	keys      map[string]*KeyPair
}

// SecretFetcher fetches a secret string by ARN. Implemented by the AWS
// Secrets Manager client wrapper; tests substitute a fixture.
type SecretFetcher interface {
	FetchSecret(ctx context.Context, arn string) (string, error)
}

// keySetJSON is the wire format for inline and Secrets Manager key sets.
type keySetJSON struct {
	ActiveKid string `json:"active_kid"`
	Keys      map[string]struct {
		PrivatePEM string `json:"private_pem"`
		PublicPEM  string `json:"public_pem"`
	} `json:"keys"`
}

// LoadKeySet builds the key set from the first usable source, in precedence
// order: inline configured JSON, the PEM pair in the environment, a managed
// secret fetched at init. The process must not start without an active key.
func LoadKeySet(ctx context.Context, cfg *config.Config, fetcher SecretFetcher) (*KeySet, error) {
	if cfg.JWTKeysJSON != "" {
		ks, err := parseKeySetJSON([]byte(cfg.JWTKeysJSON))
		if err != nil {
			return nil, fmt.Errorf("failed to parse inline key set: %w", err)
		}
		return ks, nil
	}

	if cfg.JWTPrivateKey != "" {
		kid := cfg.JWTKeyID
		if kid == "" {
			kid = "primary"
		}
		pair, err := parseKeyPair(kid, cfg.JWTPrivateKey, cfg.JWTPublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT key pair from environment: %w", err)
		}
		return &KeySet{
			activeKid: kid,
			keys:      map[string]*KeyPair{kid: pair},
		}, nil
	}

	if cfg.JWTKeysSecretARN != "" {
		if fetcher == nil {
			return nil, fmt.Errorf("JWT_KEYS_SECRET_ARN set but no secret fetcher configured")
		}
		raw, err := fetcher.FetchSecret(ctx, cfg.JWTKeysSecretARN)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch JWT key set from secret store: %w", err)
		}
		ks, err := parseKeySetJSON([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to parse JWT key set secret: %w", err)
		}
		return ks, nil
	}

	return nil, fmt.Errorf("no JWT signing key configured")
}

func parseKeySetJSON(data []byte) (*KeySet, error) {
	var raw keySetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw.ActiveKid == "" {
		return nil, fmt.Errorf("key set missing active_kid")
	}

	keys := make(map[string]*KeyPair, len(raw.Keys))
	for kid, entry := range raw.Keys {
		pair, err := parseKeyPair(kid, entry.PrivatePEM, entry.PublicPEM)
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", kid, err)
		}
		keys[kid] = pair
	}
	if _, ok := keys[raw.ActiveKid]; !ok {
		return nil, fmt.Errorf("active_kid %q not present in keys", raw.ActiveKid)
	}
	return &KeySet{activeKid: raw.ActiveKid, keys: keys}, nil
}

// parseKeyPair decodes a PEM private key and optional public key. When the
// public PEM is omitted it is derived from the private key.
func parseKeyPair(kid, privatePEM, publicPEM string) (*KeyPair, error) {
	priv, err := parseRSAPrivateKey(privatePEM)
	if err != nil {
		return nil, err
	}

	pub := &priv.PublicKey
	if publicPEM != "" {
		pub, err = parseRSAPublicKey(publicPEM)
		if err != nil {
			return nil, err
		}
	}

	return &KeyPair{Kid: kid, Private: priv, Public: pub}, nil
}

func parseRSAPrivateKey(pemStr string) (*rsa.PrivateKey, error) {
	block, _ := pem.Decode([]byte(normalizePEM(pemStr)))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in private key")
	}

	// PKCS#8 first, then PKCS#1.
	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PrivateKey)
		if !ok {
			return nil, fmt.Errorf("private key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA private key: %w", err)
	}
	return key, nil
}

func parseRSAPublicKey(pemStr string) (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(normalizePEM(pemStr)))
	if block == nil {
		return nil, fmt.Errorf("no PEM block found in public key")
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		rsaKey, ok := key.(*rsa.PublicKey)
		if !ok {
			return nil, fmt.Errorf("public key is not RSA")
		}
		return rsaKey, nil
	}
	key, err := x509.ParsePKCS1PublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse RSA public key: %w", err)
	}
	return key, nil
}

// normalizePEM accepts keys passed through environment variables with
// literal "\n" escapes.
func normalizePEM(s string) string {
	return strings.ReplaceAll(s, `\n`, "\n")
}

// ActiveKid returns the kid used for signing.
func (ks *KeySet) ActiveKid() string {
	return ks.activeKid
}

// Active returns the active signing key pair.
func (ks *KeySet) Active() *KeyPair {
	return ks.keys[ks.activeKid]
}

// Public returns the public key for kid, if known.
func (ks *KeySet) Public(kid string) (*rsa.PublicKey, bool) {
	pair, ok := ks.keys[kid]
	if !ok {
		return nil, false
	}
	return pair.Public, true
}

// PublicKeys returns every known public key. Verification falls back across
// these when a token carries an unknown or missing kid.
func (ks *KeySet) PublicKeys() []*rsa.PublicKey {
	out := make([]*rsa.PublicKey, 0, len(ks.keys))
	for _, pair := range ks.keys {
		out = append(out, pair.Public)
	}
	return out
}
