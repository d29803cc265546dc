// Package opclaims issues and parses signed operation assertions: compact proofs
// that an operation reached DONE, handed to the consuming front-end alongside the
// operation detail.
package opclaims

import (
	"crypto/ed25519"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the assertion signature algorithm.
type SigningMethod string

const (
	// MethodEd25519 signs assertions with an Ed25519 key pair.
	MethodEd25519 SigningMethod = "ed25519"
	// MethodHS256 signs assertions with a shared HMAC secret.
	MethodHS256 SigningMethod = "hs256"
)

// Config holds the signing configuration. Instances are immutable after Build.
type Config struct {
	TTL           time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
}

// Manager signs and verifies operation assertions. Safe for concurrent use.
type Manager struct {
	config Config
}

// Claims is the assertion payload. The operation data is included verbatim so
// downstream consumers can verify what was approved without another lookup.
type Claims struct {
	OperationName  string `json:"opn"`
	OperationData  string `json:"opd"`
	UserID         string `json:"uid,omitempty"`
	OrganizationID string `json:"org,omitempty"`
	jwt.RegisteredClaims
}

// NewManager validates the signing configuration and returns a manager.
func NewManager(cfg Config) (*Manager, error) {
	if cfg.TTL <= 0 {
		return nil, errors.New("invalid assertion TTL")
	}
	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) == 0 {
			return nil, errors.New("hs256 requires a shared secret")
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) != ed25519.PrivateKeySize {
			return nil, errors.New("ed25519 requires a 64-byte private key")
		}
		if len(cfg.PublicKey) != ed25519.PublicKeySize {
			return nil, errors.New("ed25519 requires a 32-byte public key")
		}
	default:
		return nil, errors.New("unsupported signing method")
	}
	return &Manager{config: cfg}, nil
}

// Sign issues an assertion for a completed operation. The operation ID becomes
// the JWT ID so consumers can correlate and deduplicate.
func (m *Manager) Sign(operationID, operationName, operationData, userID, organizationID string) (string, error) {
	now := time.Now()
	claims := Claims{
		OperationName:  operationName,
		OperationData:  operationData,
		UserID:         userID,
		OrganizationID: organizationID,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        operationID,
			Issuer:    m.config.Issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.config.TTL)),
		},
	}

	switch m.config.SigningMethod {
	case MethodHS256:
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		return token.SignedString(m.config.PrivateKey)
	case MethodEd25519:
		token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
		return token.SignedString(ed25519.PrivateKey(m.config.PrivateKey))
	default:
		return "", errors.New("unsupported signing method")
	}
}

// Parse verifies an assertion and returns its claims.
func (m *Manager) Parse(tokenStr string) (*Claims, error) {
	claims := &Claims{}
	parser := jwt.NewParser(
		jwt.WithValidMethods(m.validMethods()),
		jwt.WithIssuedAt(),
	)
	_, err := parser.ParseWithClaims(tokenStr, claims, func(token *jwt.Token) (interface{}, error) {
		switch m.config.SigningMethod {
		case MethodHS256:
			return m.config.PrivateKey, nil
		case MethodEd25519:
			return ed25519.PublicKey(m.config.PublicKey), nil
		default:
			return nil, errors.New("unsupported signing method")
		}
	})
	if err != nil {
		return nil, err
	}
	return claims, nil
}

func (m *Manager) validMethods() []string {
	switch m.config.SigningMethod {
	case MethodHS256:
		return []string{jwt.SigningMethodHS256.Alg()}
	default:
		return []string{jwt.SigningMethodEdDSA.Alg()}
	}
}
