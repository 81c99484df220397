package limits

import (
	"fmt"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultIssuer is the issuer expected on signed limit envelopes.
const DefaultIssuer = "aicm-api"

// signingMethods is the fixed algorithm set for envelope signatures.
var signingMethods = []string{"RS256"}

// envelopeClaims is the claim set carried by the signed payload.
type envelopeClaims struct {
	TriggeredLimits []TriggeredLimit `json:"triggered_limits"`
	jwt.RegisteredClaims
}

// decodeEnvelope verifies the envelope's signature with its embedded PEM
// public key and returns the triggered limits it carries.
func decodeEnvelope(env *Envelope, issuer string) ([]TriggeredLimit, error) {
	if env.Empty() {
		return nil, nil
	}

	publicKey, err := jwt.ParseRSAPublicKeyFromPEM([]byte(env.PublicKey))
	if err != nil {
		return nil, fmt.Errorf("invalid envelope public key: %w", err)
	}

	claims := &envelopeClaims{}
	_, err = jwt.ParseWithClaims(
		env.EncryptedPayload,
		claims,
		func(*jwt.Token) (any, error) { return publicKey, nil },
		jwt.WithValidMethods(signingMethods),
	)
	if err != nil {
		return nil, fmt.Errorf("envelope verification failed: %w", err)
	}
	if issuer != "" && claims.Issuer != issuer {
		return nil, fmt.Errorf("unexpected envelope issuer %q", claims.Issuer)
	}
	return claims.TriggeredLimits, nil
}
