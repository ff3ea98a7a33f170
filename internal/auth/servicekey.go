// servicekey.go handles generation and hashing of service keys, the
// long-lived secrets that identify upstream writer services.
package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

const (
	// ServiceKeyLength is the length of the random part of a service key in bytes.
	ServiceKeyLength = 24
)

// GenerateServiceKey creates a new random service key of the form
// <service>_<48 hex chars> and returns both the raw key (shown to the
// administrator exactly once) and its SHA-256 hash (the only form stored).
//
// The hash is deterministic and unsalted: service keys carry 192 bits of
// entropy, so rainbow-table attacks are not a concern, and determinism lets
// validation find the credential row with a single unique-index lookup on
// key_hash instead of scanning candidates.
func GenerateServiceKey(serviceName string) (rawKey, keyHash string, err error) {
	serviceName = strings.TrimSpace(strings.ToLower(serviceName))
	if serviceName == "" {
		return "", "", errors.New("service name is required")
	}

	randomBytes := make([]byte, ServiceKeyLength)
	if _, err := rand.Read(randomBytes); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}

	rawKey = fmt.Sprintf("%s_%s", serviceName, hex.EncodeToString(randomBytes))
	return rawKey, HashServiceKey(rawKey), nil
}

// HashServiceKey returns the hex-encoded SHA-256 digest of a raw key.
func HashServiceKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// VerifyServiceKey reports whether a raw key matches a stored hash using a
// constant-time comparison.
func VerifyServiceKey(rawKey, storedHash string) bool {
	computed := HashServiceKey(rawKey)
	return subtle.ConstantTimeCompare([]byte(computed), []byte(storedHash)) == 1
}

// ExtractServiceKey pulls the service key out of an X-API-Key header value.
func ExtractServiceKey(header string) (string, error) {
	key := strings.TrimSpace(header)
	if key == "" {
		return "", errors.New("service key is empty")
	}
	return key, nil
}
