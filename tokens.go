package flakeid

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
	"strconv"
)

// DefaultTokenLength is the length of a full encoded sha256 digest.
const DefaultTokenLength = 43

const tokenEntropyBytes = 32

// TokenGenerator produces opaque random tokens (session keys, invite codes)
// salted with the node id, so two nodes never share an input even if their
// random sources did.
type TokenGenerator struct {
	salt []byte
}

// NewTokenGenerator creates a token generator salted with nodeID.
func NewTokenGenerator(nodeID int) *TokenGenerator {
	return &TokenGenerator{salt: []byte(strconv.Itoa(nodeID))}
}

// Generate returns a token of DefaultTokenLength characters.
func (t *TokenGenerator) Generate() (string, error) {
	return t.GenerateWithLength(DefaultTokenLength)
}

// GenerateWithLength returns a URL-safe token of min(length, DefaultTokenLength)
// characters.
func (t *TokenGenerator) GenerateWithLength(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("got %d: %w", length, ErrInvalidTokenLength)
	}

	var entropy = make([]byte, tokenEntropyBytes)
	if _, err := rand.Read(entropy); err != nil {
		return "", fmt.Errorf("failed to read random bytes: %w", err)
	}

	var h = sha256.New()
	h.Write(t.salt)
	h.Write(entropy)

	var token = base64.RawURLEncoding.EncodeToString(h.Sum(nil))
	if length < len(token) {
		token = token[:length]
	}
	return token, nil
}
