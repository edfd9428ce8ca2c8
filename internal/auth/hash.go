package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // 64 MB
	argonThreads = 4
	argonKeyLen  = 32
	saltLen      = 16
)

// HashAPIKey hashes an API key using Argon2id. The result is "salt$hash" in
// unpadded URL-safe base64, so it can sit inside GUIDEMATCH_API_KEYS without
// colliding with the ':' and ',' separators.
func HashAPIKey(apiKey string) (string, error) {
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generate salt: %w", err)
	}
	sum := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return b64.EncodeToString(salt) + "$" + b64.EncodeToString(sum), nil
}

var b64 = base64.RawURLEncoding

// DummyVerify performs an Argon2id hash with the same cost as a real check.
// Call it on failure paths where no real hash was compared so that response
// timing does not reveal whether any key matched.
func DummyVerify() {
	argon2.IDKey([]byte("dummy"), make([]byte, saltLen), argonTime, argonMemory, argonThreads, argonKeyLen)
}

// VerifyAPIKey checks an API key against an encoded Argon2id hash.
func VerifyAPIKey(apiKey, encoded string) (bool, error) {
	salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey([]byte(apiKey), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return subtle.ConstantTimeCompare(want, got) == 1, nil
}

func decodeHash(encoded string) (salt, sum []byte, err error) {
	saltPart, sumPart, ok := strings.Cut(encoded, "$")
	if !ok {
		return nil, nil, errors.New("auth: invalid hash format")
	}
	if salt, err = b64.DecodeString(saltPart); err != nil {
		return nil, nil, fmt.Errorf("auth: decode salt: %w", err)
	}
	if sum, err = b64.DecodeString(sumPart); err != nil {
		return nil, nil, fmt.Errorf("auth: decode hash: %w", err)
	}
	if len(sum) != argonKeyLen {
		return nil, nil, fmt.Errorf("auth: hash is %d bytes, want %d", len(sum), argonKeyLen)
	}
	return salt, sum, nil
}
