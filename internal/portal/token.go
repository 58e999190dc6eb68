// Package portal implements the client-portal access tokens. A token is
// handed to a client once and never stored in clear; the server keeps the
// random prefix for lookup and an argon2id hash of the secret.
package portal

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	tokenPrefixLength = 10
	tokenSecretLength = 40
	tokenPrefix       = "pt-"
	alphabet          = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
)

const (
	argonTime    = 3
	argonMemory  = 64 * 1024
	argonThreads = 2
	argonKeyLen  = 32
	argonSaltLen = 16
)

var ErrMalformedToken = errors.New("malformed portal token")

// GenerateToken returns the lookup prefix, raw secret, and the encoded token
// shown to the client exactly once.
func GenerateToken() (prefix, secret, token string, err error) {
	prefix, err = randomString(tokenPrefixLength)
	if err != nil {
		return "", "", "", err
	}
	secret, err = randomString(tokenSecretLength)
	if err != nil {
		return "", "", "", err
	}
	return prefix, secret, fmt.Sprintf("%s%s.%s", tokenPrefix, prefix, secret), nil
}

// SplitToken breaks an encoded token back into its prefix and secret.
func SplitToken(token string) (prefix, secret string, err error) {
	rest, ok := strings.CutPrefix(token, tokenPrefix)
	if !ok {
		return "", "", ErrMalformedToken
	}
	prefix, secret, ok = strings.Cut(rest, ".")
	if !ok || prefix == "" || secret == "" {
		return "", "", ErrMalformedToken
	}
	return prefix, secret, nil
}

// HashSecret returns an encoded argon2id hash for the supplied secret.
func HashSecret(secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret required")
	}

	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	hash := argon2.IDKey([]byte(secret), salt, argonTime, argonMemory, argonThreads, argonKeyLen)

	b64Salt := base64.RawStdEncoding.EncodeToString(salt)
	b64Hash := base64.RawStdEncoding.EncodeToString(hash)

	return fmt.Sprintf("argon2id$v=19$m=%d,t=%d,p=%d$%s$%s", argonMemory, argonTime, argonThreads, b64Salt, b64Hash), nil
}

// VerifySecret compares a secret against an encoded hash string.
func VerifySecret(secret string, encoded string) (bool, error) {
	if secret == "" || encoded == "" {
		return false, errors.New("secret and hash required")
	}

	parts := strings.Split(encoded, "$")
	if len(parts) != 5 {
		return false, errors.New("invalid hash format")
	}

	var memory uint32
	var time uint32
	var threads uint8
	if _, err := fmt.Sscanf(parts[2], "m=%d,t=%d,p=%d", &memory, &time, &threads); err != nil {
		return false, fmt.Errorf("parse params: %w", err)
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[3])
	if err != nil {
		return false, fmt.Errorf("decode salt: %w", err)
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false, fmt.Errorf("decode hash: %w", err)
	}

	calculated := argon2.IDKey([]byte(secret), salt, time, memory, threads, uint32(len(expected)))
	return bytes.Equal(calculated, expected), nil
}

func randomString(length int) (string, error) {
	if length <= 0 {
		return "", fmt.Errorf("length must be positive")
	}
	out := make([]byte, length)
	max := big.NewInt(int64(len(alphabet)))
	for i := range out {
		n, err := rand.Int(rand.Reader, max)
		if err != nil {
			return "", err
		}
		out[i] = alphabet[n.Int64()]
	}
	return string(out), nil
}
