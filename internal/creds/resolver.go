package creds

import (
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrDecrypt marks credential material that cannot be decrypted. Treated as
// a configuration error: the camera is not started until its config changes.
var ErrDecrypt = errors.New("credential decryption failed")

// Resolver turns encrypted credential material into a "username:password"
// pair at worker start. Plaintext credentials are never persisted.
type Resolver interface {
	Resolve(enc string) (username, password string, err error)
}

// AESResolver decrypts AES-256-GCM sealed credentials. The stored form is
// base64(nonce || ciphertext).
type AESResolver struct {
	key []byte
}

// NewAESResolver takes the hex-encoded 32-byte key from configuration.
func NewAESResolver(hexKey string) (*AESResolver, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decode encryption key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("encryption key must be 32 bytes, got %d", len(key))
	}
	return &AESResolver{key: key}, nil
}

func (r *AESResolver) Resolve(enc string) (string, string, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", "", fmt.Errorf("%w: ciphertext too short", ErrDecrypt)
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", "", fmt.Errorf("%w: %v", ErrDecrypt, err)
	}

	user, pass, ok := strings.Cut(string(plain), ":")
	if !ok {
		return "", "", fmt.Errorf("%w: malformed credential pair", ErrDecrypt)
	}
	return user, pass, nil
}

// Seal encrypts a credential pair for storage. Used by provisioning tooling
// and tests; the worker itself only decrypts.
func (r *AESResolver) Seal(username, password string, nonce []byte) (string, error) {
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("nonce must be %d bytes", gcm.NonceSize())
	}
	sealed := gcm.Seal(nil, nonce, []byte(username+":"+password), nil)
	return base64.StdEncoding.EncodeToString(append(append([]byte{}, nonce...), sealed...)), nil
}

// BuildURL injects credentials into a stream URL, replacing any userinfo
// already present. Special characters are escaped so passwords with '@' or
// '/' survive the round trip through ffmpeg.
func BuildURL(rawURL, username, password string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse source url: %w", err)
	}
	if username == "" {
		u.User = nil
	} else {
		u.User = url.UserPassword(username, password)
	}
	return u.String(), nil
}
