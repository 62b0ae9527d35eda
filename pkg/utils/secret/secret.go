package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// Prefix marks a config value produced by Seal.
const Prefix = "enc:"

var (
	ErrMissingKey    = errors.New("secret: key is required")
	ErrSealFailed    = errors.New("secret: seal failed")
	ErrOpenFailed    = errors.New("secret: open failed")
	ErrMalformedSeal = errors.New("secret: malformed sealed value")
)

// Seal encrypts plain with AES-256-GCM under a key derived from passphrase
// and returns it as "enc:<base64(nonce|ciphertext)>".
func Seal(plain, passphrase string) (string, error) {
	gcm, err := newGCM(passphrase)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", ErrSealFailed
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plain), nil)
	return Prefix + base64.StdEncoding.EncodeToString(sealed), nil
}

// Open reverses Seal. The "enc:" prefix is optional.
func Open(sealed, passphrase string) (string, error) {
	gcm, err := newGCM(passphrase)
	if err != nil {
		return "", err
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil || len(data) < gcm.NonceSize() {
		return "", ErrMalformedSeal
	}
	nonce, body := data[:gcm.NonceSize()], data[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return "", ErrOpenFailed
	}
	return string(plain), nil
}

// Resolve returns value unchanged unless it carries the "enc:" prefix, in
// which case it is opened with passphrase.
func Resolve(value, passphrase string) (string, error) {
	if !IsSealed(value) {
		return value, nil
	}
	return Open(value, passphrase)
}

func IsSealed(value string) bool {
	return strings.HasPrefix(value, Prefix)
}

func newGCM(passphrase string) (cipher.AEAD, error) {
	if passphrase == "" {
		return nil, ErrMissingKey
	}
	key := sha256.Sum256([]byte(passphrase))
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, ErrSealFailed
	}
	return cipher.NewGCM(block)
}
