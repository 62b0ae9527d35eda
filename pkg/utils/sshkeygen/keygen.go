package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

var ErrKeyExists = errors.New("sshkeygen: private key already exists")

// GenerateEd25519KeyPair writes an OpenSSH private key to privateKeyPath and
// its authorized_keys line to privateKeyPath + ".pub". It refuses to
// overwrite an existing key and returns the public line.
func GenerateEd25519KeyPair(privateKeyPath, comment string) (string, error) {
	if _, err := os.Stat(privateKeyPath); err == nil {
		return "", fmt.Errorf("%w: %s", ErrKeyExists, privateKeyPath)
	}

	if err := os.MkdirAll(filepath.Dir(privateKeyPath), 0o700); err != nil {
		return "", fmt.Errorf("failed to create key directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, comment)
	if err != nil {
		return "", fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(privKeyPEM), 0o600); err != nil {
		return "", fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return "", fmt.Errorf("failed to create public key: %w", err)
	}
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPubKey)))
	if comment != "" {
		line += " " + comment
	}
	if err := os.WriteFile(privateKeyPath+".pub", []byte(line+"\n"), 0o644); err != nil {
		return "", fmt.Errorf("failed to write public key: %w", err)
	}

	return line, nil
}
