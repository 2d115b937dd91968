package config

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/crypto/scrypt"
)

// Connector credential exports are sealed with a passphrase-derived
// key: scrypt KDF over a random salt, then NaCl secretbox. The output
// layout is base64(salt[16] || nonce[24] || box).

const (
	saltLen  = 16
	nonceLen = 24

	scryptN = 32768
	scryptR = 8
	scryptP = 1
)

// ErrDecryptFailed is returned when the passphrase is wrong or the
// payload was tampered with.
var ErrDecryptFailed = errors.New("config: decryption failed")

var randReader io.Reader = rand.Reader

func deriveKey(passphrase string, salt []byte) (*[32]byte, error) {
	raw, err := scrypt.Key([]byte(passphrase), salt, scryptN, scryptR, scryptP, 32)
	if err != nil {
		return nil, fmt.Errorf("derive key: %w", err)
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// EncryptWithPassphrase seals data under passphrase for export.
func EncryptWithPassphrase(data []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("config: passphrase is required")
	}
	salt := make([]byte, saltLen)
	if _, err := io.ReadFull(randReader, salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	var nonce [nonceLen]byte
	if _, err := io.ReadFull(randReader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nil, data, &nonce, key)

	out := make([]byte, 0, saltLen+nonceLen+len(sealed))
	out = append(out, salt...)
	out = append(out, nonce[:]...)
	out = append(out, sealed...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// DecryptWithPassphrase opens a payload produced by EncryptWithPassphrase.
func DecryptWithPassphrase(payload, passphrase string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if len(raw) < saltLen+nonceLen+secretbox.Overhead {
		return nil, ErrDecryptFailed
	}
	salt := raw[:saltLen]
	var nonce [nonceLen]byte
	copy(nonce[:], raw[saltLen:saltLen+nonceLen])
	key, err := deriveKey(passphrase, salt)
	if err != nil {
		return nil, err
	}
	opened, ok := secretbox.Open(nil, raw[saltLen+nonceLen:], &nonce, key)
	if !ok {
		return nil, ErrDecryptFailed
	}
	return opened, nil
}
