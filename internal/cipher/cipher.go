// Package cipher encrypts holder-wallet technical-user secrets with a
// rotatable set of symmetric keys. Every stored record carries the index of
// the config that encrypted it, so rotating the active index never orphans
// old ciphertexts.
package cipher

import (
	"bytes"
	"crypto/aes"
	cryptocipher "crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/pbkdf2"

	dErrors "issuant/pkg/domain-errors"
)

const (
	keySize = 32 // AES-256

	// pbkdf2Iterations follows current OWASP guidance for PBKDF2-SHA256.
	pbkdf2Iterations = 600_000
)

// Config is one encryption configuration. Key material comes either from a
// 64-char hex key or is derived from a passphrase and salt.
type Config struct {
	Index int
	key   []byte
}

// NewConfigFromHexKey builds a config from a 32-byte hex-encoded key.
func NewConfigFromHexKey(index int, hexKey string) (Config, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return Config{}, dErrors.Wrap(err, dErrors.CodeInvalidInput, "encryption key must be hex encoded")
	}
	if len(key) != keySize {
		return Config{}, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("encryption key must be %d bytes, got %d", keySize, len(key)))
	}
	return Config{Index: index, key: key}, nil
}

// NewConfigFromPassphrase derives a key from a passphrase via PBKDF2-SHA256.
func NewConfigFromPassphrase(index int, passphrase, salt string) (Config, error) {
	if passphrase == "" || salt == "" {
		return Config{}, dErrors.New(dErrors.CodeInvalidInput, "passphrase and salt are required")
	}
	key := pbkdf2.Key([]byte(passphrase), []byte(salt), pbkdf2Iterations, keySize, sha256.New)
	return Config{Index: index, key: key}, nil
}

// Registry maps config indexes to keys. The active index is used for new
// encryptions; decryption uses whatever index the record was stored with.
type Registry struct {
	configs     map[int]Config
	activeIndex int
}

// NewRegistry builds a registry from configs. The active index must be present.
func NewRegistry(activeIndex int, configs ...Config) (*Registry, error) {
	if len(configs) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "at least one encryption config is required")
	}
	byIndex := make(map[int]Config, len(configs))
	for _, c := range configs {
		if _, dup := byIndex[c.Index]; dup {
			return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("duplicate encryption config index %d", c.Index))
		}
		byIndex[c.Index] = c
	}
	if _, ok := byIndex[activeIndex]; !ok {
		return nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("active encryption config index %d is not configured", activeIndex))
	}
	return &Registry{configs: byIndex, activeIndex: activeIndex}, nil
}

// ActiveIndex returns the index used for new encryptions.
func (r *Registry) ActiveIndex() int {
	return r.activeIndex
}

// Encrypt enciphers plaintext under the config at index using AES-256-CBC
// with PKCS#7 padding and a fresh random IV per call.
func (r *Registry) Encrypt(plaintext string, index int) (ciphertext, iv []byte, err error) {
	cfg, ok := r.configs[index]
	if !ok {
		return nil, nil, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("encryption config index %d is not configured", index))
	}

	block, err := aes.NewCipher(cfg.key)
	if err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize cipher")
	}

	iv = make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not generate initialization vector")
	}

	padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
	ciphertext = make([]byte, len(padded))
	cryptocipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, iv, nil
}

// Decrypt deciphers a (ciphertext, iv) pair produced with the config at index.
func (r *Registry) Decrypt(ciphertext, iv []byte, index int) (string, error) {
	cfg, ok := r.configs[index]
	if !ok {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("encryption config index %d is not configured", index))
	}
	if len(iv) != aes.BlockSize {
		return "", dErrors.New(dErrors.CodeInvalidInput, "initialization vector must be one block")
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "ciphertext must be a positive multiple of the block size")
	}

	block, err := aes.NewCipher(cfg.key)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize cipher")
	}

	padded := make([]byte, len(ciphertext))
	cryptocipher.NewCBCDecrypter(block, iv).CryptBlocks(padded, ciphertext)

	plaintext, err := pkcs7Unpad(padded, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(padLen)}, padLen)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "malformed ciphertext")
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > blockSize || padLen > len(data) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "could not decrypt: invalid padding")
	}
	pad := data[len(data)-padLen:]
	expected := bytes.Repeat([]byte{byte(padLen)}, padLen)
	if subtle.ConstantTimeCompare(pad, expected) != 1 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "could not decrypt: invalid padding")
	}
	return data[:len(data)-padLen], nil
}
