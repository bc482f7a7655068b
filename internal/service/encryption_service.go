package service

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
)

// secretFormatV1 prefixes every stored webhook secret. A future key
// rotation adds v2 next to it instead of rewriting subscriptions in place.
const secretFormatV1 = "v1:"

// secretAAD binds ciphertexts to their purpose: a value sealed here does not
// open under the same key anywhere AAD differs.
var secretAAD = []byte("settlement-pipeline/webhook-secret")

// AESEncryptionService seals webhook signing secrets with AES-256-GCM before
// they reach webhook_subscriptions.secret_enc.
type AESEncryptionService struct {
	aead cipher.AEAD
}

// NewAESEncryptionService takes the 64-char hex AES-256 key from config.
func NewAESEncryptionService(hexKey string) (*AESEncryptionService, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding AES key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("AES key must be 32 bytes, got %d", len(key))
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return &AESEncryptionService{aead: aead}, nil
}

// Encrypt returns "v1:" + hex(nonce || ciphertext || tag).
func (s *AESEncryptionService) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	sealed := s.aead.Seal(nonce, nonce, []byte(plaintext), secretAAD)
	return secretFormatV1 + hex.EncodeToString(sealed), nil
}

func (s *AESEncryptionService) Decrypt(stored string) (string, error) {
	body, ok := strings.CutPrefix(stored, secretFormatV1)
	if !ok {
		return "", errors.New("unknown secret format")
	}
	data, err := hex.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("decoding ciphertext: %w", err)
	}

	n := s.aead.NonceSize()
	if len(data) < n+s.aead.Overhead() {
		return "", errors.New("ciphertext too short")
	}

	plaintext, err := s.aead.Open(nil, data[:n], data[n:], secretAAD)
	if err != nil {
		return "", fmt.Errorf("decrypting: %w", err)
	}
	return string(plaintext), nil
}
