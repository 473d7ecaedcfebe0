// Package config handles environment configuration and at-rest encryption of
// provider credentials for LUMEN.BUILD.
package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"

	"golang.org/x/crypto/pbkdf2"
)

var (
	errInvalidKey       = errors.New("invalid encryption key")
	ErrDecryptionFailed = errors.New("decryption failed: data corrupted or wrong master key")
)

// keeperSalt is a fixed application salt for deriving the AES key from the
// master key. Per-value randomness comes from the GCM nonce.
const keeperSalt = "lumen-build/provider-keys/v1"

const pbkdf2Iterations = 100000

// Keeper encrypts and decrypts provider API keys with AES-256-GCM.
type Keeper struct {
	key []byte
}

// NewKeeper derives an encryption key from the base64-encoded master key.
func NewKeeper(masterKeyBase64 string) (*Keeper, error) {
	if masterKeyBase64 == "" {
		return nil, errInvalidKey
	}
	master, err := base64.StdEncoding.DecodeString(masterKeyBase64)
	if err != nil {
		return nil, fmt.Errorf("invalid master key format: %w", err)
	}
	if len(master) < 32 {
		return nil, errInvalidKey
	}
	key := pbkdf2.Key(master, []byte(keeperSalt), pbkdf2Iterations, 32, sha256.New)
	return &Keeper{key: key}, nil
}

// KeeperFromEnv builds a Keeper from SECRETS_MASTER_KEY. In non-production
// environments a missing key yields an ephemeral random key so local runs
// work out of the box; production fails hard.
func KeeperFromEnv() (*Keeper, error) {
	masterKey := os.Getenv("SECRETS_MASTER_KEY")
	if masterKey == "" {
		if os.Getenv("ENVIRONMENT") == "production" {
			return nil, errors.New("SECRETS_MASTER_KEY is required in production")
		}
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		masterKey = base64.StdEncoding.EncodeToString(raw)
	}
	return NewKeeper(masterKey)
}

// Encrypt seals plaintext and returns base64(nonce || ciphertext).
func (k *Keeper) Encrypt(plaintext string) (string, error) {
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt reverses Encrypt.
func (k *Keeper) Decrypt(ciphertextBase64 string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(ciphertextBase64)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrDecryptionFailed, err)
	}
	block, err := aes.NewCipher(k.key)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(raw) < gcm.NonceSize() {
		return "", ErrDecryptionFailed
	}
	nonce, sealed := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]
	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// GenerateMasterKey returns a fresh base64 master key for initial setup.
func GenerateMasterKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// Getenv returns the value of key or def when unset.
func Getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
