package knowledge

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/pbkdf2"
)

// cryptoManager seals and opens the store's on-disk JSON with AES-GCM,
// keyed by a secret derived with PBKDF2. Mirrors the CryptoManager contract
// referenced from the knowledge store this package is grounded on
// (NewCryptoManagerAt/Encrypt/Decrypt). The key is derived from a configured
// secret and a random salt that is generated once and persisted 0600
// alongside the store; without a secret no cryptoManager is built.
type cryptoManager struct {
	gcm cipher.AEAD
}

const (
	pbkdf2Iterations = 100_000
	keyLen           = 32 // AES-256
	saltFile         = ".cortex_salt"
)

// newCryptoManagerAt derives the store's encryption key from a secret and a
// per-store salt file under dataDir, creating the salt file if absent.
func newCryptoManagerAt(dataDir, secret string) (*cryptoManager, error) {
	if secret == "" {
		return nil, errors.New("no encryption secret configured")
	}

	salt, err := loadOrCreateSalt(filepath.Join(dataDir, saltFile))
	if err != nil {
		return nil, fmt.Errorf("loading salt: %w", err)
	}

	key := pbkdf2.Key([]byte(secret), salt, pbkdf2Iterations, keyLen, sha256.New)

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("building cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("building gcm: %w", err)
	}

	return &cryptoManager{gcm: gcm}, nil
}

func loadOrCreateSalt(path string) ([]byte, error) {
	if data, err := os.ReadFile(path); err == nil {
		return data, nil
	}

	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	if err := os.WriteFile(path, salt, 0o600); err != nil {
		return nil, err
	}
	return salt, nil
}

// Encrypt seals plaintext, prefixing the nonce.
func (c *cryptoManager) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens data sealed by Encrypt.
func (c *cryptoManager) Decrypt(data []byte) ([]byte, error) {
	ns := c.gcm.NonceSize()
	if len(data) < ns {
		return nil, errors.New("ciphertext too short")
	}
	nonce, ciphertext := data[:ns], data[ns:]
	return c.gcm.Open(nil, nonce, ciphertext, nil)
}
