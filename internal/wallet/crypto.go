package wallet

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"os"
)

// EncryptionKeyEnv names the env var holding the 64-hex-char AES-256 key
// used to encrypt private keys at rest.
const EncryptionKeyEnv = "CHAINMIND_ENCRYPT_KEY"

// KeyFromEnv loads and validates the wallet encryption key. Its absence
// is a fatal boot-time condition for callers.
func KeyFromEnv() ([]byte, error) {
	keyHex := os.Getenv(EncryptionKeyEnv)
	if keyHex == "" {
		return nil, fmt.Errorf("%s not set", EncryptionKeyEnv)
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", EncryptionKeyEnv, err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("%s must be 64 hex chars (32 bytes), got %d bytes", EncryptionKeyEnv, len(key))
	}
	return key, nil
}

// encrypt seals plaintext with AES-256-GCM, nonce prepended.
func encrypt(key, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generate nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// decrypt opens ciphertext produced by encrypt.
func decrypt(key, ciphertext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("new cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonceSize := gcm.NonceSize()
	if len(ciphertext) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ct := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypt: %w", err)
	}
	return plaintext, nil
}
