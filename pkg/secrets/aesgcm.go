package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"github.com/risedev/deployctl/pkg/deployerr"
)

// AESGCM is a usable reference Provider: a 32-byte key, nonce-prefixed
// ciphertext. Real key management (rotation, KMS-backed keys) is out of
// scope; tests and local runs can generate a key with NewRandomKey.
type AESGCM struct {
	gcm cipher.AEAD
}

func NewAESGCM(key []byte) (*AESGCM, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindInvalidConfig, "constructing AES cipher", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindInvalidConfig, "constructing AES-GCM", err)
	}
	return &AESGCM{gcm: gcm}, nil
}

func NewRandomKey() ([]byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, fmt.Errorf("generating random key: %w", err)
	}
	return key, nil
}

func (p *AESGCM) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, p.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return p.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (p *AESGCM) Decrypt(ciphertext []byte) ([]byte, error) {
	size := p.gcm.NonceSize()
	if len(ciphertext) < size {
		return nil, deployerr.New(deployerr.KindInvalidConfig, "ciphertext shorter than nonce")
	}
	nonce, body := ciphertext[:size], ciphertext[size:]
	plaintext, err := p.gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, deployerr.Wrap(deployerr.KindInvalidConfig, "decrypting ciphertext", err)
	}
	return plaintext, nil
}

var _ Provider = (*AESGCM)(nil)
