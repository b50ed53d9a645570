package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"

	"revenue-engine/pkg/config"

	"go.uber.org/fx"
)

// Cipher encrypts and decrypts opaque blobs (bank account numbers at rest).
// The key is derived from the configured secret; blobs are base64(nonce|ct).
type Cipher struct {
	aead cipher.AEAD
}

var Module = fx.Module("secret",
	fx.Provide(func(cfg *config.Config) (*Cipher, error) {
		return NewCipher(cfg.SecretAES)
	}),
)

func NewCipher(key string) (*Cipher, error) {
	if key == "" {
		return nil, errors.New("secret: empty key")
	}

	sum := sha256.Sum256([]byte(key))
	block, err := aes.NewCipher(sum[:])
	if err != nil {
		return nil, err
	}

	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}

	return &Cipher{aead: aead}, nil
}

func (c *Cipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *Cipher) Decrypt(blob string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return "", err
	}

	if len(raw) < c.aead.NonceSize() {
		return "", errors.New("secret: blob too short")
	}

	nonce, sealed := raw[:c.aead.NonceSize()], raw[c.aead.NonceSize():]
	plain, err := c.aead.Open(nil, nonce, sealed, nil)
	if err != nil {
		return "", err
	}

	return string(plain), nil
}
