package crypto

import (
	"crypto/cipher"

	"github.com/pkg/errors"
	"golang.org/x/crypto/chacha20poly1305"
)

// Seal encrypts plaintext with ChaCha20-Poly1305. The result carries the
// 16 byte tag.
func Seal(key, nonce, plaintext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	return aead.Seal(nil, nonce, plaintext, additionalData), nil
}

// Open decrypts and authenticates ciphertext.
func Open(key, nonce, ciphertext, additionalData []byte) ([]byte, error) {
	aead, err := newAEAD(key, nonce)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, nonce, ciphertext, additionalData)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decrypt")
	}
	return plaintext, nil
}

func newAEAD(key, nonce []byte) (cipher.AEAD, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, errors.Errorf("invalid key size: must be %d bytes", chacha20poly1305.KeySize)
	}
	if len(nonce) != chacha20poly1305.NonceSize {
		return nil, errors.Errorf("invalid nonce size: must be %d bytes", chacha20poly1305.NonceSize)
	}
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create ChaCha20-Poly1305 AEAD")
	}
	return aead, nil
}
