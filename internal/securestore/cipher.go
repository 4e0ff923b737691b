package securestore

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// formatV1 prefixes every ciphertext: version byte, 24-byte nonce, sealed box.
const formatV1 byte = 0x01

// hkdfInfo scopes the derived subkey to this store's purpose.
const hkdfInfo = "fieldsave/securestore/v1"

var (
	errShortCiphertext = errors.New("ciphertext too short")
	errUnknownFormat   = errors.New("unknown ciphertext format")
)

// sealer encrypts and decrypts values with XChaCha20-Poly1305.
type sealer struct {
	aead cipher.AEAD
}

func newSealer(deviceKey []byte) (*sealer, error) {
	if len(deviceKey) != KeySize {
		return nil, fmt.Errorf("device key: got %d bytes, want %d", len(deviceKey), KeySize)
	}

	subkey := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, deviceKey, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(h, subkey); err != nil {
		return nil, fmt.Errorf("derive subkey: %w", err)
	}

	aead, err := chacha20poly1305.NewX(subkey)
	if err != nil {
		return nil, fmt.Errorf("init cipher: %w", err)
	}
	return &sealer{aead: aead}, nil
}

// seal encrypts plaintext, binding it to ad.
func (s *sealer) seal(plaintext, ad []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	out := make([]byte, 1+nonceSize, 1+nonceSize+len(plaintext)+s.aead.Overhead())
	out[0] = formatV1
	if _, err := io.ReadFull(rand.Reader, out[1:]); err != nil {
		return nil, fmt.Errorf("nonce: %w", err)
	}
	return s.aead.Seal(out, out[1:], plaintext, ad), nil
}

// open decrypts a value produced by seal with the same ad.
func (s *sealer) open(ciphertext, ad []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(ciphertext) < 1+nonceSize+s.aead.Overhead() {
		return nil, errShortCiphertext
	}
	if ciphertext[0] != formatV1 {
		return nil, fmt.Errorf("%w: 0x%02x", errUnknownFormat, ciphertext[0])
	}
	nonce := ciphertext[1 : 1+nonceSize]
	return s.aead.Open(nil, nonce, ciphertext[1+nonceSize:], ad)
}
