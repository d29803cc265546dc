package secret

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"io"
	"strings"
)

// ErrEnvelopeMalformed is returned when the envelope is not two base64 segments
// separated by a colon, or decryption fails.
var ErrEnvelopeMalformed = errors.New("malformed encryption envelope")

// Envelope decrypts the {ivBase64}:{cipherTextBase64} end-to-end encryption
// format applied to presented credential values in transit. The IV segment is the
// AES-GCM nonce.
type Envelope struct {
	aead cipher.AEAD
}

// NewEnvelope builds an envelope codec from a base64-encoded AES key.
func NewEnvelope(keyBase64 string) (*Envelope, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &Envelope{aead: aead}, nil
}

// Open decodes and decrypts one envelope, returning the plaintext value.
func (e *Envelope) Open(envelope string) (string, error) {
	ivPart, ctPart, ok := strings.Cut(envelope, ":")
	if !ok {
		return "", ErrEnvelopeMalformed
	}
	iv, err := base64.StdEncoding.DecodeString(ivPart)
	if err != nil {
		return "", ErrEnvelopeMalformed
	}
	ct, err := base64.StdEncoding.DecodeString(ctPart)
	if err != nil {
		return "", ErrEnvelopeMalformed
	}
	if len(iv) != e.aead.NonceSize() {
		return "", ErrEnvelopeMalformed
	}
	plain, err := e.aead.Open(nil, iv, ct, nil)
	if err != nil {
		return "", ErrEnvelopeMalformed
	}
	return string(plain), nil
}

// Seal encrypts value into envelope format. Used by callers simulating the
// front-end side and by tests.
func (e *Envelope) Seal(value string) (string, error) {
	iv := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, iv); err != nil {
		return "", err
	}
	ct := e.aead.Seal(nil, iv, []byte(value), nil)
	return base64.StdEncoding.EncodeToString(iv) + ":" + base64.StdEncoding.EncodeToString(ct), nil
}
