// Package secrets seals remote calendar tokens before they reach the document store.
package secrets

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
	"golang.org/x/crypto/nacl/secretbox"
	"golang.org/x/oauth2"
)

const nonceSize = 24

var ErrCorrupt = errors.New("secrets: sealed value is corrupt or was sealed with a different key")

// Box encrypts small values with a key derived from the session secret.
type Box struct {
	key [32]byte
}

// NewBox derives a dedicated encryption key from secret so the raw session
// secret is never used directly as a cipher key.
func NewBox(secret string) (*Box, error) {
	if secret == "" {
		return nil, errors.New("secrets: empty secret")
	}
	b := &Box{}
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("planner remote token v1"))
	if _, err := io.ReadFull(kdf, b.key[:]); err != nil {
		return nil, fmt.Errorf("secrets: derive key: %w", err)
	}
	return b, nil
}

// Seal returns nonce||ciphertext.
func (b *Box) Seal(plaintext []byte) ([]byte, error) {
	var nonce [nonceSize]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return nil, fmt.Errorf("secrets: nonce: %w", err)
	}
	return secretbox.Seal(nonce[:], plaintext, &nonce, &b.key), nil
}

func (b *Box) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < nonceSize+secretbox.Overhead {
		return nil, ErrCorrupt
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	out, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, &b.key)
	if !ok {
		return nil, ErrCorrupt
	}
	return out, nil
}

// SealToken serializes and seals an OAuth token.
func (b *Box) SealToken(tok *oauth2.Token) ([]byte, error) {
	if tok == nil {
		return nil, errors.New("secrets: nil token")
	}
	raw, err := json.Marshal(tok)
	if err != nil {
		return nil, fmt.Errorf("secrets: encode token: %w", err)
	}
	return b.Seal(raw)
}

func (b *Box) OpenToken(sealed []byte) (*oauth2.Token, error) {
	raw, err := b.Open(sealed)
	if err != nil {
		return nil, err
	}
	var tok oauth2.Token
	if err := json.Unmarshal(raw, &tok); err != nil {
		return nil, fmt.Errorf("secrets: decode token: %w", err)
	}
	return &tok, nil
}
