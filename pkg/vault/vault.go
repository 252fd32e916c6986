// Package vault encrypts evidentiary media before it reaches the
// content-addressed store and verifies integrity on the way back out.
package vault

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"io"

	"safechain/pkg/errors"
	"safechain/pkg/hashstore"
)

// MediaObject pairs an encrypted payload's storage address with the digest
// of its plaintext. PlainDigest backs external verification claims; KeyRef
// is an opaque handle into the key provider, never the key itself.
type MediaObject struct {
	PlainDigest string `json:"plain_digest"`
	CipherRef   string `json:"cipher_ref"`
	KeyRef      string `json:"key_ref"`
}

// KeyProvider hands out and resolves encryption keys. Production binds this
// to the wallet/KMS integration; the memory provider covers dev and tests.
type KeyProvider interface {
	// NewKey mints a fresh 32-byte key and returns its opaque reference.
	NewKey(ctx context.Context) (ref string, key []byte, err error)

	// Key resolves a previously minted reference.
	Key(ctx context.Context, ref string) ([]byte, error)
}

// Vault encrypts payloads with AES-256-GCM and stores ciphertext in a
// content-addressed backend. The GCM tag rejects corrupted ciphertext
// before decryption completes; the plaintext digest check catches key
// mix-ups and store substitution independently.
type Vault struct {
	store hashstore.Store
	keys  KeyProvider
}

// New creates a Vault over the given store and key provider.
func New(store hashstore.Store, keys KeyProvider) *Vault {
	return &Vault{store: store, keys: keys}
}

// Store encrypts plaintext under a freshly minted key and writes the
// ciphertext to the content-addressed store. The caller's buffer is
// never modified.
func (v *Vault) Store(ctx context.Context, plaintext []byte) (MediaObject, error) {
	digest := sha256.Sum256(plaintext)

	ref, key, err := v.keys.NewKey(ctx)
	if err != nil {
		return MediaObject{}, errors.WrapCode(err, errors.CodeMediaStore, "minting media key failed")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return MediaObject{}, errors.WrapCode(err, errors.CodeMediaStore, "cipher init failed")
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return MediaObject{}, errors.WrapCode(err, errors.CodeMediaStore, "nonce generation failed")
	}

	// Layout: nonce || ciphertext+tag.
	sealed := gcm.Seal(nonce, nonce, plaintext, nil)

	addr, err := v.store.Put(ctx, sealed)
	if err != nil {
		return MediaObject{}, errors.WrapCode(err, errors.CodeMediaStore, "storing ciphertext failed")
	}

	return MediaObject{
		PlainDigest: hex.EncodeToString(digest[:]),
		CipherRef:   string(addr),
		KeyRef:      ref,
	}, nil
}

// Retrieve fetches, decrypts and verifies a stored media object. Any
// integrity failure surfaces as CodeTampered; corrupted plaintext is
// never returned.
func (v *Vault) Retrieve(ctx context.Context, obj MediaObject) ([]byte, error) {
	sealed, err := v.store.Get(ctx, hashstore.Address(obj.CipherRef))
	if err != nil {
		if errors.IsCode(err, errors.CodeTampered) || errors.IsCode(err, errors.CodeNotFound) {
			return nil, err
		}
		return nil, errors.WrapCode(err, errors.CodeMediaStore, "fetching ciphertext failed")
	}

	key, err := v.keys.Key(ctx, obj.KeyRef)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeMediaStore, "resolving media key failed")
	}

	gcm, err := newGCM(key)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeMediaStore, "cipher init failed")
	}

	if len(sealed) < gcm.NonceSize() {
		return nil, errors.WithCode(errors.CodeTampered, "ciphertext shorter than nonce")
	}
	nonce, ciphertext := sealed[:gcm.NonceSize()], sealed[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, errors.WrapCode(err, errors.CodeTampered, "ciphertext authentication failed")
	}

	digest := sha256.Sum256(plaintext)
	if hex.EncodeToString(digest[:]) != obj.PlainDigest {
		return nil, errors.WithCode(errors.CodeTampered, "plaintext digest mismatch")
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
