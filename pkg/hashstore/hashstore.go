// Package hashstore provides content-addressed storage: bytes are keyed by
// their own SHA-256 digest, so retrieval can always be verified byte-for-byte.
package hashstore

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	"safechain/pkg/errors"
)

// Address is the hex SHA-256 digest of the stored bytes.
type Address string

// Store is the content-addressed storage contract. Put is idempotent:
// storing identical bytes twice yields the same address. Get returns the
// exact bytes previously stored or a CodeNotFound error; substituted or
// truncated content is reported as corruption, never returned.
type Store interface {
	Put(ctx context.Context, data []byte) (Address, error)
	Get(ctx context.Context, addr Address) ([]byte, error)
	Has(ctx context.Context, addr Address) (bool, error)
}

// ComputeAddress returns the content address of data.
func ComputeAddress(data []byte) Address {
	sum := sha256.Sum256(data)
	return Address(hex.EncodeToString(sum[:]))
}

// verify checks retrieved bytes against the address they were fetched by.
func verify(addr Address, data []byte) error {
	if ComputeAddress(data) != addr {
		return errors.WithCodef(errors.CodeTampered, "content at %s does not match its address", addr)
	}
	return nil
}

func notFound(addr Address) error {
	return errors.WithCodef(errors.CodeNotFound, "no content stored at %s", addr)
}
