package vault

import (
	"context"
	"crypto/rand"
	"io"
	"sync"

	"github.com/google/uuid"

	"safechain/pkg/errors"
)

// memoryKeyProvider keeps key material in process memory, keyed by uuid
// references. It exists for development and tests; deployments are expected
// to plug in the wallet/KMS-backed provider.
type memoryKeyProvider struct {
	mu   sync.RWMutex
	keys map[string][]byte
}

// NewMemoryKeyProvider creates an in-memory key provider.
func NewMemoryKeyProvider() KeyProvider {
	return &memoryKeyProvider{keys: make(map[string][]byte)}
}

func (p *memoryKeyProvider) NewKey(ctx context.Context) (string, []byte, error) {
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", nil, err
	}
	ref := uuid.NewString()
	p.mu.Lock()
	p.keys[ref] = key
	p.mu.Unlock()
	return ref, key, nil
}

func (p *memoryKeyProvider) Key(ctx context.Context, ref string) ([]byte, error) {
	p.mu.RLock()
	key, ok := p.keys[ref]
	p.mu.RUnlock()
	if !ok {
		return nil, errors.WithCodef(errors.CodeNotFound, "unknown key reference %s", ref)
	}
	return key, nil
}
