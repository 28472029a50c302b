// Package vault is moxxy's per-agent encrypted secret store (spec §4.2).
// Secrets are protected by envelope encryption: a random data-encryption key
// (DEK) encrypts every value with chacha20poly1305, and the DEK itself is
// wrapped by a machine key. Rotate generates a fresh DEK, re-encrypts every
// secret under it and stores the newly wrapped DEK.
package vault

import (
	"context"
	"crypto/rand"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
	"github.com/moxxy-run/moxxy/internal/store"
)

// Vault is scoped to exactly one agent's Store (spec §3 Ownership).
type Vault struct {
	mu         sync.RWMutex
	st         *store.Store
	machineKey [chacha20poly1305.KeySize]byte
	dek        []byte // decrypted, in-memory only
	ready      bool
}

func New(st *store.Store, machineKey [32]byte) *Vault {
	return &Vault{st: st, machineKey: machineKey}
}

// Init loads (or, on first boot, generates) the wrapped DEK. Must be called
// before any Get/Set/Remove/ListKeys; those return a validation error
// ("vault: not initialized") otherwise (spec §4.2).
func (v *Vault) Init(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	wrapped, ok, err := v.st.VaultGetWrappedDEK(ctx)
	if err != nil {
		return err
	}
	if !ok {
		dek := make([]byte, chacha20poly1305.KeySize)
		if _, err := rand.Read(dek); err != nil {
			return err
		}
		wrapped, err = v.wrapDEK(dek)
		if err != nil {
			return err
		}
		if err := v.st.VaultSetWrappedDEK(ctx, wrapped); err != nil {
			return err
		}
		v.dek = dek
		v.ready = true
		return nil
	}

	dek, err := v.unwrapDEK(wrapped)
	if err != nil {
		return moxxyerr.Upstreamf("vault: unwrap dek: %v", err)
	}
	v.dek = dek
	v.ready = true
	return nil
}

func (v *Vault) requireReady() error {
	if !v.ready {
		return moxxyerr.Validationf("vault: not initialized")
	}
	return nil
}

func (v *Vault) wrapDEK(dek []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.machineKey[:])
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, dek, nil)...), nil
}

func (v *Vault) unwrapDEK(wrapped []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.machineKey[:])
	if err != nil {
		return nil, err
	}
	if len(wrapped) < aead.NonceSize() {
		return nil, fmt.Errorf("wrapped dek too short")
	}
	nonce, ct := wrapped[:aead.NonceSize()], wrapped[aead.NonceSize():]
	return aead.Open(nil, nonce, ct, nil)
}

func (v *Vault) encrypt(plaintext string) ([]byte, error) {
	aead, err := chacha20poly1305.New(v.dek)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return append(nonce, aead.Seal(nil, nonce, []byte(plaintext), nil)...), nil
}

func (v *Vault) decrypt(blob []byte) (string, error) {
	aead, err := chacha20poly1305.New(v.dek)
	if err != nil {
		return "", err
	}
	if len(blob) < aead.NonceSize() {
		return "", fmt.Errorf("ciphertext too short")
	}
	nonce, ct := blob[:aead.NonceSize()], blob[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, nil)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// Set encrypts and persists value under key. Callers enforcing cross-agent
// uniqueness (spec §3 invariant) must check other agents' vaults via a
// Registry before calling Set; this method only ever touches its own agent.
func (v *Vault) Set(ctx context.Context, key, value string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireReady(); err != nil {
		return err
	}
	enc, err := v.encrypt(value)
	if err != nil {
		return err
	}
	return v.st.VaultSetEncrypted(ctx, key, enc)
}

func (v *Vault) Get(ctx context.Context, key string) (string, bool, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireReady(); err != nil {
		return "", false, err
	}
	blob, ok, err := v.st.VaultGetEncrypted(ctx, key)
	if err != nil || !ok {
		return "", ok, err
	}
	pt, err := v.decrypt(blob)
	if err != nil {
		return "", false, moxxyerr.Upstreamf("vault: decrypt %q: %v", key, err)
	}
	return pt, true, nil
}

func (v *Vault) Remove(ctx context.Context, key string) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireReady(); err != nil {
		return err
	}
	return v.st.VaultRemove(ctx, key)
}

func (v *Vault) ListKeys(ctx context.Context) ([]string, error) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	if err := v.requireReady(); err != nil {
		return nil, err
	}
	return v.st.VaultListKeys(ctx)
}

// Rotate re-encrypts every secret under a freshly generated DEK, wrapping it
// with the machine key (SPEC_FULL.md §C vault rotation primitive). Not
// exposed over HTTP; reachable only from the `moxxyd vault rotate` CLI.
func (v *Vault) Rotate(ctx context.Context) error {
	v.mu.Lock()
	defer v.mu.Unlock()
	if err := v.requireReady(); err != nil {
		return err
	}

	keys, err := v.st.VaultListKeys(ctx)
	if err != nil {
		return err
	}
	plaintexts := make(map[string]string, len(keys))
	for _, k := range keys {
		blob, ok, err := v.st.VaultGetEncrypted(ctx, k)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		pt, err := v.decrypt(blob)
		if err != nil {
			return moxxyerr.Upstreamf("vault: rotate: decrypt %q: %v", k, err)
		}
		plaintexts[k] = pt
	}

	newDEK := make([]byte, chacha20poly1305.KeySize)
	if _, err := rand.Read(newDEK); err != nil {
		return err
	}
	oldDEK := v.dek
	v.dek = newDEK

	for k, pt := range plaintexts {
		enc, err := v.encrypt(pt)
		if err != nil {
			v.dek = oldDEK
			return err
		}
		if err := v.st.VaultSetEncrypted(ctx, k, enc); err != nil {
			v.dek = oldDEK
			return err
		}
	}

	wrapped, err := v.wrapDEK(newDEK)
	if err != nil {
		v.dek = oldDEK
		return err
	}
	if err := v.st.VaultSetWrappedDEK(ctx, wrapped); err != nil {
		v.dek = oldDEK
		return err
	}
	return nil
}
