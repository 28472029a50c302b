package vault

import (
	"crypto/rand"
	"os"
	"path/filepath"

	"golang.org/x/crypto/chacha20poly1305"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// LoadOrCreateMachineKey reads the process-wide machine key from
// <dataDir>/machine.key, generating and persisting a fresh one on first run.
// Every agent's Vault wraps its DEK under this same key (spec §4.2 envelope
// encryption), so losing the file makes every agent's secrets unrecoverable -
// callers should back it up the same way they back up dataDir itself.
func LoadOrCreateMachineKey(dataDir string) ([32]byte, error) {
	var key [32]byte
	path := filepath.Join(dataDir, "machine.key")

	data, err := os.ReadFile(path)
	if err == nil {
		if len(data) != chacha20poly1305.KeySize {
			return key, moxxyerr.Integrityf("vault: machine key at %s has wrong length %d", path, len(data))
		}
		copy(key[:], data)
		return key, nil
	}
	if !os.IsNotExist(err) {
		return key, moxxyerr.WrapUpstream(err, "read machine key %s", path)
	}

	if _, err := rand.Read(key[:]); err != nil {
		return key, moxxyerr.WrapUpstream(err, "generate machine key")
	}
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return key, moxxyerr.WrapUpstream(err, "create data dir %s", dataDir)
	}
	if err := os.WriteFile(path, key[:], 0o600); err != nil {
		return key, moxxyerr.WrapUpstream(err, "write machine key %s", path)
	}
	return key, nil
}
