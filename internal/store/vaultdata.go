package store

import (
	"context"
	"database/sql"
	"errors"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// VaultSetEncrypted stores the already-encrypted blob for key, overwriting
// any existing value. Encryption itself lives in internal/vault; the store
// layer only persists opaque bytes (spec §3 Secret entry).
func (s *Store) VaultSetEncrypted(ctx context.Context, key string, encrypted []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_secrets (key, encrypted_value) VALUES (?, ?)
		 ON CONFLICT(key) DO UPDATE SET encrypted_value = excluded.encrypted_value`,
		key, encrypted)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "vault set")
	}
	return nil
}

func (s *Store) VaultGetEncrypted(ctx context.Context, key string) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT encrypted_value FROM vault_secrets WHERE key = ?`, key).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, moxxyerr.WrapUpstream(err, "vault get")
	}
	return blob, true, nil
}

func (s *Store) VaultRemove(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM vault_secrets WHERE key = ?`, key)
	return err
}

func (s *Store) VaultListKeys(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key FROM vault_secrets ORDER BY key`)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "vault list keys")
	}
	defer rows.Close()
	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, err
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// VaultGetWrappedDEK / VaultSetWrappedDEK persist the wrapped data-encryption
// key used by internal/vault's envelope encryption and key rotation.
func (s *Store) VaultGetWrappedDEK(ctx context.Context) ([]byte, bool, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT wrapped_dek FROM vault_meta WHERE id = 1`).Scan(&blob)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, moxxyerr.WrapUpstream(err, "vault get wrapped dek")
	}
	return blob, true, nil
}

func (s *Store) VaultSetWrappedDEK(ctx context.Context, wrapped []byte) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO vault_meta (id, wrapped_dek) VALUES (1, ?)
		 ON CONFLICT(id) DO UPDATE SET wrapped_dek = excluded.wrapped_dek`, wrapped)
	return err
}
