package store

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// APIToken is one agent-scoped token record (spec §3). The raw secret is
// never stored; only its hash.
type APIToken struct {
	ID        string
	Name      string
	Hash      string
	CreatedAt time.Time
}

// HashToken is the one-way function used both at issuance and at validation
// time so the raw secret never round-trips through storage.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// CreateToken mints a new random token, persists only its hash, and returns
// the raw value exactly once (spec §3 API token).
func (s *Store) CreateToken(ctx context.Context, name string) (raw string, tok APIToken, err error) {
	raw = uuid.NewString() + uuid.NewString()
	tok = APIToken{ID: uuid.NewString(), Name: name, Hash: HashToken(raw), CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO api_tokens (id, name, hash, created_at) VALUES (?, ?, ?, ?)`,
		tok.ID, tok.Name, tok.Hash, tok.CreatedAt)
	if err != nil {
		return "", APIToken{}, moxxyerr.WrapUpstream(err, "create token")
	}
	return raw, tok, nil
}

func (s *Store) DeleteToken(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM api_tokens WHERE id = ?`, id)
	return err
}

func (s *Store) ListTokens(ctx context.Context) ([]APIToken, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, hash, created_at FROM api_tokens ORDER BY created_at`)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list tokens")
	}
	defer rows.Close()
	var out []APIToken
	for rows.Next() {
		var t APIToken
		if err := rows.Scan(&t.ID, &t.Name, &t.Hash, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// HasAnyToken matches a presented raw token's hash against this agent's
// tokens (spec §4.10 scoped validation).
func (s *Store) HasAnyToken(ctx context.Context, rawToken string) (bool, error) {
	hash := HashToken(rawToken)
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_tokens WHERE hash = ?`, hash).Scan(&n)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CountTokens is used by the auth gate to decide whether the loopback-only
// bypass applies (spec §4.10: "if no API tokens exist on any agent").
func (s *Store) CountTokens(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM api_tokens`).Scan(&n)
	return n, err
}
