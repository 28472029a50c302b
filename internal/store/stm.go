package store

import (
	"context"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// Role is the STM entry speaker, mapped from trigger origin (spec §4.5 step 1).
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// STMEntry is one append-only short-term-memory row (spec §3).
type STMEntry struct {
	ID        int64
	SessionID string
	Role      Role
	Content   string
	CreatedAt time.Time
}

// AppendSTM appends one entry to the session's history. STM is append-only;
// there is no update or delete operation by design (spec §3).
func (s *Store) AppendSTM(ctx context.Context, sessionID string, role Role, content string) (STMEntry, error) {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO stm_entries (session_id, role, content, created_at) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, now)
	if err != nil {
		return STMEntry{}, moxxyerr.WrapUpstream(err, "append stm entry")
	}
	id, _ := res.LastInsertId()
	return STMEntry{ID: id, SessionID: sessionID, Role: role, Content: content, CreatedAt: now}, nil
}

// RecentSTM returns the last limit entries for a session, oldest first — the
// shape the reasoning loop folds into its message list (spec §4.5 step 5).
func (s *Store) RecentSTM(ctx context.Context, sessionID string, limit int) ([]STMEntry, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, role, content, created_at FROM stm_entries
		 WHERE session_id = ? ORDER BY id DESC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "query stm entries")
	}
	defer rows.Close()

	var entries []STMEntry
	for rows.Next() {
		var e STMEntry
		var role string
		if err := rows.Scan(&e.ID, &e.SessionID, &role, &e.Content, &e.CreatedAt); err != nil {
			return nil, moxxyerr.WrapUpstream(err, "scan stm entry")
		}
		e.Role = Role(role)
		entries = append(entries, e)
	}
	// reverse to oldest-first
	for i, j := 0, len(entries)-1; i < j; i, j = i+1, j-1 {
		entries[i], entries[j] = entries[j], entries[i]
	}
	return entries, rows.Err()
}

// SessionEntryCount is used by tests asserting session isolation (invariant 2):
// the session before and after a non-human-origin loop run must be identical.
func (s *Store) SessionEntryCount(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM stm_entries WHERE session_id = ?`, sessionID).Scan(&n)
	if err != nil {
		return 0, moxxyerr.WrapUpstream(err, "count stm entries")
	}
	return n, nil
}
