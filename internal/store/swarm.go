package store

import (
	"context"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// SwarmMessage is one process-wide announcement (spec §3 Swarm memory).
type SwarmMessage struct {
	ID          int64
	AgentSource string
	Content     string
	CreatedAt   time.Time
}

// Publish broadcasts one announcement, called when an agent's reply is
// prefixed [ANNOUNCE] (spec §4.5 step 9).
func (s *SwarmStore) Publish(ctx context.Context, agentSource, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO swarm_messages (agent_source, content, created_at) VALUES (?, ?, ?)`,
		agentSource, content, time.Now().UTC())
	if err != nil {
		return moxxyerr.WrapUpstream(err, "publish swarm message")
	}
	return nil
}

// Recent returns the most recent limit messages, oldest first, folded into
// the reasoning loop as bounded swarm-intelligence system chunks (spec §4.5
// step 5, "bounded, e.g. 10").
func (s *SwarmStore) Recent(ctx context.Context, limit int) ([]SwarmMessage, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_source, content, created_at FROM swarm_messages ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list swarm messages")
	}
	defer rows.Close()
	var out []SwarmMessage
	for rows.Next() {
		var m SwarmMessage
		if err := rows.Scan(&m.ID, &m.AgentSource, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, rows.Err()
}
