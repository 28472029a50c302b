package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// MCPServerRecord is one external tool-providing subprocess registration
// (spec §3 MCP server record).
type MCPServerRecord struct {
	Name      string
	Command   string
	Args      []string
	Env       map[string]string
	CreatedAt time.Time
}

func (s *Store) InsertMCPServer(ctx context.Context, r MCPServerRecord) error {
	args, err := json.Marshal(r.Args)
	if err != nil {
		return err
	}
	env, err := json.Marshal(r.Env)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO mcp_servers (name, command, args, env, created_at) VALUES (?, ?, ?, ?, ?)`,
		r.Name, r.Command, string(args), string(env), time.Now().UTC())
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert mcp server")
	}
	return nil
}

func (s *Store) ListMCPServers(ctx context.Context) ([]MCPServerRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, command, args, env, created_at FROM mcp_servers ORDER BY name`)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list mcp servers")
	}
	defer rows.Close()
	var out []MCPServerRecord
	for rows.Next() {
		var r MCPServerRecord
		var args, env string
		if err := rows.Scan(&r.Name, &r.Command, &args, &env, &r.CreatedAt); err != nil {
			return nil, err
		}
		_ = json.Unmarshal([]byte(args), &r.Args)
		_ = json.Unmarshal([]byte(env), &r.Env)
		out = append(out, r)
	}
	return out, rows.Err()
}
