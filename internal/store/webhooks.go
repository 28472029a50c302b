package store

import (
	"context"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// Webhook is one registration (spec §3); source is globally unique.
type Webhook struct {
	Name           string
	Source         string
	Secret         string
	PromptTemplate string
	Active         bool
}

func (s *Store) InsertWebhook(ctx context.Context, w Webhook) error {
	active := 0
	if w.Active {
		active = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO webhooks (name, source, secret, prompt_template, active) VALUES (?, ?, ?, ?, ?)`,
		w.Name, w.Source, w.Secret, w.PromptTemplate, active)
	if err != nil {
		return moxxyerr.WrapUpstream(err, "insert webhook")
	}
	return nil
}

func (s *Store) DeleteWebhook(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE name = ?`, name)
	return err
}

func (s *Store) SetWebhookActive(ctx context.Context, name string, active bool) error {
	a := 0
	if active {
		a = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE webhooks SET active = ? WHERE name = ?`, a, name)
	return err
}

func (s *Store) ListWebhooks(ctx context.Context) ([]Webhook, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name, source, secret, prompt_template, active FROM webhooks ORDER BY name`)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "list webhooks")
	}
	defer rows.Close()
	var out []Webhook
	for rows.Next() {
		var w Webhook
		var active int
		if err := rows.Scan(&w.Name, &w.Source, &w.Secret, &w.PromptTemplate, &active); err != nil {
			return nil, err
		}
		w.Active = active != 0
		out = append(out, w)
	}
	return out, rows.Err()
}

func (s *Store) FindWebhookBySource(ctx context.Context, source string) (Webhook, bool, error) {
	var w Webhook
	var active int
	err := s.db.QueryRowContext(ctx,
		`SELECT name, source, secret, prompt_template, active FROM webhooks WHERE source = ?`, source).
		Scan(&w.Name, &w.Source, &w.Secret, &w.PromptTemplate, &active)
	if err != nil {
		return Webhook{}, false, nil
	}
	w.Active = active != 0
	return w, true, nil
}
