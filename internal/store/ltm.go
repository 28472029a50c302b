package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"math"
	"sort"
	"time"

	"github.com/moxxy-run/moxxy/internal/moxxyerr"
)

// LTMDoc is one long-term-memory snippet with its fixed-dimension embedding
// (spec §3 Long-term memory (a)).
type LTMDoc struct {
	ID        int64
	Content   string
	Embedding []float64
	CreatedAt time.Time
}

// InsertDoc stores a user-scoped snippet with its embedding.
func (s *Store) InsertDoc(ctx context.Context, content string, embedding []float64) (int64, error) {
	blob, err := json.Marshal(embedding)
	if err != nil {
		return 0, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO ltm_docs (content, embedding, created_at) VALUES (?, ?, ?)`,
		content, string(blob), time.Now().UTC())
	if err != nil {
		return 0, moxxyerr.WrapUpstream(err, "insert ltm doc")
	}
	return res.LastInsertId()
}

// scoredDoc pairs a doc with its similarity to a query vector.
type scoredDoc struct {
	doc   LTMDoc
	score float64
}

// SearchDocs performs a brute-force cosine-similarity search over stored
// embeddings, returning the topK most similar docs. No example repo in the
// pack ships a vector index compatible with a pure-Go embedded sqlite driver
// (see DESIGN.md); a linear scan is the right fit at the scale of one local
// operator's document store.
func (s *Store) SearchDocs(ctx context.Context, query []float64, topK int) ([]LTMDoc, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, content, embedding, created_at FROM ltm_docs`)
	if err != nil {
		return nil, moxxyerr.WrapUpstream(err, "query ltm docs")
	}
	defer rows.Close()

	var scored []scoredDoc
	for rows.Next() {
		var d LTMDoc
		var blob string
		if err := rows.Scan(&d.ID, &d.Content, &blob, &d.CreatedAt); err != nil {
			return nil, moxxyerr.WrapUpstream(err, "scan ltm doc")
		}
		if err := json.Unmarshal([]byte(blob), &d.Embedding); err != nil {
			continue
		}
		scored = append(scored, scoredDoc{doc: d, score: cosine(query, d.Embedding)})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.Slice(scored, func(i, j int) bool { return scored[i].score > scored[j].score })
	if topK > len(scored) {
		topK = len(scored)
	}
	out := make([]LTMDoc, topK)
	for i := 0; i < topK; i++ {
		out[i] = scored[i].doc
	}
	return out, nil
}

func cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

// LTMFile is one entry of the file index (spec §3 Long-term memory (b)).
type LTMFile struct {
	FilePath    string
	Content     string
	LastIndexed time.Time
}

// UpsertFile refreshes (or inserts) the indexed content for one file path,
// called periodically by the background mount-path walker (spec §3).
func (s *Store) UpsertFile(ctx context.Context, path, content string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO ltm_files (file_path, content, last_indexed) VALUES (?, ?, ?)
		 ON CONFLICT(file_path) DO UPDATE SET content = excluded.content, last_indexed = excluded.last_indexed`,
		path, content, time.Now().UTC())
	if err != nil {
		return moxxyerr.WrapUpstream(err, "upsert ltm file")
	}
	return nil
}

func (s *Store) GetFile(ctx context.Context, path string) (LTMFile, bool, error) {
	var f LTMFile
	f.FilePath = path
	err := s.db.QueryRowContext(ctx, `SELECT content, last_indexed FROM ltm_files WHERE file_path = ?`, path).
		Scan(&f.Content, &f.LastIndexed)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return LTMFile{}, false, nil
		}
		return LTMFile{}, false, moxxyerr.WrapUpstream(err, "get ltm file")
	}
	return f, true, nil
}
