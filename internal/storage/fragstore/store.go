// Package fragstore persists preprocessed terrain fragments in a sqlite
// database and streams them back into a ChunkedTerrain.
package fragstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"

	"github.com/Faultbox/midgard-terrain/internal/engine/terrain"
	"github.com/Faultbox/midgard-terrain/pkg/quadtree"
)

// ErrNotFound is returned for fragments, chunks, buckets or keys the store
// does not hold.
var ErrNotFound = errors.New("fragstore: not found")

// Meta keys written by the bake tool.
const (
	MetaFragmentWidth = "fragment_width"
	MetaSamples       = "samples"
	MetaMaxHeight     = "max_height"
	MetaSource        = "source"
	MetaBakedAt       = "baked_at"
)

// Store is a fragment database. It is safe for concurrent use.
type Store struct {
	db    *sql.DB
	codec *codec
}

// Info summarises a store.
type Info struct {
	Fragments   int
	Chunks      int
	Buckets     int
	HeaderBytes int64
	IndexBytes  int64
	VertexBytes int64
}

// TotalBytes returns the compressed payload size.
func (i Info) TotalBytes() int64 {
	return i.HeaderBytes + i.IndexBytes + i.VertexBytes
}

// Open opens or creates the store at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("fragstore: empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	c, err := newCodec()
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, codec: c}, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}

func initSchema(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`CREATE TABLE IF NOT EXISTS fragments (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			header BLOB NOT NULL,
			PRIMARY KEY (x, y)
		);`,
		`CREATE TABLE IF NOT EXISTS chunks (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			node INTEGER NOT NULL,
			indices BLOB NOT NULL,
			PRIMARY KEY (x, y, node)
		);`,
		`CREATE TABLE IF NOT EXISTS buckets (
			x INTEGER NOT NULL,
			y INTEGER NOT NULL,
			level INTEGER NOT NULL,
			vertices BLOB NOT NULL,
			PRIMARY KEY (x, y, level)
		);`,
	}
	for _, s := range stmts {
		if _, err := db.Exec(s); err != nil {
			return err
		}
	}
	return nil
}

// Close releases the database.
func (s *Store) Close() error {
	s.codec.close()
	return s.db.Close()
}

// SetMeta stores a key/value pair.
func (s *Store) SetMeta(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	return err
}

// Meta returns a stored value.
func (s *Store) Meta(ctx context.Context, key string) (string, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("%w: meta %q", ErrNotFound, key)
	}
	return v, err
}

// AllMeta returns every stored key/value pair.
func (s *Store) AllMeta(ctx context.Context) (map[string]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM meta`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

// PutFragment writes a fully loaded fragment, replacing any previous version.
// Every chunk and bucket must be in RAM.
func (s *Store) PutFragment(ctx context.Context, f *terrain.Fragment) error {
	header, err := s.codec.encodeHeader(&Header{
		Version: FormatVersion,
		Meta:    f.Meta,
		Chunks:  f.Records(),
	})
	if err != nil {
		return fmt.Errorf("fragment %v header: %w", f.ID, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	x, y := f.ID.X, f.ID.Y
	for _, table := range []string{"fragments", "chunks", "buckets"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE x = ? AND y = ?`, x, y); err != nil {
			return err
		}
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO fragments(x, y, header) VALUES(?, ?, ?)`, x, y, header); err != nil {
		return err
	}

	for i := 0; i < f.Tree().Len(); i++ {
		node := quadtree.Index(i)
		d, _ := f.Data(node)
		c := d.Chunk()
		if c == nil {
			return fmt.Errorf("fragment %v chunk %d: not in RAM", f.ID, node)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO chunks(x, y, node, indices) VALUES(?, ?, ?, ?)`,
			x, y, int(node), s.codec.encodeIndices(c.Indices)); err != nil {
			return err
		}
	}

	for level := 0; level < f.Buckets(); level++ {
		if f.BucketStatus(level) != terrain.RAM {
			return fmt.Errorf("fragment %v bucket %d: not in RAM", f.ID, level)
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO buckets(x, y, level, vertices) VALUES(?, ?, ?, ?)`,
			x, y, level, s.codec.encodeVertices(f.Bucket(level))); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// Header returns the decoded header of a fragment.
func (s *Store) Header(ctx context.Context, id terrain.FragmentID) (*Header, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT header FROM fragments WHERE x = ? AND y = ?`, id.X, id.Y).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fragment %v", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	h, err := s.codec.decodeHeader(blob)
	if err != nil {
		return nil, fmt.Errorf("fragment %v: %w", id, err)
	}
	return h, nil
}

// LoadFragment returns a fragment with its chunk tree built and nothing else
// loaded.
func (s *Store) LoadFragment(ctx context.Context, id terrain.FragmentID) (*terrain.Fragment, error) {
	h, err := s.Header(ctx, id)
	if err != nil {
		return nil, err
	}
	return terrain.NewFragment(id, h.Meta, h.Chunks)
}

// LoadChunk returns the index list of one chunk.
func (s *Store) LoadChunk(ctx context.Context, id terrain.ChunkID) (*terrain.Chunk, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT indices FROM chunks WHERE x = ? AND y = ? AND node = ?`,
		id.Fragment.X, id.Fragment.Y, int(id.Node)).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: chunk %v", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	indices, err := s.codec.decodeIndices(blob)
	if err != nil {
		return nil, fmt.Errorf("chunk %v: %w", id, err)
	}
	return &terrain.Chunk{Indices: indices}, nil
}

// LoadBucket returns the vertices of one bucket.
func (s *Store) LoadBucket(ctx context.Context, id terrain.FragmentID, level int) ([]terrain.Vertex, error) {
	var blob []byte
	err := s.db.QueryRowContext(ctx, `SELECT vertices FROM buckets WHERE x = ? AND y = ? AND level = ?`,
		id.X, id.Y, level).Scan(&blob)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: fragment %v bucket %d", ErrNotFound, id, level)
	}
	if err != nil {
		return nil, err
	}
	verts, err := s.codec.decodeVertices(blob)
	if err != nil {
		return nil, fmt.Errorf("fragment %v bucket %d: %w", id, level, err)
	}
	return verts, nil
}

// List returns every stored fragment id in (x, y) order.
func (s *Store) List(ctx context.Context) ([]terrain.FragmentID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT x, y FROM fragments ORDER BY x, y`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []terrain.FragmentID
	for rows.Next() {
		var id terrain.FragmentID
		if err := rows.Scan(&id.X, &id.Y); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// Info counts rows and compressed bytes per table.
func (s *Store) Info(ctx context.Context) (Info, error) {
	var info Info
	queries := []struct {
		sql   string
		count *int
		bytes *int64
	}{
		{`SELECT COUNT(*), COALESCE(SUM(LENGTH(header)), 0) FROM fragments`, &info.Fragments, &info.HeaderBytes},
		{`SELECT COUNT(*), COALESCE(SUM(LENGTH(indices)), 0) FROM chunks`, &info.Chunks, &info.IndexBytes},
		{`SELECT COUNT(*), COALESCE(SUM(LENGTH(vertices)), 0) FROM buckets`, &info.Buckets, &info.VertexBytes},
	}
	for _, q := range queries {
		if err := s.db.QueryRowContext(ctx, q.sql).Scan(q.count, q.bytes); err != nil {
			return info, err
		}
	}
	return info, nil
}
