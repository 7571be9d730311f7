// Package sqlite provides a SQLite-backed proxy relation store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/calderas/go-davext/proxy"
)

const schema = `
CREATE TABLE IF NOT EXISTS proxy_relations (
	id          TEXT PRIMARY KEY,
	owner_id    TEXT NOT NULL,
	proxy_id    TEXT NOT NULL,
	permissions INTEGER NOT NULL,
	UNIQUE (owner_id, proxy_id)
);
CREATE INDEX IF NOT EXISTS idx_proxy_relations_owner ON proxy_relations (owner_id);
CREATE INDEX IF NOT EXISTS idx_proxy_relations_proxy ON proxy_relations (proxy_id);
`

// Store persists proxy relations in a SQLite database.
type Store struct {
	db *sql.DB
}

var _ proxy.Store = (*Store)(nil)

// Open opens (creating if necessary) the database at path and ensures the
// schema exists.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: failed to create schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) queryRelations(ctx context.Context, query string, arg string) ([]proxy.Relation, error) {
	rows, err := s.db.QueryContext(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("sqlite: failed to query relations: %w", err)
	}
	defer rows.Close()

	var l []proxy.Relation
	for rows.Next() {
		var rel proxy.Relation
		if err := rows.Scan(&rel.ID, &rel.OwnerID, &rel.ProxyID, &rel.Permissions); err != nil {
			return nil, fmt.Errorf("sqlite: failed to scan relation: %w", err)
		}
		l = append(l, rel)
	}
	return l, rows.Err()
}

func (s *Store) RelationsByOwner(ctx context.Context, ownerID string) ([]proxy.Relation, error) {
	return s.queryRelations(ctx, `SELECT id, owner_id, proxy_id, permissions
		FROM proxy_relations WHERE owner_id = ? ORDER BY id`, ownerID)
}

func (s *Store) RelationsByProxy(ctx context.Context, proxyID string) ([]proxy.Relation, error) {
	return s.queryRelations(ctx, `SELECT id, owner_id, proxy_id, permissions
		FROM proxy_relations WHERE proxy_id = ? ORDER BY id`, proxyID)
}

// Insert stores a new relation, assigning it a fresh ID.
func (s *Store) Insert(ctx context.Context, rel *proxy.Relation) error {
	rel.ID = uuid.NewString()
	_, err := s.db.ExecContext(ctx, `INSERT INTO proxy_relations
		(id, owner_id, proxy_id, permissions) VALUES (?, ?, ?, ?)`,
		rel.ID, rel.OwnerID, rel.ProxyID, rel.Permissions)
	if err != nil {
		return fmt.Errorf("sqlite: failed to insert relation: %w", err)
	}
	return nil
}

func (s *Store) Update(ctx context.Context, rel *proxy.Relation) error {
	res, err := s.db.ExecContext(ctx, `UPDATE proxy_relations
		SET owner_id = ?, proxy_id = ?, permissions = ? WHERE id = ?`,
		rel.OwnerID, rel.ProxyID, rel.Permissions, rel.ID)
	if err != nil {
		return fmt.Errorf("sqlite: failed to update relation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: no relation with id %q", rel.ID)
	}
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM proxy_relations WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("sqlite: failed to delete relation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("sqlite: no relation with id %q", id)
	}
	return nil
}
