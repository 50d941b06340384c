package session

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// Provider is a model endpoint managed at runtime through the API.
type Provider struct {
	ID      int64  `json:"id"`
	Name    string `json:"name"`
	BaseURL string `json:"baseUrl"`
	APIKey  string `json:"apiKey"`
}

// UpsertProvider inserts p, or replaces the row with the same id when p.ID is
// set. It returns the row id.
func (s *Store) UpsertProvider(ctx context.Context, p Provider) (int64, error) {
	if p.Name == "" || p.BaseURL == "" {
		return 0, fmt.Errorf("provider name and baseUrl are required")
	}
	if p.ID == 0 {
		res, err := s.db.ExecContext(ctx,
			`INSERT INTO providers (name, base_url, api_key) VALUES (?,?,?)`,
			p.Name, p.BaseURL, p.APIKey)
		if err != nil {
			return 0, fmt.Errorf("insert provider: %w", err)
		}
		return res.LastInsertId()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, base_url, api_key) VALUES (?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, base_url = excluded.base_url, api_key = excluded.api_key`,
		p.ID, p.Name, p.BaseURL, p.APIKey)
	if err != nil {
		return 0, fmt.Errorf("upsert provider %d: %w", p.ID, err)
	}
	return p.ID, nil
}

// Provider returns the provider with the given id.
func (s *Store) Provider(ctx context.Context, id int64) (Provider, error) {
	var p Provider
	err := s.db.QueryRowContext(ctx,
		`SELECT id, name, base_url, api_key FROM providers WHERE id = ?`, id,
	).Scan(&p.ID, &p.Name, &p.BaseURL, &p.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return Provider{}, fmt.Errorf("provider %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Provider{}, fmt.Errorf("query provider %d: %w", id, err)
	}
	return p, nil
}

// Providers lists all providers ordered by id.
func (s *Store) Providers(ctx context.Context) ([]Provider, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, base_url, api_key FROM providers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query providers: %w", err)
	}
	defer rows.Close()

	out := []Provider{}
	for rows.Next() {
		var p Provider
		if err := rows.Scan(&p.ID, &p.Name, &p.BaseURL, &p.APIKey); err != nil {
			return nil, fmt.Errorf("scan provider: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteProvider removes the provider with the given id.
func (s *Store) DeleteProvider(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM providers WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete provider %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("provider %d: %w", id, ErrNotFound)
	}
	return nil
}
