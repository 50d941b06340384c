package session

import (
	"context"
	"fmt"

	"github.com/persai/persai/internal/config"
)

// UpsertToolServer registers a plugin server, replacing the entry with the
// same id.
func (s *Store) UpsertToolServer(ctx context.Context, p config.PluginConfig) error {
	if p.ID == "" || p.URL == "" {
		return fmt.Errorf("tool server id and url are required")
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tool_servers (id, url, api_key, name, version, enabled) VALUES (?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET url = excluded.url, api_key = excluded.api_key,
			name = excluded.name, version = excluded.version, enabled = excluded.enabled`,
		p.ID, p.URL, p.APIKey, p.Name, p.Version, p.Enabled)
	if err != nil {
		return fmt.Errorf("upsert tool server %s: %w", p.ID, err)
	}
	return nil
}

// ToolServers lists registered plugin servers ordered by id.
func (s *Store) ToolServers(ctx context.Context) ([]config.PluginConfig, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, api_key, name, version, enabled FROM tool_servers ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("query tool servers: %w", err)
	}
	defer rows.Close()

	out := []config.PluginConfig{}
	for rows.Next() {
		var p config.PluginConfig
		if err := rows.Scan(&p.ID, &p.URL, &p.APIKey, &p.Name, &p.Version, &p.Enabled); err != nil {
			return nil, fmt.Errorf("scan tool server: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// DeleteToolServer removes the server whose id or url equals key.
func (s *Store) DeleteToolServer(ctx context.Context, key string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM tool_servers WHERE id = ? OR url = ?`, key, key)
	if err != nil {
		return fmt.Errorf("delete tool server %s: %w", key, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("tool server %s: %w", key, ErrNotFound)
	}
	return nil
}

// MergeToolServers returns base followed by the registered servers. A
// registered server replaces a base entry with the same id in place.
func (s *Store) MergeToolServers(ctx context.Context, base []config.PluginConfig) ([]config.PluginConfig, error) {
	stored, err := s.ToolServers(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]config.PluginConfig, 0, len(base)+len(stored))
	out = append(out, base...)
	index := make(map[string]int, len(out))
	for i, p := range out {
		index[p.ID] = i
	}
	for _, p := range stored {
		if i, ok := index[p.ID]; ok {
			out[i] = p
			continue
		}
		index[p.ID] = len(out)
		out = append(out, p)
	}
	return out, nil
}
