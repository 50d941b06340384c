package session

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/persai/persai/internal/config"
)

func TestToolServers_UpsertListDelete(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.Error(t, s.UpsertToolServer(ctx, config.PluginConfig{ID: "nba"}))

	require.NoError(t, s.UpsertToolServer(ctx, config.PluginConfig{ID: "nba", URL: "http://nba.local", Enabled: true}))
	require.NoError(t, s.UpsertToolServer(ctx, config.PluginConfig{ID: "weather", URL: "http://weather.local", APIKey: "k"}))
	require.NoError(t, s.UpsertToolServer(ctx, config.PluginConfig{ID: "nba", URL: "http://nba2.local", Enabled: true, Version: "2.0.0"}))

	list, err := s.ToolServers(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, config.PluginConfig{ID: "nba", URL: "http://nba2.local", Enabled: true, Version: "2.0.0"}, list[0])
	assert.Equal(t, "k", list[1].APIKey)
	assert.False(t, list[1].Enabled)

	require.NoError(t, s.DeleteToolServer(ctx, "http://weather.local"))
	require.NoError(t, s.DeleteToolServer(ctx, "nba"))
	assert.ErrorIs(t, s.DeleteToolServer(ctx, "nba"), ErrNotFound)

	list, err = s.ToolServers(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestMergeToolServers(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.UpsertToolServer(ctx, config.PluginConfig{ID: "b", URL: "http://b.override", Enabled: true}))
	require.NoError(t, s.UpsertToolServer(ctx, config.PluginConfig{ID: "c", URL: "http://c", Enabled: true}))

	base := []config.PluginConfig{
		{ID: "a", URL: "http://a", Enabled: true},
		{ID: "b", URL: "http://b", Enabled: true},
	}
	got, err := s.MergeToolServers(ctx, base)
	require.NoError(t, err)

	require.Len(t, got, 3)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, "http://b.override", got[1].URL)
	assert.Equal(t, "c", got[2].ID)
	assert.Equal(t, "http://b", base[1].URL)
}
