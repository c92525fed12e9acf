package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadWritesDefaultOnFirstRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:8080", cfg.Listen)
	assert.Equal(t, "America/Chicago", cfg.Timezone)
	assert.True(t, cfg.Catalog.Seed)
	assert.Equal(t, 15, cfg.Reminders.DefaultLeadMinutes)

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())
}

func TestLoadNormalizesPartialFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	body := `
listen: 0.0.0.0:9000
log:
  level: LOUD
catalog:
  files: [events.yaml]
  ics:
    - id: athletics
      url: https://example.edu/athletics.ics
      category: Sports
auth:
  min_password_length: 10
`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0:9000", cfg.Listen)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.False(t, cfg.Catalog.Seed)
	assert.Equal(t, []string{"events.yaml"}, cfg.Catalog.Files)
	require.Len(t, cfg.Catalog.ICS, 1)
	assert.Equal(t, "Sports", cfg.Catalog.ICS[0].Category)
	assert.Equal(t, 10, cfg.Auth.MinPasswordLength)
	assert.Equal(t, 5, cfg.Auth.MaxFailedAttempts)
	assert.Equal(t, "*/30 * * * *", cfg.Catalog.Refresh)
	assert.Equal(t, 120, cfg.Catalog.HorizonDays)
}

func TestSaveRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.BasicAuth = &BasicAuthConfig{Username: "admin", Password: "pw"}
	cfg.Reminders.WebhookURL = "http://127.0.0.1:9999/hook"
	require.NoError(t, cfg.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.NotNil(t, loaded.BasicAuth)
	assert.Equal(t, "admin", loaded.BasicAuth.Username)
	assert.Equal(t, "http://127.0.0.1:9999/hook", loaded.Reminders.WebhookURL)
}

func TestLoadRejectsEmptyPath(t *testing.T) {
	_, err := Load("")
	assert.Error(t, err)
}

func TestLocationAndFeedID(t *testing.T) {
	cfg := DefaultConfig()
	loc, err := cfg.Location()
	require.NoError(t, err)
	assert.Equal(t, "America/Chicago", loc.String())

	cfg.Timezone = "Mars/Olympus"
	_, err = cfg.Location()
	assert.Error(t, err)

	assert.Equal(t, "athletics", ICSFeed{ID: "athletics", Name: "Athletics", URL: "u"}.FeedID())
	assert.Equal(t, "Athletics", ICSFeed{Name: "Athletics", URL: "u"}.FeedID())
	assert.Equal(t, "u", ICSFeed{URL: "u"}.FeedID())
}
