package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Setenv(TokenEnv, "")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	require.NoError(t, err)
	assert.Equal(t, DefaultHTTPAddr, cfg.Server.Addr)
	assert.Equal(t, DefaultStorePath, cfg.Store.Path)
	assert.Equal(t, 20*time.Second, cfg.Modmail.ConfirmTimeoutDuration())
	assert.Zero(t, cfg.Modmail.IdleTimeout())
	assert.Equal(t, int64(25*1024*1024), cfg.Sticker.MaxBytes())
}

func TestLoadDecodesFileAndEnvOverride(t *testing.T) {
	t.Setenv(TokenEnv, "env-token")

	path := writeConfig(t, `
[log]
level = "debug"
format = "json"

[discord]
token = "file-token"
guild_id = "123456789"
log_channel_id = "987654321"

[modmail]
thread_auto_close = "12h"
staff_color = 0x00FF00
staff_tag = "Moderator"
history_limit = 50
blocked_users = ["111", "222"]

[schedule]
retention_days = 30
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "env-token", cfg.Discord.Token)
	assert.Equal(t, "123456789", cfg.Discord.GuildID)
	assert.Equal(t, 12*time.Hour, cfg.Modmail.IdleTimeout())
	assert.Equal(t, 0x00FF00, cfg.Modmail.StaffColor)
	assert.Equal(t, 0x808080, cfg.Modmail.RecipientColor)
	assert.Equal(t, "Moderator", cfg.Modmail.StaffTag)
	assert.Equal(t, 50, cfg.Modmail.HistoryLimit)
	assert.Equal(t, []string{"111", "222"}, cfg.Modmail.BlockedUsers)
	assert.Equal(t, 30*24*time.Hour, cfg.Schedule.RetentionPeriod())
	require.NoError(t, cfg.Validate())
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	t.Setenv(TokenEnv, "")

	_, err := Load(writeConfig(t, "[discord\ntoken = "))
	require.Error(t, err)
}

func TestValidate(t *testing.T) {
	t.Parallel()

	valid := func() Config {
		cfg := Default()
		cfg.Discord.Token = "token"
		cfg.Discord.GuildID = "123"
		return cfg
	}
	require.NoError(t, valid().Validate())

	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{name: "missing token", mutate: func(c *Config) { c.Discord.Token = "" }, field: "Token"},
		{name: "bad guild id", mutate: func(c *Config) { c.Discord.GuildID = "abc" }, field: "GuildID"},
		{name: "bad duration", mutate: func(c *Config) { c.Modmail.ThreadAutoClose = "soon" }, field: "ThreadAutoClose"},
		{name: "bad level", mutate: func(c *Config) { c.Log.Level = "loud" }, field: "Level"},
		{name: "bad color", mutate: func(c *Config) { c.Modmail.NoteColor = 0x1000000 }, field: "NoteColor"},
		{name: "bad blocked id", mutate: func(c *Config) { c.Modmail.BlockedUsers = []string{"x"} }, field: "BlockedUsers"},
		{name: "history too deep", mutate: func(c *Config) { c.Modmail.HistoryLimit = 5000 }, field: "HistoryLimit"},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			if !strings.Contains(err.Error(), tt.field) {
				t.Fatalf("expected error to name %s, got %v", tt.field, err)
			}
		})
	}
}

func TestParseDuration(t *testing.T) {
	t.Parallel()

	assert.Zero(t, parseDuration(""))
	assert.Zero(t, parseDuration("0"))
	assert.Zero(t, parseDuration("-5m"))
	assert.Equal(t, 90*time.Second, parseDuration("1m30s"))
}
