package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	for _, k := range []string{"DATABASE_URL", "SYNC_CRON", "BOT_JOIN_LEAD", "RECORDING_ARCHIVE_ENABLED", "BOT_WEBHOOK_BASE_URL"} {
		t.Setenv(k, "")
	}
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "@every 5m", cfg.Scheduler.SyncSpec)
	assert.Equal(t, "@every 2m", cfg.Scheduler.PollSpec)
	assert.Equal(t, "@every 15s", cfg.Scheduler.WakeupSpec)
	assert.Equal(t, 60*time.Second, cfg.Scheduler.JoinLead)
	assert.Equal(t, 24*time.Hour, cfg.Scheduler.SyncHorizon)
	assert.Equal(t, 100000, cfg.LLM.MaxTranscriptChars)
	assert.False(t, cfg.AWS.ArchiveEnabled)
	assert.Empty(t, cfg.BotVendor.WebhookURL())
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("BOT_JOIN_LEAD", "90")
	t.Setenv("SYNC_HORIZON", "12h")
	t.Setenv("BOT_WEBHOOK_BASE_URL", "https://bots.example.com/")
	t.Setenv("EMBED_WORKER", "false")
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 90*time.Second, cfg.Scheduler.JoinLead)
	assert.Equal(t, 12*time.Hour, cfg.Scheduler.SyncHorizon)
	assert.Equal(t, "https://bots.example.com/webhooks/meeting-bot", cfg.BotVendor.WebhookURL())
	assert.False(t, cfg.Server.EmbedWorker)
}

func TestLoad_ArchiveNeedsBucket(t *testing.T) {
	t.Setenv("RECORDING_ARCHIVE_ENABLED", "true")
	t.Setenv("AWS_S3_RECORDINGS_BUCKET", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "u", Password: "p", DBName: "meetbot", SSLMode: "disable"}
	assert.Equal(t, "postgres://u:p@db:5432/meetbot?sslmode=disable", c.DSN())
	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
