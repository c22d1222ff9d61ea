package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalYAML = `
llm:
  api_key: sk-test
  model: gpt-4o-mini
database:
  target:
    driver: postgres
    dsn: postgres://reader@localhost:5432/analytics
jwt:
  secret: s3cret
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "postgres", cfg.Database.Target.Driver)
	assert.Equal(t, "public", cfg.Database.Target.Schema)
	assert.Equal(t, 10, cfg.Snapshot.SampleRows)
	assert.Equal(t, "local", cfg.Snapshot.Backend)
	assert.Equal(t, 10, cfg.Conversation.HistoryWindow)
	assert.Equal(t, 24*time.Hour, cfg.Router.CacheTTL)
	assert.Equal(t, 100, cfg.LLM.Classify.MaxTokens)
	assert.Equal(t, DefaultInstructions, cfg.LLM.Prompt.Instructions)
	assert.False(t, cfg.UsesRedis())
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("DBCHAT_LLM_MODEL", "local-model")
	t.Setenv("DBCHAT_CONVERSATION_BACKEND", "redis")

	cfg, err := Load(writeConfig(t, minimalYAML))
	require.NoError(t, err)
	assert.Equal(t, "local-model", cfg.LLM.Model)
	assert.True(t, cfg.UsesRedis())
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	_, err := Load(writeConfig(t, `
database:
  target:
    driver: sqlite
snapshot:
  backend: s3
`))
	require.Error(t, err)
	for _, want := range []string{"llm.api_key", "llm.model", "database.target.driver", "database.target.dsn", "snapshot.backend", "jwt.secret"} {
		assert.Contains(t, err.Error(), want)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
