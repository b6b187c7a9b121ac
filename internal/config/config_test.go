package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bainianlaoyao/stream-note/internal/llm"
)

var envKeys = []string{
	"STREAM_NOTE_CONFIG", "STREAM_NOTE_DB",
	"SILENT_ANALYSIS_ENABLED", "SILENT_ANALYSIS_IDLE_SECONDS", "SILENT_ANALYSIS_POLL_SECONDS",
	"SILENT_ANALYSIS_BATCH_SIZE", "SILENT_ANALYSIS_MAX_RETRY", "SILENT_ANALYSIS_RETRY_BASE_SECONDS",
	"AI_PROVIDER", "OPENAI_API_BASE", "OPENAI_API_KEY", "OPENAI_MODEL", "OPENAI_TIMEOUT_SECONDS",
	"OPENAI_MAX_ATTEMPTS", "AI_DISABLE_THINKING", "AI_REQUESTS_PER_SECOND",
	"STREAM_NOTE_LOG_LEVEL", "STREAM_NOTE_LOG_FORMAT", "STREAM_NOTE_LOG_FILE", "STREAM_NOTE_METRICS_ADDR",
}

// clearEnv unsets every variable Load reads for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range envKeys {
		if v, ok := os.LookupEnv(k); ok {
			t.Setenv(k, v)
			os.Unsetenv(k)
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	q := cfg.Queue()
	assert.True(t, q.Enabled)
	assert.Equal(t, 6*time.Second, q.Idle)
	assert.Equal(t, 800*time.Millisecond, q.Poll)
	assert.Equal(t, 20, q.BatchSize)
	assert.Equal(t, 3, q.MaxRetry)
	assert.Equal(t, 4*time.Second, q.RetryBase)
	assert.Equal(t, 14*time.Minute+20*time.Second, q.Lease, "timeout x attempts x batch + 1m")

	s := cfg.LLM()
	assert.Equal(t, llm.ProviderOpenAICompatible, s.Provider)
	assert.Equal(t, 20*time.Second, s.Timeout)
	assert.Equal(t, 2, s.MaxAttempts)
	assert.True(t, s.DisableThinking)
}

func TestLoad_FileThenEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "stream-note.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
db_path: /tmp/notes.db
silent_analysis:
  batch_size: 5
  idle_seconds: 2
ai:
  provider: dashscope
  model: qwen-plus
log:
  level: debug
`), 0o644))

	t.Setenv("OPENAI_MODEL", "qwen-max")
	t.Setenv("SILENT_ANALYSIS_ENABLED", "off")
	t.Setenv("STREAM_NOTE_METRICS_ADDR", "127.0.0.1:9464")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/notes.db", cfg.DBPath)
	assert.Equal(t, 5, cfg.Analysis.BatchSize)
	assert.Equal(t, 2.0, cfg.Analysis.IdleSeconds)
	assert.Equal(t, 0.8, cfg.Analysis.PollSeconds, "unset keys keep defaults")
	assert.False(t, cfg.Analysis.Enabled)
	assert.Equal(t, llm.ProviderDashScope, cfg.AI.Provider)
	assert.Equal(t, "qwen-max", cfg.AI.Model)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "127.0.0.1:9464", cfg.Metrics.Addr)
}

func TestLoad_ConfigFromEnv(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "c.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ai:\n  model: from-file\n"), 0o644))
	t.Setenv("STREAM_NOTE_CONFIG", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "from-file", cfg.AI.Model)
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("silent_analysis: [1, 2"), 0o644))
	_, err = Load(bad)
	assert.Error(t, err)
}

func TestLoad_ClampsAndBadValues(t *testing.T) {
	clearEnv(t)
	t.Setenv("SILENT_ANALYSIS_IDLE_SECONDS", "-3")
	t.Setenv("SILENT_ANALYSIS_POLL_SECONDS", "0.01")
	t.Setenv("SILENT_ANALYSIS_BATCH_SIZE", "0")
	t.Setenv("SILENT_ANALYSIS_MAX_RETRY", "abc")
	t.Setenv("SILENT_ANALYSIS_RETRY_BASE_SECONDS", "0")
	t.Setenv("OPENAI_MAX_ATTEMPTS", "-1")
	t.Setenv("OPENAI_TIMEOUT_SECONDS", "0")
	t.Setenv("AI_DISABLE_THINKING", "maybe")
	t.Setenv("AI_PROVIDER", "something-else")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 0.0, cfg.Analysis.IdleSeconds)
	assert.Equal(t, 0.1, cfg.Analysis.PollSeconds)
	assert.Equal(t, 1, cfg.Analysis.BatchSize)
	assert.Equal(t, 3, cfg.Analysis.MaxRetry, "unparseable keeps the default")
	assert.Equal(t, 0.2, cfg.Analysis.RetryBaseSeconds)
	assert.Equal(t, 1, cfg.AI.MaxAttempts)
	assert.Equal(t, 20.0, cfg.AI.TimeoutSeconds)
	assert.True(t, cfg.AI.DisableThinking)
	assert.Equal(t, llm.ProviderOpenAICompatible, cfg.AI.Provider)
}

func TestLoad_AnalysisEnabledNeedsTruthyValue(t *testing.T) {
	for v, want := range map[string]bool{"1": true, " Yes ": true, "on": true, "maybe": false, "": false, "0": false} {
		clearEnv(t)
		t.Setenv("SILENT_ANALYSIS_ENABLED", v)
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, want, cfg.Analysis.Enabled, "SILENT_ANALYSIS_ENABLED=%q", v)
	}
}

func TestParseBool(t *testing.T) {
	for _, v := range []string{"1", "true", "YES", " on "} {
		b, ok := parseBool(v)
		assert.True(t, ok, v)
		assert.True(t, b, v)
	}
	for _, v := range []string{"0", "false", "No", "off"} {
		b, ok := parseBool(v)
		assert.True(t, ok, v)
		assert.False(t, b, v)
	}
	_, ok := parseBool("")
	assert.False(t, ok)
}
